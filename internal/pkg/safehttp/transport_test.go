package safehttp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_RejectsLoopback(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guarded client must never reach a loopback server")
	}))
	defer upstream.Close()

	_, err := Client().Get(upstream.URL)
	if err == nil {
		t.Fatal("Expected loopback dial rejected")
	}
	if !strings.Contains(err.Error(), "denied") {
		t.Errorf("Expected denial error, got %v", err)
	}
}
