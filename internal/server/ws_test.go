package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHandleWebsocket_StreamsEvents(t *testing.T) {
	upstream := sseAgent(t, `{"state":"working","step":"searching"}`, `{"state":"completed","result":"done"}`)
	defer upstream.Close()

	srv, b, _ := newTestServer(t, upstream.URL)
	front := httptest.NewServer(srv.Handler())
	defer front.Close()

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/v1/sessions/sess-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial returned error: %v", err)
	}
	defer conn.Close()

	go b.Forward(context.Background(), "sess-1", map[string]any{"text": "go"})

	var types []string
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev map[string]any
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON returned error: %v (got %v so far)", err, types)
		}
		tag, _ := ev["type"].(string)
		types = append(types, tag)
		if tag == "done" {
			break
		}
	}

	want := []string{"progress", "content", "done"}
	if len(types) != len(want) {
		t.Fatalf("Expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestHandleWebsocket_UnknownSession(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	front := httptest.NewServer(srv.Handler())
	defer front.Close()

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/v1/sessions/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Expected dial to fail for unknown session")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Errorf("Expected 404 handshake response, got %v", resp)
	}
}
