package tokens

import "testing"

func TestEstimator_Count(t *testing.T) {
	e, err := NewEstimator()
	if err != nil {
		t.Fatalf("NewEstimator returned error: %v", err)
	}

	if got := e.Count(""); got != 0 {
		t.Errorf("Expected 0 for empty text, got %d", got)
	}

	short := e.Count("hello")
	long := e.Count("## Competitor Analysis\n\nThe market splits into three segments with distinct pricing behavior.")
	if short <= 0 {
		t.Errorf("Expected positive count, got %d", short)
	}
	if long <= short {
		t.Errorf("Expected longer text to count more tokens: %d vs %d", long, short)
	}
}
