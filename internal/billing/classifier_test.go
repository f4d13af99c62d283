package billing

import (
	"testing"

	"github.com/arcfield/agentbridge/internal/domain"
)

func completedSnap(sessionID string, files ...domain.FileOutput) Snapshot {
	return Snapshot{SessionID: sessionID, Files: files, Completed: true}
}

func TestClassify_SDKDeclarationSuppressesHeuristics(t *testing.T) {
	snap := completedSnap("sess-1", domain.FileOutput{Name: "competitor-report.html", Size: 50000, Format: "html"})
	snap.SDKEvents = []domain.SDKBillingEvent{
		{DeclaredType: domain.FeatureIdeation, Action: "complete"},
	}

	claims := Classify(snap)
	if len(claims) != 1 {
		t.Fatalf("Expected single SDK claim, got %d", len(claims))
	}
	c := claims[0]
	if c.Type != domain.FeatureIdeation {
		t.Errorf("Expected declared type, got %s", c.Type)
	}
	if c.Source != domain.ClaimSourceSDK {
		t.Errorf("Expected sdk source, got %s", c.Source)
	}
	if c.Confidence != 1.0 {
		t.Errorf("Expected full confidence, got %v", c.Confidence)
	}
	if c.Metadata["sdkDeclared"] != true {
		t.Errorf("Expected sdkDeclared marker, got %v", c.Metadata)
	}
}

func TestClassify_SDKFirstCompleteWins(t *testing.T) {
	snap := completedSnap("sess-1")
	snap.SDKEvents = []domain.SDKBillingEvent{
		{DeclaredType: "started", Action: "start"},
		{DeclaredType: domain.FeatureResearch, Action: "complete"},
		{DeclaredType: domain.FeatureIdeation, Action: "complete"},
	}

	claims := Classify(snap)
	if len(claims) != 1 {
		t.Fatalf("Expected one claim, got %d", len(claims))
	}
	if claims[0].Type != domain.FeatureResearch {
		t.Errorf("Expected first complete event to win, got %s", claims[0].Type)
	}
}

func TestClassify_FileKeywords(t *testing.T) {
	cases := []struct {
		name        string
		file        domain.FileOutput
		wantFeature string
		wantSource  domain.ClaimSource
	}{
		{"research by name", domain.FileOutput{Name: "market-analysis.html", Size: 2048, Format: "html"}, domain.FeatureResearch, domain.ClaimSourceFileOutput},
		{"research by type", domain.FileOutput{Type: "competitor_report", Name: "out.html", Size: 2048, Format: "html"}, domain.FeatureResearch, domain.ClaimSourceFileOutput},
		{"ideation by name", domain.FileOutput{Name: "content-calendar.html", Size: 2048, Format: "html"}, domain.FeatureIdeation, domain.ClaimSourceFileOutput},
		{"csv fallback", domain.FileOutput{Name: "export.csv", Size: 100, Format: "csv"}, domain.FeatureResearch, domain.ClaimSourceDetected},
		{"xlsx fallback", domain.FileOutput{Name: "sheet.xlsx", Size: 100, Format: "xlsx"}, domain.FeatureResearch, domain.ClaimSourceDetected},
		{"large html fallback", domain.FileOutput{Name: "untitled.html", Size: 20480, Format: "html"}, domain.FeatureResearch, domain.ClaimSourceDetected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := Classify(completedSnap("sess-1", tc.file))
			if len(claims) != 1 {
				t.Fatalf("Expected one claim, got %d", len(claims))
			}
			if claims[0].Type != tc.wantFeature {
				t.Errorf("Expected %s, got %s", tc.wantFeature, claims[0].Type)
			}
			if claims[0].Source != tc.wantSource {
				t.Errorf("Expected source %s, got %s", tc.wantSource, claims[0].Source)
			}
			if claims[0].Confidence != 0.9 {
				t.Errorf("Expected heuristic confidence, got %v", claims[0].Confidence)
			}
		})
	}
}

func TestClassify_ResearchKeywordsBeatIdeation(t *testing.T) {
	// "content-analysis" matches both lists; research is checked first.
	claims := Classify(completedSnap("sess-1",
		domain.FileOutput{Name: "content-analysis.html", Size: 2048, Format: "html"}))
	if len(claims) != 1 || claims[0].Type != domain.FeatureResearch {
		t.Errorf("Expected research to win keyword precedence, got %v", claims)
	}
}

func TestClassify_SmallUnmatchedHTMLIgnored(t *testing.T) {
	claims := Classify(completedSnap("sess-1",
		domain.FileOutput{Name: "untitled.html", Size: 512, Format: "html"}))
	if len(claims) != 0 {
		t.Errorf("Expected small boilerplate html ignored, got %v", claims)
	}
}

func TestClassify_ZeroSizeFilesProduceNothing(t *testing.T) {
	claims := Classify(completedSnap("sess-1",
		domain.FileOutput{Name: "market-report.html", Size: 0, Format: "html"},
		domain.FileOutput{Name: "analysis.csv", Size: 0, Format: "csv"}))
	if len(claims) != 0 {
		t.Errorf("Expected zero-size outputs to produce no claim, got %v", claims)
	}
}

func TestClassify_FailedSessionWithoutFiles(t *testing.T) {
	snap := Snapshot{
		SessionID: "sess-1",
		Failed:    true,
		SDKEvents: []domain.SDKBillingEvent{{DeclaredType: domain.FeatureResearch, Action: "complete"}},
	}
	if claims := Classify(snap); len(claims) != 0 {
		t.Errorf("Expected no claims for failed session without files, got %v", claims)
	}
}

func TestClassify_FailedSessionWithFilesStillBills(t *testing.T) {
	snap := Snapshot{
		SessionID: "sess-1",
		Failed:    true,
		Files:     []domain.FileOutput{{Name: "partial-report.html", Size: 30000, Format: "html"}},
	}
	claims := Classify(snap)
	if len(claims) != 1 {
		t.Fatalf("Expected delivered work billed despite failure, got %d claims", len(claims))
	}
}

func TestClassify_AutoPostingAndMonitorsIndependent(t *testing.T) {
	snap := completedSnap("sess-1",
		domain.FileOutput{Name: "competitor-research.html", Size: 30000, Format: "html"})
	snap.Posts = []domain.ScheduledPost{
		{Platform: "reddit", PostID: "p1"},
		{Platform: "reddit", PostID: "p2"},
		{Platform: "linkedin", PostID: "p3"},
	}
	snap.Monitors = []domain.MonitorEvent{
		{Action: "created", MonitorID: "m1"},
		{Action: "deleted", MonitorID: "m2"},
	}

	claims := Classify(snap)
	if len(claims) != 3 {
		t.Fatalf("Expected file + posting + monitor claims, got %d", len(claims))
	}

	byType := map[string]domain.BillingClaim{}
	for _, c := range claims {
		byType[c.Type] = c
	}

	posting, ok := byType[domain.FeatureAutoPosting]
	if !ok {
		t.Fatal("Expected auto_posting claim")
	}
	platforms, _ := posting.Metadata["platforms"].([]string)
	if len(platforms) != 2 {
		t.Errorf("Expected distinct platforms, got %v", platforms)
	}

	monitors, ok := byType[domain.FeatureMonitors]
	if !ok {
		t.Fatal("Expected monitors claim")
	}
	created, _ := monitors.Metadata["monitors"].([]domain.MonitorEvent)
	if len(created) != 1 {
		t.Errorf("Expected only created monitors counted, got %v", created)
	}
}

func TestClassify_MonitorsOnlyDeleted(t *testing.T) {
	snap := completedSnap("sess-1")
	snap.Monitors = []domain.MonitorEvent{{Action: "deleted", MonitorID: "m1"}}
	if claims := Classify(snap); len(claims) != 0 {
		t.Errorf("Expected deletions alone to bill nothing, got %v", claims)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	snap := completedSnap("sess-1",
		domain.FileOutput{Name: "market-report.html", Size: 30000, Format: "html"})

	first := Classify(snap)
	second := Classify(snap)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Expected one claim per run, got %d and %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Errorf("Expected deterministic claim id, got %s and %s", first[0].ID, second[0].ID)
	}

	other := Classify(completedSnap("sess-2",
		domain.FileOutput{Name: "market-report.html", Size: 30000, Format: "html"}))
	if other[0].ID == first[0].ID {
		t.Error("Expected claim ids to differ across sessions")
	}
}

func TestPrimaryClaim(t *testing.T) {
	if PrimaryClaim(nil) != nil {
		t.Error("Expected nil for empty claims")
	}

	claims := []domain.BillingClaim{
		{Type: domain.FeatureResearch, Confidence: 0.9},
		{Type: domain.FeatureAutoPosting, Confidence: 1.0},
		{Type: domain.FeatureMonitors, Confidence: 1.0},
	}
	primary := PrimaryClaim(claims)
	if primary.Type != domain.FeatureAutoPosting {
		t.Errorf("Expected highest confidence with stable order, got %s", primary.Type)
	}
}
