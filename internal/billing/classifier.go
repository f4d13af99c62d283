package billing

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcfield/agentbridge/internal/domain"
)

// Confidence levels by signal strength.
const (
	confidenceDeclared  = 1.0
	confidenceHeuristic = 0.9
)

// minHTMLReportSize is the floor below which an HTML file is treated as
// boilerplate rather than a deliverable report.
const minHTMLReportSize = 10 * 1024

var researchKeywords = []string{
	"report", "analysis", "research", "insight", "data", "competitor", "market",
}

var ideationKeywords = []string{
	"content", "ideas", "calendar", "post", "suggestion", "creative", "draft",
}

// Classify derives billing claims from a session snapshot. It is a pure
// function: the same snapshot always yields the same claims, so retrying a
// terminal notification cannot double-bill.
//
// Signals are evaluated in priority order. An SDK declaration is
// authoritative and suppresses everything else, including repeated
// declarations from the same upstream: only the first complete event
// produces a claim, which is what defeats agents that replay their own
// completion. Implausible claims are recorded as-is; adjudication belongs
// to the downstream audit, not here.
func Classify(snap Snapshot) []domain.BillingClaim {
	if snap.Failed && len(snap.Files) == 0 {
		return nil
	}

	if claim, ok := sdkClaim(snap); ok {
		return []domain.BillingClaim{claim}
	}

	var claims []domain.BillingClaim
	if claim, ok := fileOutputClaim(snap); ok {
		claims = append(claims, claim)
	}
	if claim, ok := autoPostingClaim(snap); ok {
		claims = append(claims, claim)
	}
	if claim, ok := monitorsClaim(snap); ok {
		claims = append(claims, claim)
	}
	return claims
}

// PrimaryClaim picks the claim to charge: highest confidence first, ties
// resolved by production order.
func PrimaryClaim(claims []domain.BillingClaim) *domain.BillingClaim {
	if len(claims) == 0 {
		return nil
	}
	sorted := append([]domain.BillingClaim(nil), claims...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	return &sorted[0]
}

func sdkClaim(snap Snapshot) (domain.BillingClaim, bool) {
	for _, ev := range snap.SDKEvents {
		if ev.Action != "complete" {
			continue
		}
		meta := map[string]any{
			"sdkDeclared": true,
			"action":      ev.Action,
		}
		if ev.Metadata != nil {
			meta["declared"] = ev.Metadata
		}
		if snap.ContentTokens > 0 {
			meta["content_tokens"] = snap.ContentTokens
		}
		return newClaim(snap.SessionID, ev.DeclaredType, domain.ClaimSourceSDK, confidenceDeclared, meta), true
	}
	return domain.BillingClaim{}, false
}

func fileOutputClaim(snap Snapshot) (domain.BillingClaim, bool) {
	if len(snap.Files) == 0 || totalSize(snap.Files) == 0 {
		return domain.BillingClaim{}, false
	}

	for _, f := range snap.Files {
		feature, source, matched := classifyFile(f)
		if !matched {
			continue
		}
		meta := map[string]any{
			"matched": map[string]any{
				"name":   f.Name,
				"type":   f.Type,
				"size":   f.Size,
				"format": f.Format,
			},
			"files": fileAudit(snap.Files),
		}
		if snap.ContentTokens > 0 {
			meta["content_tokens"] = snap.ContentTokens
		}
		return newClaim(snap.SessionID, feature, source, confidenceHeuristic, meta), true
	}
	return domain.BillingClaim{}, false
}

// classifyFile applies the keyword heuristics, then the format fallback.
func classifyFile(f domain.FileOutput) (feature string, source domain.ClaimSource, ok bool) {
	haystack := strings.ToLower(f.Type + " " + f.Name)

	for _, kw := range researchKeywords {
		if strings.Contains(haystack, kw) {
			return domain.FeatureResearch, domain.ClaimSourceFileOutput, true
		}
	}
	for _, kw := range ideationKeywords {
		if strings.Contains(haystack, kw) {
			return domain.FeatureIdeation, domain.ClaimSourceFileOutput, true
		}
	}

	switch strings.ToLower(f.Format) {
	case "csv", "xlsx":
		return domain.FeatureResearch, domain.ClaimSourceDetected, true
	case "html":
		if f.Size >= minHTMLReportSize {
			return domain.FeatureResearch, domain.ClaimSourceDetected, true
		}
	}
	return "", "", false
}

func autoPostingClaim(snap Snapshot) (domain.BillingClaim, bool) {
	if len(snap.Posts) == 0 {
		return domain.BillingClaim{}, false
	}

	platforms := make([]string, 0, len(snap.Posts))
	seen := make(map[string]struct{})
	for _, p := range snap.Posts {
		if p.Platform == "" {
			continue
		}
		if _, dup := seen[p.Platform]; dup {
			continue
		}
		seen[p.Platform] = struct{}{}
		platforms = append(platforms, p.Platform)
	}

	meta := map[string]any{
		"platforms": platforms,
		"posts":     snap.Posts,
	}
	return newClaim(snap.SessionID, domain.FeatureAutoPosting, domain.ClaimSourceScheduledPost, confidenceDeclared, meta), true
}

func monitorsClaim(snap Snapshot) (domain.BillingClaim, bool) {
	var created []domain.MonitorEvent
	for _, m := range snap.Monitors {
		if m.Action == "created" {
			created = append(created, m)
		}
	}
	if len(created) == 0 {
		return domain.BillingClaim{}, false
	}

	meta := map[string]any{"monitors": created}
	return newClaim(snap.SessionID, domain.FeatureMonitors, domain.ClaimSourceMonitorEvent, confidenceDeclared, meta), true
}

func newClaim(sessionID, feature string, source domain.ClaimSource, confidence float64, meta map[string]any) domain.BillingClaim {
	// Claim ids are content-derived so re-classification of the same
	// session yields identical claims.
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID+"/"+feature+"/"+string(source)))
	return domain.BillingClaim{
		ID:         id.String(),
		SessionID:  sessionID,
		Type:       feature,
		Source:     source,
		Confidence: confidence,
		Metadata:   meta,
		CreatedAt:  time.Now().UTC(),
	}
}

func totalSize(files []domain.FileOutput) int64 {
	var n int64
	for _, f := range files {
		n += f.Size
	}
	return n
}

func fileAudit(files []domain.FileOutput) []map[string]any {
	out := make([]map[string]any, 0, len(files))
	for _, f := range files {
		out = append(out, map[string]any{
			"name": f.Name,
			"type": f.Type,
			"size": f.Size,
		})
	}
	return out
}
