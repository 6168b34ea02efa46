package enhance

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ramp/internal/pipeline"
	"ramp/internal/queue"
	"ramp/internal/services"
	"ramp/internal/stage"
)

func newRegistry(t *testing.T) *stage.Registry {
	t.Helper()
	reg := stage.NewRegistry()
	if err := Register(reg, Options{DefaultLanguage: "en"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg.Seal()
	return reg
}

func TestRegisterCoversEveryPlannedStage(t *testing.T) {
	reg := newRegistry(t)
	for _, kind := range queue.AllKinds() {
		plan, err := stage.PlanFor(kind)
		if err != nil {
			t.Fatalf("PlanFor(%s): %v", kind, err)
		}
		for _, id := range plan {
			if _, err := reg.Resolve(id); err != nil {
				t.Fatalf("no handler for %s stage %s: %v", kind, id, err)
			}
		}
	}
}

func TestArtifactDerivationIsDeterministic(t *testing.T) {
	reg := newRegistry(t)
	handler, err := reg.Resolve(stage.Captioning)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	item := &queue.Item{
		Kind:      queue.KindVideo,
		SourceURL: "https://cdn.example.com/media/lecture.mp4?token=abc",
	}
	first, err := handler.Execute(context.Background(), stage.Request{Item: item})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := handler.Execute(context.Background(), stage.Request{Item: item})
	if err != nil {
		t.Fatalf("Execute again: %v", err)
	}
	if first.PayloadURI != second.PayloadURI {
		t.Fatalf("artifact not stable: %q vs %q", first.PayloadURI, second.PayloadURI)
	}
	if first.PayloadURI != "https://cdn.example.com/media/lecture.mp4.captions.vtt" {
		t.Fatalf("artifact = %q", first.PayloadURI)
	}
}

func TestAnalyzerFallsBackToDefaultLanguage(t *testing.T) {
	reg := newRegistry(t)
	handler, err := reg.Resolve(stage.Analysis)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	res, err := handler.Execute(context.Background(), stage.Request{
		Item: &queue.Item{Kind: queue.KindAudio, SourceURL: "https://cdn.example.com/talk.mp3"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.PayloadText, "language=en") {
		t.Fatalf("payload = %q", res.PayloadText)
	}
}

func TestHandlersRejectUnusableSource(t *testing.T) {
	reg := newRegistry(t)
	handler, err := reg.Resolve(stage.Transcription)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	_, err = handler.Execute(context.Background(), stage.Request{
		Item: &queue.Item{Kind: queue.KindAudio, SourceURL: "not a url at all"},
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestComplianceRequiresFullTrail(t *testing.T) {
	reg := newRegistry(t)
	handler, err := reg.Resolve(stage.Compliance)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	item := &queue.Item{Kind: queue.KindImage, SourceURL: "https://cdn.example.com/figure.png"}
	_, err = handler.Execute(context.Background(), stage.Request{Item: item, Prior: nil})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error without trail, got %v", err)
	}

	prior := map[string]queue.StageResult{
		stage.Analysis: {Stage: stage.Analysis, Outcome: queue.OutcomeSuccess},
		stage.AltText:  {Stage: stage.AltText, Outcome: queue.OutcomeSuccess},
	}
	res, err := handler.Execute(context.Background(), stage.Request{
		Item:      item,
		Prior:     prior,
		Standards: []string{"WCAG2.2-AA", "EN301549"},
	})
	if err != nil {
		t.Fatalf("Execute with trail: %v", err)
	}
	if !strings.Contains(res.PayloadText, "WCAG2.2-AA") || !strings.Contains(res.PayloadText, "EN301549") {
		t.Fatalf("payload = %q", res.PayloadText)
	}
}

// End-to-end through the engine: the built-in handlers must carry a document
// item through every stage of its plan.
func TestBuiltinHandlersCompleteDocument(t *testing.T) {
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	engine := pipeline.New(store, newRegistry(t), nil, pipeline.Config{
		MaxAttempts:       3,
		StageTimeout:      5 * time.Second,
		RetryBackoff:      time.Millisecond,
		RetryBackoffMax:   time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	})

	item, err := store.CreateItem(context.Background(), queue.NewItem{
		Kind:      queue.KindDocument,
		SourceURL: "https://cdn.example.com/reports/annual.pdf",
		Language:  "en",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if final.State != queue.StateCompleted {
		t.Fatalf("state = %s, want completed", final.State)
	}
	if got := final.Results[stage.Conversion].PayloadURI; got != "https://cdn.example.com/reports/annual.pdf.accessible.html" {
		t.Fatalf("conversion artifact = %q", got)
	}
	if got := final.Results[stage.SpeechSynthesis].PayloadURI; got != "https://cdn.example.com/reports/annual.pdf.speech.mp3" {
		t.Fatalf("speech artifact = %q", got)
	}
}
