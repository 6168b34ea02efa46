package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ramp/internal/queue"
	"ramp/internal/services"
	"ramp/internal/stage"
)

func newTestStore(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func testConfig() Config {
	return Config{
		MaxAttempts:       3,
		StageTimeout:      5 * time.Second,
		RetryBackoff:      time.Millisecond,
		RetryBackoffMax:   4 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	}
}

func succeedWith(uri string) stage.Handler {
	return stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		return stage.Result{PayloadURI: uri}, nil
	})
}

func failWith(err error) stage.Handler {
	return stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		return stage.Result{}, err
	})
}

// imageRegistry registers handlers for the image plan (analysis, alt_text,
// compliance), with optional overrides per stage.
func imageRegistry(t *testing.T, overrides map[string]stage.Handler) *stage.Registry {
	t.Helper()
	reg := stage.NewRegistry()
	for _, id := range []string{stage.Analysis, stage.AltText, stage.Compliance} {
		handler, ok := overrides[id]
		if !ok {
			handler = succeedWith("memory://" + id)
		}
		if handler == nil {
			continue
		}
		if err := reg.Register(id, handler); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	reg.Seal()
	return reg
}

func createImageItem(t *testing.T, store *queue.Store, batchID string) *queue.Item {
	t.Helper()
	item, err := store.CreateItem(context.Background(), queue.NewItem{
		Kind:      queue.KindImage,
		SourceURL: "https://cdn.example.com/figure.png",
		Language:  "en",
		BatchID:   batchID,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item
}

func TestAdvanceCompletesAllStages(t *testing.T) {
	store := newTestStore(t)
	engine := New(store, imageRegistry(t, nil), nil, testConfig())
	item := createImageItem(t, store, "")

	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if final.State != queue.StateCompleted {
		t.Fatalf("state = %s, want completed", final.State)
	}
	if len(final.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(final.Results))
	}
	for _, id := range []string{stage.Analysis, stage.AltText, stage.Compliance} {
		res, ok := final.Results[id]
		if !ok {
			t.Fatalf("missing result for %s", id)
		}
		if res.Outcome != queue.OutcomeSuccess {
			t.Fatalf("%s outcome = %s", id, res.Outcome)
		}
		if res.Attempts != 1 {
			t.Fatalf("%s attempts = %d, want 1", id, res.Attempts)
		}
		if res.PayloadURI != "memory://"+id {
			t.Fatalf("%s payload = %q", id, res.PayloadURI)
		}
	}

	persisted, err := store.GetItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if persisted.State != queue.StateCompleted {
		t.Fatalf("persisted state = %s", persisted.State)
	}
	if persisted.LastHeartbeat != nil {
		t.Fatal("terminal item should have no heartbeat")
	}
}

func TestAdvanceValidationFailureFailsItem(t *testing.T) {
	store := newTestStore(t)
	vErr := services.Wrap(services.ErrValidation, stage.AltText, "invoke", "image is zero bytes", nil)
	engine := New(store, imageRegistry(t, map[string]stage.Handler{
		stage.AltText: failWith(vErr),
	}), nil, testConfig())
	item := createImageItem(t, store, "")

	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if final.State != queue.StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if final.ErrorMessage == "" {
		t.Fatal("error message should be recorded")
	}
	res := final.Results[stage.AltText]
	if res.Outcome != queue.OutcomeFailure || res.ErrorKind != string(services.KindValidation) {
		t.Fatalf("alt_text result = %+v", res)
	}
	if prior := final.Results[stage.Analysis]; prior.Outcome != queue.OutcomeSuccess {
		t.Fatalf("analysis result should be preserved, got %+v", prior)
	}
}

func TestAdvancePermanentFailureFlagsReview(t *testing.T) {
	store := newTestStore(t)
	pErr := services.Wrap(services.ErrPermanent, stage.Compliance, "invoke", "unsupported codec", nil)
	engine := New(store, imageRegistry(t, map[string]stage.Handler{
		stage.Compliance: failWith(pErr),
	}), nil, testConfig())
	item := createImageItem(t, store, "")

	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if final.State != queue.StateReview {
		t.Fatalf("state = %s, want review", final.State)
	}
	res := final.Results[stage.Compliance]
	if res.ErrorKind != string(services.KindPermanent) {
		t.Fatalf("compliance result = %+v", res)
	}
}

func TestAdvanceTransientRetriesExactlyMaxAttempts(t *testing.T) {
	store := newTestStore(t)
	var calls int
	flaky := stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		calls++
		return stage.Result{}, services.Wrap(services.ErrTransient, stage.AltText, "invoke", "service unreachable", nil)
	})
	cfg := testConfig()
	cfg.MaxAttempts = 2
	engine := New(store, imageRegistry(t, map[string]stage.Handler{stage.AltText: flaky}), nil, cfg)
	item := createImageItem(t, store, "")

	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if final.State != queue.StateReview {
		t.Fatalf("state = %s, want review", final.State)
	}
	if calls != 2 {
		t.Fatalf("handler calls = %d, want exactly 2", calls)
	}
	res := final.Results[stage.AltText]
	if res.Attempts != 2 {
		t.Fatalf("recorded attempts = %d, want 2", res.Attempts)
	}
}

func TestAdvanceTransientThenSuccess(t *testing.T) {
	store := newTestStore(t)
	var calls int
	recovering := stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		calls++
		if calls == 1 {
			return stage.Result{}, services.Wrap(services.ErrTransient, stage.Analysis, "invoke", "connection reset", nil)
		}
		return stage.Result{PayloadURI: "memory://analysis"}, nil
	})
	engine := New(store, imageRegistry(t, map[string]stage.Handler{stage.Analysis: recovering}), nil, testConfig())
	item := createImageItem(t, store, "")

	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if final.State != queue.StateCompleted {
		t.Fatalf("state = %s, want completed", final.State)
	}
	if calls != 2 {
		t.Fatalf("handler calls = %d, want 2", calls)
	}
	if res := final.Results[stage.Analysis]; res.Outcome != queue.OutcomeSuccess || res.Attempts != 2 {
		t.Fatalf("analysis result = %+v", res)
	}
}

func TestAdvanceStageTimeoutCountsAsTransient(t *testing.T) {
	store := newTestStore(t)
	slow := stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		<-ctx.Done()
		return stage.Result{}, ctx.Err()
	})
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.StageTimeout = 20 * time.Millisecond
	engine := New(store, imageRegistry(t, map[string]stage.Handler{stage.Analysis: slow}), nil, cfg)
	item := createImageItem(t, store, "")

	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if final.State != queue.StateReview {
		t.Fatalf("state = %s, want review", final.State)
	}
	if res := final.Results[stage.Analysis]; res.ErrorKind != string(services.KindTransient) {
		t.Fatalf("analysis result = %+v", res)
	}
}

func TestAdvanceMissingHandlerFlagsReview(t *testing.T) {
	store := newTestStore(t)
	engine := New(store, imageRegistry(t, map[string]stage.Handler{
		stage.Compliance: nil,
	}), nil, testConfig())
	item := createImageItem(t, store, "")

	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if final.State != queue.StateReview {
		t.Fatalf("state = %s, want review", final.State)
	}
	if res := final.Results[stage.Compliance]; res.ErrorKind != string(services.KindNotFound) {
		t.Fatalf("compliance result = %+v", res)
	}
}

func TestAdvanceStaleSnapshotConflicts(t *testing.T) {
	store := newTestStore(t)
	engine := New(store, imageRegistry(t, nil), nil, testConfig())
	item := createImageItem(t, store, "")

	stale, err := store.GetItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if _, err := engine.Advance(context.Background(), item); err != nil {
		t.Fatalf("first Advance: %v", err)
	}

	_, err = engine.Advance(context.Background(), stale)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on stale snapshot, got %v", err)
	}
}

func TestAdvanceCancelledMidStageStopsQuietly(t *testing.T) {
	store := newTestStore(t)
	item := createImageItem(t, store, "")

	cancelling := stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		cancelled, err := store.CancelItem(ctx, item.ID)
		if err != nil {
			t.Errorf("CancelItem: %v", err)
		}
		if !cancelled {
			t.Error("expected cancel to apply")
		}
		return stage.Result{PayloadURI: "memory://analysis"}, nil
	})
	engine := New(store, imageRegistry(t, map[string]stage.Handler{stage.Analysis: cancelling}), nil, testConfig())

	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if final.State != queue.StateCancelled {
		t.Fatalf("state = %s, want cancelled", final.State)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []queue.ItemState
}

func (o *recordingObserver) OnChildTransition(ctx context.Context, batchID, itemID string, state queue.ItemState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, state)
}

func TestAdvanceNotifiesObserverOnTerminal(t *testing.T) {
	store := newTestStore(t)
	batch, err := store.CreateBatch(context.Background(), 1, []string{"WCAG2.2-AA"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	var seenStandards []string
	checker := stage.HandlerFunc(func(ctx context.Context, req stage.Request) (stage.Result, error) {
		seenStandards = req.Standards
		return stage.Result{PayloadURI: "memory://compliance"}, nil
	})

	engine := New(store, imageRegistry(t, map[string]stage.Handler{stage.Compliance: checker}), nil, testConfig())
	observer := &recordingObserver{}
	engine.SetObserver(observer)

	item := createImageItem(t, store, batch.ID)
	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if final.State != queue.StateCompleted {
		t.Fatalf("state = %s", final.State)
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.events) != 1 || observer.events[0] != queue.StateCompleted {
		t.Fatalf("observer events = %v", observer.events)
	}
	if len(seenStandards) != 1 || seenStandards[0] != "WCAG2.2-AA" {
		t.Fatalf("standards = %v", seenStandards)
	}
}

func TestAdvanceTerminalItemIsNoOp(t *testing.T) {
	store := newTestStore(t)
	engine := New(store, imageRegistry(t, nil), nil, testConfig())
	item := createImageItem(t, store, "")

	final, err := engine.Advance(context.Background(), item)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	again, err := engine.Advance(context.Background(), final)
	if err != nil {
		t.Fatalf("Advance terminal: %v", err)
	}
	if again.State != queue.StateCompleted {
		t.Fatalf("state = %s", again.State)
	}
}
