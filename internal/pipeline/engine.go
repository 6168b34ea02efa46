package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ramp/internal/logging"
	"ramp/internal/queue"
	"ramp/internal/services"
	"ramp/internal/stage"
)

// Config controls stage execution behavior.
type Config struct {
	// MaxAttempts bounds handler invocations per stage before the item is
	// flagged for review.
	MaxAttempts int
	// StageTimeout is the per-attempt handler deadline.
	StageTimeout time.Duration
	// RetryBackoff is the initial delay between attempts; it doubles per
	// retry up to RetryBackoffMax.
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	// HeartbeatInterval is how often the engine refreshes item liveness
	// while a handler runs.
	HeartbeatInterval time.Duration
}

// TransitionObserver is notified after an item reaches a terminal state.
// The batch coordinator implements it to fold child transitions into
// aggregate counters.
type TransitionObserver interface {
	OnChildTransition(ctx context.Context, batchID, itemID string, state queue.ItemState)
}

// Engine drives one content item through its declared stage sequence.
type Engine struct {
	store    *queue.Store
	registry *stage.Registry
	logger   *slog.Logger
	cfg      Config
	observer TransitionObserver
}

// New constructs a pipeline engine.
func New(store *queue.Store, registry *stage.Registry, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 5 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	return &Engine{store: store, registry: registry, logger: logger, cfg: cfg}
}

// SetObserver registers the transition observer. Call during startup wiring,
// before any job is advanced.
func (e *Engine) SetObserver(observer TransitionObserver) {
	e.observer = observer
}

// Advance claims an ingested item and drives it through its remaining stages
// until it reaches a terminal state. It returns the item's final persisted
// state. Expected handler failures never surface as errors; they drive the
// state machine instead. Errors mean infrastructure trouble (store faults,
// lost claims) and must be retried by the caller without consuming item
// retry attempts.
func (e *Engine) Advance(ctx context.Context, item *queue.Item) (*queue.Item, error) {
	if item == nil {
		return nil, errors.New("advance: item is nil")
	}
	cur := cloneItem(item)
	if cur.IsTerminal() {
		return cur, nil
	}

	ctx = services.WithItemID(ctx, cur.ID)
	if cur.BatchID != "" {
		ctx = services.WithBatchID(ctx, cur.BatchID)
	}

	plan, err := stage.PlanFor(cur.Kind)
	if err != nil {
		// Unknown kind should be caught at ingest; a row carrying one is a
		// client defect, not a pipeline limitation.
		return e.terminate(ctx, cur, queue.StateFailed, err.Error())
	}

	if err := e.claim(ctx, cur, plan); err != nil {
		return nil, err
	}

	standards, err := e.batchStandards(ctx, cur)
	if err != nil {
		return nil, err
	}

	for cur.StageIndex < len(plan) {
		next, done, err := e.runStage(ctx, cur, plan, standards)
		if err != nil {
			return nil, err
		}
		cur = next
		if done {
			return cur, nil
		}
	}

	return cur, nil
}

// claim moves an ingested item to processing via compare-and-swap. Exactly
// one of two concurrent claims succeeds; the loser sees a conflict and must
// re-read.
func (e *Engine) claim(ctx context.Context, cur *queue.Item, plan []string) error {
	if cur.State != queue.StateIngested {
		return services.Wrap(services.ErrConflict, "", "claim", "item is not claimable in state "+string(cur.State), nil)
	}
	if cur.StageIndex >= len(plan) {
		// Stage plan shrank underneath a resumed item; nothing left to run.
		_, err := e.terminate(ctx, cur, queue.StateCompleted, "")
		if err != nil {
			return err
		}
		return nil
	}

	expected := cur.Snapshot()
	now := time.Now().UTC()
	cur.State = queue.StateProcessing
	cur.Stage = plan[cur.StageIndex]
	cur.LastHeartbeat = &now
	if err := e.store.CompareAndSwapItem(ctx, cur, expected); err != nil {
		if errors.Is(err, queue.ErrConflict) {
			return services.Wrap(services.ErrConflict, cur.Stage, "claim", "lost claim race", err)
		}
		return fmt.Errorf("claim item: %w", err)
	}
	return nil
}

// runStage executes the item's current stage to a conclusion: advancement to
// the next stage, completion, or a terminal failure state. done reports that
// the item reached a terminal state.
func (e *Engine) runStage(ctx context.Context, cur *queue.Item, plan []string, standards []string) (*queue.Item, bool, error) {
	stageID := plan[cur.StageIndex]
	stageCtx := services.WithStage(ctx, stageID)
	logger := logging.WithContext(stageCtx, e.logger)

	handler, err := e.registry.Resolve(stageID)
	if err != nil {
		// A missing handler is a deployment gap no retry will fix.
		logger.Error("no handler registered for stage",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.Error(err),
		)
		cur.RecordResult(queue.StageResult{
			Stage:        stageID,
			Outcome:      queue.OutcomeFailure,
			ErrorKind:    string(services.KindNotFound),
			ErrorMessage: err.Error(),
			Attempts:     cur.Attempts,
			CompletedAt:  time.Now().UTC(),
		})
		next, termErr := e.terminate(stageCtx, cur, queue.StateReview, err.Error())
		return next, true, termErr
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("source_url", strings.TrimSpace(cur.SourceURL)),
		logging.Int("attempts_used", cur.Attempts),
	)
	stageStart := time.Now()

	backoff := e.cfg.RetryBackoff
	for {
		attempt := cur.Attempts + 1
		result, execErr := e.invoke(stageCtx, handler, cur, standards)
		if ctx.Err() != nil {
			// Shutdown or external cancellation of the engine itself. The item
			// stays processing; the stale-heartbeat reclaimer will recover it.
			return nil, false, ctx.Err()
		}

		if execErr == nil {
			next, done, err := e.advanceStage(stageCtx, logger, cur, plan, result, attempt, stageStart)
			return next, done, err
		}

		kind := services.Classify(execErr)
		cur.RecordResult(queue.StageResult{
			Stage:        stageID,
			Outcome:      queue.OutcomeFailure,
			ErrorKind:    string(kind),
			ErrorMessage: execErr.Error(),
			Attempts:     attempt,
			CompletedAt:  time.Now().UTC(),
		})

		switch kind {
		case services.KindValidation:
			logger.Warn("stage rejected input",
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.String("error_kind", string(kind)),
				logging.Error(execErr),
			)
			next, err := e.terminate(stageCtx, cur, queue.StateFailed, execErr.Error())
			return next, true, err

		case services.KindPermanent, services.KindNotFound:
			logger.Error("stage failed permanently",
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.String("error_kind", string(kind)),
				logging.Error(execErr),
			)
			next, err := e.terminate(stageCtx, cur, queue.StateReview, execErr.Error())
			return next, true, err

		default:
			if attempt >= e.cfg.MaxAttempts {
				logger.Error("stage exhausted retries",
					logging.String(logging.FieldEventType, "stage_failure"),
					logging.Int("attempts", attempt),
					logging.Error(execErr),
				)
				msg := fmt.Sprintf("%s: %d attempts exhausted: %s", stageID, attempt, execErr.Error())
				next, err := e.terminate(stageCtx, cur, queue.StateReview, msg)
				return next, true, err
			}

			logger.Warn("stage attempt failed, will retry",
				logging.String(logging.FieldEventType, "stage_retry"),
				logging.Int("attempt", attempt),
				logging.Duration("backoff", backoff),
				logging.Error(execErr),
			)
			if err := e.persistAttempt(stageCtx, cur, attempt); err != nil {
				return e.resolveConflict(stageCtx, cur, err)
			}
			if backoff > 0 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, false, ctx.Err()
				}
				backoff *= 2
				if e.cfg.RetryBackoffMax > 0 && backoff > e.cfg.RetryBackoffMax {
					backoff = e.cfg.RetryBackoffMax
				}
			}
		}
	}
}

// invoke runs one handler attempt under the per-stage timeout while keeping
// the item's heartbeat fresh.
func (e *Engine) invoke(ctx context.Context, handler stage.Handler, cur *queue.Item, standards []string) (stage.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()

	hbCtx, hbCancel := context.WithCancel(attemptCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		ticker := time.NewTicker(e.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := e.store.UpdateHeartbeat(hbCtx, cur.ID); err != nil {
					logging.WithContext(ctx, e.logger).Debug("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}()

	result, err := handler.Execute(attemptCtx, stage.Request{
		Item:      cur,
		Prior:     cur.Results,
		Standards: standards,
	})
	hbCancel()
	hbWG.Wait()

	// A blown deadline counts as transient: the external service may simply
	// be slow right now.
	if err == nil && attemptCtx.Err() != nil && ctx.Err() == nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, cur.Stage, "invoke", "stage timeout", attemptCtx.Err())
	}
	return result, err
}

// advanceStage records a success and moves the item forward, or completes it
// at the last stage.
func (e *Engine) advanceStage(ctx context.Context, logger *slog.Logger, cur *queue.Item, plan []string, result stage.Result, attempt int, stageStart time.Time) (*queue.Item, bool, error) {
	stageID := plan[cur.StageIndex]
	cur.RecordResult(queue.StageResult{
		Stage:       stageID,
		Outcome:     queue.OutcomeSuccess,
		PayloadURI:  result.PayloadURI,
		PayloadText: result.PayloadText,
		Attempts:    attempt,
		CompletedAt: time.Now().UTC(),
	})

	expected := cur.Snapshot()
	last := cur.StageIndex == len(plan)-1
	if last {
		cur.State = queue.StateCompleted
		cur.StageIndex++
		cur.Attempts = 0
		cur.ErrorMessage = ""
		cur.LastHeartbeat = nil
	} else {
		now := time.Now().UTC()
		cur.StageIndex++
		cur.Stage = plan[cur.StageIndex]
		cur.Attempts = 0
		cur.ErrorMessage = ""
		cur.LastHeartbeat = &now
	}

	if err := e.store.CompareAndSwapItem(ctx, cur, expected); err != nil {
		next, done, resolveErr := e.resolveConflict(ctx, cur, err)
		return next, done, resolveErr
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_state", string(cur.State)),
		logging.Int("attempts", attempt),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)

	if last {
		e.notifyTerminal(ctx, cur)
		return cur, true, nil
	}
	return cur, false, nil
}

// terminate moves the item to a terminal state from its current snapshot.
func (e *Engine) terminate(ctx context.Context, cur *queue.Item, state queue.ItemState, message string) (*queue.Item, error) {
	expected := cur.Snapshot()
	cur.State = state
	cur.ErrorMessage = message
	cur.LastHeartbeat = nil
	if err := e.store.CompareAndSwapItem(ctx, cur, expected); err != nil {
		next, _, resolveErr := e.resolveConflict(ctx, cur, err)
		return next, resolveErr
	}
	e.notifyTerminal(ctx, cur)
	return cur, nil
}

// persistAttempt records a consumed transient attempt so a crash between
// retries cannot reset the retry budget.
func (e *Engine) persistAttempt(ctx context.Context, cur *queue.Item, attempt int) error {
	expected := cur.Snapshot()
	now := time.Now().UTC()
	cur.Attempts = attempt
	cur.LastHeartbeat = &now
	return e.store.CompareAndSwapItem(ctx, cur, expected)
}

// resolveConflict handles a lost compare-and-swap mid-flight. The only
// legitimate external writers for a processing item are cancellation and the
// stale reclaimer; cancellation ends the run quietly, anything else is
// surfaced as a conflict for the orchestrating caller.
func (e *Engine) resolveConflict(ctx context.Context, cur *queue.Item, casErr error) (*queue.Item, bool, error) {
	if !errors.Is(casErr, queue.ErrConflict) {
		return nil, false, fmt.Errorf("persist transition: %w", casErr)
	}
	latest, err := e.store.GetItem(ctx, cur.ID)
	if err != nil {
		return nil, false, fmt.Errorf("re-read after conflict: %w", err)
	}
	if latest.State == queue.StateCancelled {
		logging.WithContext(ctx, e.logger).Info("item cancelled during stage execution",
			logging.String(logging.FieldEventType, "stage_cancelled"),
		)
		e.notifyTerminal(ctx, latest)
		return latest, true, nil
	}
	return nil, false, services.Wrap(services.ErrConflict, cur.Stage, "persist", "item changed underneath the engine", casErr)
}

func (e *Engine) notifyTerminal(ctx context.Context, item *queue.Item) {
	if e.observer == nil || item.BatchID == "" || !item.IsTerminal() {
		return
	}
	e.observer.OnChildTransition(ctx, item.BatchID, item.ID, item.State)
}

func (e *Engine) batchStandards(ctx context.Context, cur *queue.Item) ([]string, error) {
	if cur.BatchID == "" {
		return nil, nil
	}
	batch, err := e.store.GetBatch(ctx, cur.BatchID)
	if err != nil {
		return nil, fmt.Errorf("load batch standards: %w", err)
	}
	return batch.Standards, nil
}

func cloneItem(item *queue.Item) *queue.Item {
	cp := *item
	if item.Results != nil {
		cp.Results = make(map[string]queue.StageResult, len(item.Results))
		for k, v := range item.Results {
			cp.Results[k] = v
		}
	}
	if item.LastHeartbeat != nil {
		hb := *item.LastHeartbeat
		cp.LastHeartbeat = &hb
	}
	return &cp
}
