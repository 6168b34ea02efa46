package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ramp/internal/logging"
	"ramp/internal/queue"
	"ramp/internal/services"
)

// reconcileRetries bounds the revision compare-and-swap loop. Each lost race
// means another worker just folded in a child transition, so the re-read
// converges quickly.
const reconcileRetries = 10

// ItemRequest describes one child of a bulk ingest.
type ItemRequest struct {
	Kind      queue.ContentKind
	SourceURL string
	Language  string
}

// Coordinator fans a bulk ingest out into per-item jobs and keeps the batch's
// aggregate counters consistent with its children. Counter updates go through
// the batch revision compare-and-swap, so concurrent child completions on
// different workers never clobber each other.
type Coordinator struct {
	store  *queue.Store
	logger *slog.Logger
}

// NewCoordinator constructs a batch coordinator.
func NewCoordinator(store *queue.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{store: store, logger: logger}
}

// Ingest creates a batch and one child item per request. Requests are
// validated before anything is written so a defective entry cannot leave a
// half-created batch behind. An empty request list yields an immediately
// completed batch.
func (c *Coordinator) Ingest(ctx context.Context, requests []ItemRequest, standards []string) (*queue.Batch, []*queue.Item, error) {
	for i, req := range requests {
		if _, ok := queue.ParseKind(string(req.Kind)); !ok {
			return nil, nil, services.Wrap(services.ErrValidation, "", "ingest",
				fmt.Sprintf("entry %d: unknown content kind %q", i, req.Kind), nil)
		}
		if strings.TrimSpace(req.SourceURL) == "" {
			return nil, nil, services.Wrap(services.ErrValidation, "", "ingest",
				fmt.Sprintf("entry %d: source url is required", i), nil)
		}
	}

	batch, err := c.store.CreateBatch(ctx, len(requests), standards)
	if err != nil {
		return nil, nil, fmt.Errorf("create batch: %w", err)
	}

	ctx = services.WithBatchID(ctx, batch.ID)
	logger := logging.WithContext(ctx, c.logger)

	if len(requests) == 0 {
		batch.State = queue.BatchCompleted
		if err := c.store.CompareAndSwapBatch(ctx, batch); err != nil {
			return nil, nil, fmt.Errorf("complete empty batch: %w", err)
		}
		logger.Info("empty batch completed on ingest",
			logging.String(logging.FieldEventType, "batch_ingested"),
		)
		return batch, nil, nil
	}

	items := make([]*queue.Item, 0, len(requests))
	for _, req := range requests {
		item, err := c.store.CreateItem(ctx, queue.NewItem{
			Kind:      req.Kind,
			SourceURL: req.SourceURL,
			Language:  req.Language,
			BatchID:   batch.ID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create batch item: %w", err)
		}
		items = append(items, item)
	}

	logger.Info("batch ingested",
		logging.String(logging.FieldEventType, "batch_ingested"),
		logging.Int("items", len(items)),
	)
	return batch, items, nil
}

// OnChildTransition folds a terminal child transition into the batch
// counters. Invoked by the pipeline engine; reconciliation failures are
// logged rather than propagated because the next transition or status read
// recomputes from the children anyway.
func (c *Coordinator) OnChildTransition(ctx context.Context, batchID, itemID string, state queue.ItemState) {
	if _, err := c.Reconcile(ctx, batchID); err != nil {
		logging.WithContext(ctx, c.logger).Warn("batch reconcile failed after child transition",
			logging.String(logging.FieldBatchID, batchID),
			logging.String(logging.FieldItemID, itemID),
			logging.String("child_state", string(state)),
			logging.Error(err),
		)
	}
}

// Reconcile recomputes a batch's counters from its children and persists
// them under the revision compare-and-swap. Counting from the rows, rather
// than incrementing, makes reconciliation idempotent: replaying a transition
// notification cannot double-count a child. A fully terminal batch is marked
// completed.
func (c *Coordinator) Reconcile(ctx context.Context, batchID string) (*queue.Batch, error) {
	var lastErr error
	for attempt := 0; attempt < reconcileRetries; attempt++ {
		batch, err := c.store.GetBatch(ctx, batchID)
		if err != nil {
			return nil, err
		}

		stats, err := c.store.BatchChildStats(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("reconcile batch %s: %w", batchID, err)
		}

		batch.Completed = stats[queue.StateCompleted]
		// Cancelled children count against the failure column: they will
		// never produce an accessible artifact.
		batch.Failed = stats[queue.StateFailed] + stats[queue.StateCancelled]
		batch.Review = stats[queue.StateReview]
		if batch.State == queue.BatchProcessing && batch.Done() {
			batch.State = queue.BatchCompleted
		}

		err = c.store.CompareAndSwapBatch(ctx, batch)
		if err == nil {
			return batch, nil
		}
		if !errors.Is(err, queue.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("reconcile batch %s: retries exhausted: %w", batchID, lastErr)
}

// Cancel abandons a batch: every child still eligible for cancellation is
// cancelled, the batch is marked cancelled, and counters are reconciled.
// Returns the updated batch and the number of children cancelled.
func (c *Coordinator) Cancel(ctx context.Context, batchID string) (*queue.Batch, int, error) {
	items, err := c.store.BatchItems(ctx, batchID)
	if err != nil {
		return nil, 0, fmt.Errorf("cancel batch %s: %w", batchID, err)
	}
	if len(items) == 0 {
		// Distinguish an unknown batch from a childless one.
		if _, err := c.store.GetBatch(ctx, batchID); err != nil {
			return nil, 0, err
		}
	}

	cancelled := 0
	for _, item := range items {
		changed, err := c.store.CancelItem(ctx, item.ID)
		if err != nil {
			return nil, cancelled, fmt.Errorf("cancel batch child %s: %w", item.ID, err)
		}
		if changed {
			cancelled++
		}
	}

	var lastErr error
	for attempt := 0; attempt < reconcileRetries; attempt++ {
		batch, err := c.store.GetBatch(ctx, batchID)
		if err != nil {
			return nil, cancelled, err
		}
		if batch.State == queue.BatchCancelled {
			return batch, cancelled, nil
		}
		batch.State = queue.BatchCancelled
		err = c.store.CompareAndSwapBatch(ctx, batch)
		if err == nil {
			updated, rErr := c.Reconcile(ctx, batchID)
			if rErr != nil {
				return batch, cancelled, nil
			}
			logging.WithContext(services.WithBatchID(ctx, batchID), c.logger).Info("batch cancelled",
				logging.String(logging.FieldEventType, "batch_cancelled"),
				logging.Int("children_cancelled", cancelled),
			)
			return updated, cancelled, nil
		}
		if !errors.Is(err, queue.ErrConflict) {
			return nil, cancelled, err
		}
		lastErr = err
	}
	return nil, cancelled, fmt.Errorf("cancel batch %s: retries exhausted: %w", batchID, lastErr)
}

// ResolveReview applies a human resolution to a review-flagged child and
// folds the decision back into its batch counters.
func (c *Coordinator) ResolveReview(ctx context.Context, itemID string, resolution queue.ItemState, note string) (*queue.Item, error) {
	if err := c.store.ResolveReview(ctx, itemID, resolution, note); err != nil {
		return nil, err
	}
	item, err := c.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.BatchID != "" {
		if _, err := c.Reconcile(ctx, item.BatchID); err != nil {
			logging.WithContext(ctx, c.logger).Warn("batch reconcile failed after review resolution",
				logging.String(logging.FieldBatchID, item.BatchID),
				logging.Error(err),
			)
		}
	}
	return item, nil
}

// ManualReviewIDs returns a batch's review-flagged children in ingest order.
func (c *Coordinator) ManualReviewIDs(ctx context.Context, batchID string) ([]string, error) {
	items, err := c.store.BatchItems(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("manual review ids for %s: %w", batchID, err)
	}
	var ids []string
	for _, item := range items {
		if item.State == queue.StateReview {
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}
