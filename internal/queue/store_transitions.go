package queue

import (
	"context"
	"fmt"
	"time"
)

// CompareAndSwapItem persists the item's state, stage position, attempts,
// results, and error message, but only if the stored row still matches the
// expected snapshot. It is the sole mutation primitive for item lifecycle:
// two concurrent transitions from the same snapshot cannot both succeed —
// the loser gets ErrConflict and must re-read before deciding anything.
func (s *Store) CompareAndSwapItem(ctx context.Context, item *Item, expected Snapshot) error {
	if item == nil {
		return fmt.Errorf("compare and swap: item is nil")
	}
	now := time.Now().UTC()

	resultsValue, err := encodeResults(item.Results)
	if err != nil {
		return err
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE items
         SET state = ?, stage = ?, stage_index = ?, attempts = ?,
             results_json = ?, error_message = ?, updated_at = ?, last_heartbeat = ?
         WHERE id = ? AND state = ? AND stage_index = ? AND attempts = ?`,
		string(item.State),
		nullableString(item.Stage),
		item.StageIndex,
		item.Attempts,
		resultsValue,
		nullableString(item.ErrorMessage),
		now.Format(time.RFC3339Nano),
		nullableTime(item.LastHeartbeat),
		item.ID,
		string(expected.State),
		expected.StageIndex,
		expected.Attempts,
	)
	if err != nil {
		return fmt.Errorf("compare and swap item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("compare and swap item: rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if scanErr := s.db.QueryRowContext(ensureContext(ctx),
			`SELECT COUNT(1) FROM items WHERE id = ?`, item.ID).Scan(&exists); scanErr == nil && exists == 0 {
			return fmt.Errorf("compare and swap item %s: %w", item.ID, ErrNotFound)
		}
		return fmt.Errorf("compare and swap item %s: %w", item.ID, ErrConflict)
	}

	item.UpdatedAt = now
	return nil
}

// UpdateHeartbeat refreshes the liveness timestamp for an in-flight item.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE items SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND state = ?`,
		now,
		now,
		id,
		string(StateProcessing),
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale returns processing items with expired heartbeats back to
// ingested so another worker can pick them up. The stage position survives:
// an item resumes at the stage it was on, never earlier, never later.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE items
         SET state = ?, last_heartbeat = NULL, updated_at = ?
         WHERE state = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		string(StateIngested),
		now.Format(time.RFC3339Nano),
		string(StateProcessing),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed items back to ingested for reprocessing at their
// current stage. With no ids, all failed items are retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE items
             SET state = ?, attempts = 0, error_message = NULL, updated_at = ?
             WHERE state = ?`,
			string(StateIngested),
			now,
			string(StateFailed),
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed items: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, string(StateIngested), now, string(StateFailed))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE items
         SET state = ?, attempts = 0, error_message = NULL, updated_at = ?
         WHERE state = ? AND id IN (` + placeholders + `)`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected items: %w", err)
	}
	return res.RowsAffected()
}

// ResolveReview applies a human decision to a review-flagged item. Only
// completed and failed are valid resolutions.
func (s *Store) ResolveReview(ctx context.Context, id string, resolution ItemState, note string) error {
	if resolution != StateCompleted && resolution != StateFailed {
		return fmt.Errorf("resolve review: invalid resolution %q", resolution)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE items
         SET state = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		string(resolution),
		nullableString(note),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		string(StateReview),
	)
	if err != nil {
		return fmt.Errorf("resolve review: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve review: rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetItem(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("resolve review %s: %w", id, ErrConflict)
	}
	return nil
}

// CancelItem marks an item cancelled unless it already reached completed,
// failed, or cancelled. Cancellation is advisory for in-flight handlers: the
// engine stops dispatching once it observes the new state. Returns whether a
// row changed.
func (s *Store) CancelItem(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE items
         SET state = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND state IN (?, ?, ?)`,
		string(StateCancelled),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		string(StateIngested),
		string(StateProcessing),
		string(StateReview),
	)
	if err != nil {
		return false, fmt.Errorf("cancel item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel item: rows affected: %w", err)
	}
	return affected > 0, nil
}
