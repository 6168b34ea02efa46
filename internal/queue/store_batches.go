package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const batchColumns = "id, state, total, completed, failed, review, standards_json, revision, created_at, updated_at"

// CreateBatch inserts a new batch record for a bulk ingest of total items.
func (s *Store) CreateBatch(ctx context.Context, total int, standards []string) (*Batch, error) {
	ctx = ensureContext(ctx)
	if total < 0 {
		return nil, fmt.Errorf("create batch: negative total %d", total)
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var standardsValue any
	if len(standards) > 0 {
		data, err := json.Marshal(standards)
		if err != nil {
			return nil, fmt.Errorf("encode standards: %w", err)
		}
		standardsValue = string(data)
	}

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO batches (
            id, state, total, completed, failed, review,
            standards_json, revision, created_at, updated_at
        ) VALUES (?, ?, ?, 0, 0, 0, ?, 0, ?, ?)`,
		id,
		string(BatchProcessing),
		total,
		standardsValue,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	return s.GetBatch(ctx, id)
}

// GetBatch fetches a batch by identifier. Returns ErrNotFound for identities
// that were never created.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// ListBatches returns all batches ordered by creation time.
func (s *Store) ListBatches(ctx context.Context) ([]*Batch, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM batches ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// CompareAndSwapBatch persists the batch counters and state, but only if the
// stored revision still matches the one the caller read. The revision bumps
// on every successful write, giving linearizable per-batch counter updates
// even when children finish on arbitrary workers.
func (s *Store) CompareAndSwapBatch(ctx context.Context, batch *Batch) error {
	if batch == nil {
		return fmt.Errorf("compare and swap: batch is nil")
	}
	now := time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`UPDATE batches
         SET state = ?, completed = ?, failed = ?, review = ?,
             revision = revision + 1, updated_at = ?
         WHERE id = ? AND revision = ?`,
		string(batch.State),
		batch.Completed,
		batch.Failed,
		batch.Review,
		now.Format(time.RFC3339Nano),
		batch.ID,
		batch.Revision,
	)
	if err != nil {
		return fmt.Errorf("compare and swap batch: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("compare and swap batch: rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		if scanErr := s.db.QueryRowContext(ensureContext(ctx),
			`SELECT COUNT(1) FROM batches WHERE id = ?`, batch.ID).Scan(&exists); scanErr == nil && exists == 0 {
			return fmt.Errorf("compare and swap batch %s: %w", batch.ID, ErrNotFound)
		}
		return fmt.Errorf("compare and swap batch %s: %w", batch.ID, ErrConflict)
	}

	batch.Revision++
	batch.UpdatedAt = now
	return nil
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		id            string
		state         string
		total         int
		completed     int
		failed        int
		review        int
		standardsJSON sql.NullString
		revision      int64
		createdRaw    string
		updatedRaw    string
	)

	if err := scanner.Scan(
		&id,
		&state,
		&total,
		&completed,
		&failed,
		&review,
		&standardsJSON,
		&revision,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	batch := &Batch{
		ID:        id,
		State:     BatchState(state),
		Total:     total,
		Completed: completed,
		Failed:    failed,
		Review:    review,
		Revision:  revision,
	}

	if standardsJSON.Valid && standardsJSON.String != "" {
		if err := json.Unmarshal([]byte(standardsJSON.String), &batch.Standards); err != nil {
			return nil, fmt.Errorf("decode standards for %s: %w", id, err)
		}
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		batch.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		batch.UpdatedAt = updated
	}
	return batch, nil
}
