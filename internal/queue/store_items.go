package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const itemColumns = "id, batch_id, kind, source_url, language, state, stage, stage_index, attempts, results_json, error_message, created_at, updated_at, last_heartbeat"

// CreateItem inserts a new content item awaiting its first stage. The
// identity is a fresh UUID: never reused, never aliased between two logical
// jobs, safe under concurrent creation.
func (s *Store) CreateItem(ctx context.Context, req NewItem) (*Item, error) {
	ctx = ensureContext(ctx)
	if _, ok := ParseKind(string(req.Kind)); !ok {
		return nil, fmt.Errorf("create item: unknown content kind %q", req.Kind)
	}
	if strings.TrimSpace(req.SourceURL) == "" {
		return nil, errors.New("create item: source url is required")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO items (
            id, batch_id, kind, source_url, language, state,
            stage, stage_index, attempts, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		id,
		nullableString(req.BatchID),
		string(req.Kind),
		req.SourceURL,
		nullableString(req.Language),
		string(StateIngested),
		nil,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	return s.GetItem(ctx, id)
}

// GetItem fetches a content item by identifier. Returns ErrNotFound for
// identities that were never created.
func (s *Store) GetItem(ctx context.Context, id string) (*Item, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems returns items filtered by state set (or all items when no state
// is provided), ordered by creation time.
func (s *Store) ListItems(ctx context.Context, states ...ItemState) ([]*Item, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM items`
	orderClause := ` ORDER BY created_at, id`

	if len(states) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(states))
		args := make([]any, len(states))
		for i, state := range states {
			args[i] = string(state)
		}
		query := baseQuery + ` WHERE state IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// BatchItems returns a batch's children in ingest order.
func (s *Store) BatchItems(ctx context.Context, batchID string) ([]*Item, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM items WHERE batch_id = ? ORDER BY created_at, id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("batch items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// NextRunnable returns up to limit ingested items, oldest first. Claiming is
// the engine's job; this is only a candidate scan.
func (s *Store) NextRunnable(ctx context.Context, limit int) ([]*Item, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM items WHERE state = ? ORDER BY created_at, id LIMIT ?`,
		string(StateIngested),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("next runnable: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// Stats returns a count of items grouped by state.
func (s *Store) Stats(ctx context.Context) (map[ItemState]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM items GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("item stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[ItemState]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[ItemState(state)] = count
	}
	return stats, rows.Err()
}

// BatchChildStats returns a count of one batch's children grouped by state.
func (s *Store) BatchChildStats(ctx context.Context, batchID string) (map[ItemState]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT state, COUNT(1) FROM items WHERE batch_id = ? GROUP BY state`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("batch child stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[ItemState]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[ItemState(state)] = count
	}
	return stats, rows.Err()
}

// ClearTerminal removes completed, failed, and cancelled items. Review items
// stay: they are waiting on a human.
func (s *Store) ClearTerminal(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM items WHERE state IN (?, ?, ?)`,
		string(StateCompleted),
		string(StateFailed),
		string(StateCancelled),
	)
	if err != nil {
		return 0, fmt.Errorf("clear terminal items: %w", err)
	}
	return res.RowsAffected()
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id               string
		batchID          sql.NullString
		kind             string
		sourceURL        string
		language         sql.NullString
		state            string
		stage            sql.NullString
		stageIndex       int
		attempts         int
		resultsJSON      sql.NullString
		errorMessage     sql.NullString
		createdRaw       string
		updatedRaw       string
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&batchID,
		&kind,
		&sourceURL,
		&language,
		&state,
		&stage,
		&stageIndex,
		&attempts,
		&resultsJSON,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:           id,
		BatchID:      batchID.String,
		Kind:         ContentKind(kind),
		SourceURL:    sourceURL,
		Language:     language.String,
		State:        ItemState(state),
		Stage:        stage.String,
		StageIndex:   stageIndex,
		Attempts:     attempts,
		ErrorMessage: errorMessage.String,
	}

	if resultsJSON.Valid && resultsJSON.String != "" {
		if err := json.Unmarshal([]byte(resultsJSON.String), &item.Results); err != nil {
			return nil, fmt.Errorf("decode stage results for %s: %w", id, err)
		}
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			item.LastHeartbeat = &heartbeat
		}
	}
	return item, nil
}

func encodeResults(results map[string]StageResult) (any, error) {
	if len(results) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encode stage results: %w", err)
	}
	return string(data), nil
}
