package status

import (
	"context"
	"time"

	"ramp/internal/queue"
	"ramp/internal/stage"
)

// ItemStatus is the external view of one content item.
type ItemStatus struct {
	ID              string                       `json:"id"`
	BatchID         string                       `json:"batch_id,omitempty"`
	Kind            queue.ContentKind            `json:"kind"`
	SourceURL       string                       `json:"source_url"`
	Language        string                       `json:"language,omitempty"`
	State           queue.ItemState              `json:"state"`
	Stage           string                       `json:"stage,omitempty"`
	StageIndex      int                          `json:"stage_index"`
	TotalStages     int                          `json:"total_stages"`
	Attempts        int                          `json:"attempts"`
	PercentComplete int                          `json:"percent_complete"`
	ErrorMessage    string                       `json:"error_message,omitempty"`
	Results         map[string]queue.StageResult `json:"results,omitempty"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

// BatchStatus is the external view of one batch.
type BatchStatus struct {
	ID              string           `json:"id"`
	State           queue.BatchState `json:"state"`
	Total           int              `json:"total"`
	Completed       int              `json:"completed"`
	Failed          int              `json:"failed"`
	Review          int              `json:"review"`
	InProgress      int              `json:"in_progress"`
	PercentComplete int              `json:"percent_complete"`
	ManualReviewIDs []string         `json:"manual_review_ids,omitempty"`
	Standards       []string         `json:"standards,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Service answers status queries. It only ever reads: no query here can move
// an item or batch through its lifecycle.
type Service struct {
	store *queue.Store
}

// NewService constructs a status service over the job store.
func NewService(store *queue.Store) *Service {
	return &Service{store: store}
}

// Item reports the current status of one content item. Unknown identifiers
// yield queue.ErrNotFound; an accepted item is visible here immediately
// after submission.
func (s *Service) Item(ctx context.Context, id string) (*ItemStatus, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return itemStatus(item), nil
}

// Batch reports the current status of one batch, including the live list of
// review-flagged children in ingest order.
func (s *Service) Batch(ctx context.Context, id string) (*BatchStatus, error) {
	batch, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := s.store.BatchItems(ctx, id)
	if err != nil {
		return nil, err
	}

	var reviewIDs []string
	for _, child := range children {
		if child.State == queue.StateReview {
			reviewIDs = append(reviewIDs, child.ID)
		}
	}

	return &BatchStatus{
		ID:              batch.ID,
		State:           batch.State,
		Total:           batch.Total,
		Completed:       batch.Completed,
		Failed:          batch.Failed,
		Review:          batch.Review,
		InProgress:      batch.InProgress(),
		PercentComplete: batch.PercentComplete(),
		ManualReviewIDs: reviewIDs,
		Standards:       batch.Standards,
		CreatedAt:       batch.CreatedAt,
		UpdatedAt:       batch.UpdatedAt,
	}, nil
}

// Items lists item statuses, optionally filtered by state.
func (s *Service) Items(ctx context.Context, states ...queue.ItemState) ([]*ItemStatus, error) {
	items, err := s.store.ListItems(ctx, states...)
	if err != nil {
		return nil, err
	}
	statuses := make([]*ItemStatus, 0, len(items))
	for _, item := range items {
		statuses = append(statuses, itemStatus(item))
	}
	return statuses, nil
}

func itemStatus(item *queue.Item) *ItemStatus {
	total := stage.PlanStages(item.Kind)
	percent := 0
	switch {
	case item.State == queue.StateCompleted:
		percent = 100
	case total > 0:
		percent = item.StageIndex * 100 / total
	}
	return &ItemStatus{
		ID:              item.ID,
		BatchID:         item.BatchID,
		Kind:            item.Kind,
		SourceURL:       item.SourceURL,
		Language:        item.Language,
		State:           item.State,
		Stage:           item.Stage,
		StageIndex:      item.StageIndex,
		TotalStages:     total,
		Attempts:        item.Attempts,
		PercentComplete: percent,
		ErrorMessage:    item.ErrorMessage,
		Results:         item.Results,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}
}
