package queue

import (
	"strings"
	"time"
)

// ContentKind identifies the media category of an ingested item and selects
// its stage plan.
type ContentKind string

const (
	KindDocument ContentKind = "document"
	KindImage    ContentKind = "image"
	KindVideo    ContentKind = "video"
	KindAudio    ContentKind = "audio"
)

var allKinds = []ContentKind{KindDocument, KindImage, KindVideo, KindAudio}

// AllKinds returns the known content kinds.
func AllKinds() []ContentKind {
	cp := make([]ContentKind, len(allKinds))
	copy(cp, allKinds)
	return cp
}

// ParseKind converts a string into a known ContentKind.
func ParseKind(value string) (ContentKind, bool) {
	normalized := ContentKind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range allKinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

// ItemState represents the lifecycle of a content item.
type ItemState string

const (
	// StateIngested marks an item accepted and waiting for stage dispatch.
	StateIngested ItemState = "ingested"
	// StateProcessing marks an item owned by a worker driving its stages.
	StateProcessing ItemState = "processing"
	// StateCompleted is terminal: every stage succeeded.
	StateCompleted ItemState = "completed"
	// StateFailed is terminal: the input itself was defective (validation).
	StateFailed ItemState = "failed"
	// StateReview is terminal for automation: a human must resolve the item.
	StateReview ItemState = "review"
	// StateCancelled is terminal: processing was abandoned on request.
	StateCancelled ItemState = "cancelled"
)

var allStates = []ItemState{
	StateIngested,
	StateProcessing,
	StateCompleted,
	StateFailed,
	StateReview,
	StateCancelled,
}

// AllStates returns the ordered list of known item states.
func AllStates() []ItemState {
	cp := make([]ItemState, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known ItemState.
func ParseState(value string) (ItemState, bool) {
	normalized := ItemState(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allStates {
		if state == normalized {
			return normalized, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further automated dispatch may occur.
// Review counts: only a human resolution moves the item on.
func (s ItemState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateReview, StateCancelled:
		return true
	default:
		return false
	}
}

// Outcome labels a stage result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// StageResult captures the latest attempt of one stage for one item. A retry
// overwrites the failed result for that stage; the attempt counter carries
// the history.
type StageResult struct {
	Stage        string    `json:"stage"`
	Outcome      Outcome   `json:"outcome"`
	PayloadURI   string    `json:"payload_uri,omitempty"`
	PayloadText  string    `json:"payload_text,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     int       `json:"attempts"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Item represents a content item persisted in SQLite.
type Item struct {
	ID            string
	BatchID       string
	Kind          ContentKind
	SourceURL     string
	Language      string
	State         ItemState
	Stage         string
	StageIndex    int
	Attempts      int
	Results       map[string]StageResult
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastHeartbeat *time.Time
}

// NewItem describes an item to be created.
type NewItem struct {
	Kind      ContentKind
	SourceURL string
	Language  string
	BatchID   string
}

// Snapshot is the portion of an item's state a compare-and-swap transition
// asserts against. Two writers racing from the same snapshot cannot both win.
type Snapshot struct {
	State      ItemState
	StageIndex int
	Attempts   int
}

// Snapshot captures the item's current CAS expectation.
func (i *Item) Snapshot() Snapshot {
	return Snapshot{State: i.State, StageIndex: i.StageIndex, Attempts: i.Attempts}
}

// IsTerminal reports whether the item has reached a terminal state.
func (i *Item) IsTerminal() bool {
	return i.State.IsTerminal()
}

// RecordResult stores the latest result for a stage, replacing any prior
// result for the same stage.
func (i *Item) RecordResult(res StageResult) {
	if i.Results == nil {
		i.Results = make(map[string]StageResult, 4)
	}
	i.Results[res.Stage] = res
}

// BatchState represents the lifecycle of a batch.
type BatchState string

const (
	BatchProcessing BatchState = "processing"
	BatchCompleted  BatchState = "completed"
	BatchCancelled  BatchState = "cancelled"
)

// Batch aggregates the children created by one bulk ingest request.
type Batch struct {
	ID        string
	State     BatchState
	Total     int
	Completed int
	Failed    int
	Review    int
	Standards []string
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InProgress counts children that have not reached a terminal state yet.
func (b *Batch) InProgress() int {
	n := b.Total - b.Completed - b.Failed - b.Review
	if n < 0 {
		return 0
	}
	return n
}

// PercentComplete reports terminal children as an integer percentage,
// rounded down. Review-flagged children count as terminal progress: the
// automated pipeline is done with them.
func (b *Batch) PercentComplete() int {
	if b.Total <= 0 {
		return 100
	}
	return (b.Completed + b.Failed + b.Review) * 100 / b.Total
}

// Done reports whether every child reached a terminal state.
func (b *Batch) Done() bool {
	return b.Completed+b.Failed+b.Review >= b.Total
}
