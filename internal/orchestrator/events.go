package orchestrator

import "cardforge/internal/domain"

// EventType enumerates orchestrator notifications.
type EventType string

const (
	// EventDraftCompleted fires when one draft variation finishes and takes
	// the next free display slot.
	EventDraftCompleted EventType = "draft_completed"
	// EventDraftFailed is the dismissible per-draft failure notice; the
	// rest of the batch keeps going.
	EventDraftFailed EventType = "draft_failed"
	// EventBatchSettled fires once, when every job of the batch reached a
	// terminal state.
	EventBatchSettled EventType = "batch_settled"
	// EventBatchFailed replaces N duplicate notices when zero drafts ever
	// succeeded.
	EventBatchFailed EventType = "batch_failed"
	// EventCardReady carries the finished card, share handshake included
	// (or gracefully skipped).
	EventCardReady EventType = "card_ready"
	// EventFinalFailed is the only user-blocking failure.
	EventFinalFailed EventType = "final_failed"
)

// Event is one change notification delivered to subscribers.
type Event struct {
	Type           EventType         `json:"type"`
	JobID          string            `json:"job_id,omitempty"`
	BatchID        string            `json:"batch_id,omitempty"`
	DisplaySlot    int               `json:"display_slot,omitempty"`
	VariationIndex int               `json:"variation_index,omitempty"`
	Result         *domain.JobResult `json:"result,omitempty"`
	Card           *domain.Card      `json:"card,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}
