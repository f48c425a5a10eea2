package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusSkipped   Status = "skipped"
	StatusCalled    Status = "called"
	StatusServed    Status = "served"
	StatusAbsent    Status = "absent"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether tickets in this status have left rotation.
func (s Status) Terminal() bool {
	switch s {
	case StatusServed, StatusAbsent, StatusCancelled:
		return true
	default:
		return false
	}
}

type Ticket struct {
	ID         uuid.UUID `json:"id"`
	Label      string    `json:"label"`
	Sequence   int       `json:"sequence"`
	CreatedAt  time.Time `json:"createdAt"`
	RetryCount int       `json:"retryCount"`
	Status     Status    `json:"status"`
}

// Recall reports whether the ticket has been called more than once.
func (t Ticket) Recall() bool {
	return t.RetryCount > 1
}

func formatLabel(prefix string, sequence int) string {
	return fmt.Sprintf("%s%03d", prefix, sequence)
}
