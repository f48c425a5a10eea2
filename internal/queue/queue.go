package queue

import (
	"context"
	"errors"
)

// Rejections leave the scheduler exactly as it was; callers that drive an
// interactive console may ignore them.
var (
	ErrInvalidConfig    = errors.New("invalid queue configuration")
	ErrNoCurrentTicket  = errors.New("no ticket is being served")
	ErrNothingToCall    = errors.New("no ticket available to call")
	ErrAnnouncementBusy = errors.New("an announcement is in progress")
	ErrTicketInService  = errors.New("current ticket must be resolved before calling the next one")
)

const (
	MinRetryLimit = 1
	MaxRetryLimit = 5
)

// Announcer receives every ticket promoted by CallNext. Implementations must
// return promptly; delivery failures are theirs to absorb.
type Announcer interface {
	Announce(ctx context.Context, t Ticket)
}

type AnnouncerFunc func(ctx context.Context, t Ticket)

func (f AnnouncerFunc) Announce(ctx context.Context, t Ticket) {
	f(ctx, t)
}

type Stats struct {
	Waiting   int `json:"waiting"`
	Skipped   int `json:"skipped"`
	Served    int `json:"served"`
	Absent    int `json:"absent"`
	Cancelled int `json:"cancelled"`
}
