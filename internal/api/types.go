package api

import (
	"time"

	"github.com/welthee/qcaller/internal/announce"
	"github.com/welthee/qcaller/internal/queue"
)

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Settings struct {
	Prefix             string `json:"prefix"`
	RetryLimit         int    `json:"retryLimit"`
	AnnounceDurationMs int64  `json:"announceDurationMs"`
}

func newSettings(s queue.Settings) Settings {
	return Settings{
		Prefix:             s.Prefix,
		RetryLimit:         s.RetryLimit,
		AnnounceDurationMs: s.AnnounceDuration.Milliseconds(),
	}
}

type SettingsUpdateRequest struct {
	Prefix     *string `json:"prefix,omitempty"`
	RetryLimit *int    `json:"retryLimit,omitempty"`
}

type CurrentTicketAction string

const (
	CurrentTicketActionServe  CurrentTicketAction = "serve"
	CurrentTicketActionSkip   CurrentTicketAction = "skip"
	CurrentTicketActionCancel CurrentTicketAction = "cancel"
)

type CurrentTicketUpdateRequest struct {
	Action CurrentTicketAction `json:"action"`
}

type QueueState struct {
	Current         *queue.Ticket  `json:"current,omitempty"`
	Waiting         []queue.Ticket `json:"waiting"`
	Skipped         []queue.Ticket `json:"skipped"`
	History         []queue.Ticket `json:"history"`
	NextSequence    int            `json:"nextSequence"`
	Stats           queue.Stats    `json:"stats"`
	Settings        Settings       `json:"settings"`
	Announcing      bool           `json:"announcing"`
	AnnouncingUntil *time.Time     `json:"announcingUntil,omitempty"`
	CanCallNext     bool           `json:"canCallNext"`
	CanResolve      bool           `json:"canResolve"`
}

func newQueueState(snap queue.Snapshot) QueueState {
	state := QueueState{
		Current:      snap.Current,
		Waiting:      nonNil(snap.Waiting),
		Skipped:      nonNil(snap.Skipped),
		History:      nonNil(snap.History),
		NextSequence: snap.NextSequence,
		Stats:        snap.Stats,
		Settings:     newSettings(snap.Settings),
		Announcing:   snap.Announcing,
		CanCallNext:  snap.CanCallNext,
		CanResolve:   snap.CanResolve,
	}

	if snap.Announcing {
		until := snap.AnnouncingUntil
		state.AnnouncingUntil = &until
	}

	return state
}

func nonNil(tickets []queue.Ticket) []queue.Ticket {
	if tickets == nil {
		return []queue.Ticket{}
	}
	return tickets
}

type AnnouncementList struct {
	Announcements []announce.Announcement `json:"announcements"`
}
