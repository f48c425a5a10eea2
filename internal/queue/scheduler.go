// Package queue implements the ticket lifecycle of a single service counter:
// issuing numbered tickets, choosing which ticket is called next, and
// retiring called tickets as served, absent or cancelled.
package queue

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/welthee/qcaller/internal/clock"
)

const (
	DefaultPrefix           = "A"
	DefaultRetryLimit       = 3
	DefaultAnnounceDuration = 2 * time.Second
)

type Settings struct {
	Prefix     string
	RetryLimit int
	// AnnounceDuration is how long CallNext stays locked after a call.
	AnnounceDuration time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Prefix:           DefaultPrefix,
		RetryLimit:       DefaultRetryLimit,
		AnnounceDuration: DefaultAnnounceDuration,
	}
}

func (s Settings) normalize() (Settings, error) {
	prefix, err := normalizePrefix(s.Prefix)
	if err != nil {
		return s, err
	}
	s.Prefix = prefix

	if err := validateRetryLimit(s.RetryLimit); err != nil {
		return s, err
	}

	if s.AnnounceDuration <= 0 {
		return s, fmt.Errorf("announce_duration=%s: %w", s.AnnounceDuration, ErrInvalidConfig)
	}

	return s, nil
}

func normalizePrefix(prefix string) (string, error) {
	prefix = strings.ToUpper(prefix)
	if utf8.RuneCountInString(prefix) != 1 {
		return "", fmt.Errorf("prefix=%q must be a single character: %w", prefix, ErrInvalidConfig)
	}

	r, _ := utf8.DecodeRuneInString(prefix)
	if r == utf8.RuneError || unicode.IsSpace(r) || !unicode.IsPrint(r) {
		return "", fmt.Errorf("prefix=%q is not printable: %w", prefix, ErrInvalidConfig)
	}

	return prefix, nil
}

func validateRetryLimit(limit int) error {
	if limit < MinRetryLimit || limit > MaxRetryLimit {
		return fmt.Errorf("retry_limit=%d not in [%d,%d]: %w", limit, MinRetryLimit, MaxRetryLimit, ErrInvalidConfig)
	}

	return nil
}

// Scheduler owns every ticket of one counter. All methods are safe for
// concurrent use and linearizable with respect to each other.
type Scheduler struct {
	clock     clock.Clock
	announcer Announcer

	mu              sync.Mutex
	settings        Settings
	waiting         []Ticket
	skipped         []Ticket
	current         *Ticket
	history         []Ticket
	nextSequence    int
	announcingUntil time.Time
}

func NewScheduler(settings Settings, clk clock.Clock, announcer Announcer) (*Scheduler, error) {
	settings, err := settings.normalize()
	if err != nil {
		return nil, err
	}

	if clk == nil {
		clk = clock.Real()
	}

	if announcer == nil {
		announcer = AnnouncerFunc(func(context.Context, Ticket) {})
	}

	return &Scheduler{
		clock:        clk,
		announcer:    announcer,
		settings:     settings,
		nextSequence: 1,
	}, nil
}

func (s *Scheduler) Issue(ctx context.Context) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Ticket{
		ID:         uuid.Must(uuid.NewV7()),
		Label:      formatLabel(s.settings.Prefix, s.nextSequence),
		Sequence:   s.nextSequence,
		CreatedAt:  s.clock.Now(),
		RetryCount: 0,
		Status:     StatusWaiting,
	}
	s.waiting = append(s.waiting, t)
	s.nextSequence++

	log.Ctx(ctx).Info().
		Str("label", t.Label).
		Int("waiting", len(s.waiting)).
		Msg("issued ticket")

	return t
}

// CallNext promotes the next ticket to current. The waiting queue is drained
// in issue order before any skipped ticket is considered; skipped tickets come
// back in the order they were skipped, as long as they have calls left.
func (s *Scheduler) CallNext(ctx context.Context) (Ticket, error) {
	s.mu.Lock()
	t, err := s.callNextLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		return Ticket{}, err
	}

	s.announcer.Announce(ctx, t)

	return t, nil
}

func (s *Scheduler) callNextLocked(ctx context.Context) (Ticket, error) {
	if s.announcingLocked() {
		log.Ctx(ctx).Debug().
			Time("announcingUntil", s.announcingUntil).
			Msg("not calling next ticket, announcement in progress")

		return Ticket{}, ErrAnnouncementBusy
	}

	if s.current != nil {
		log.Ctx(ctx).Debug().
			Str("current", s.current.Label).
			Msg("not calling next ticket, current ticket unresolved")

		return Ticket{}, ErrTicketInService
	}

	var next Ticket
	switch {
	case len(s.waiting) > 0:
		next = s.waiting[0]
		s.waiting = s.waiting[1:]
	default:
		i := s.eligibleSkippedLocked()
		if i < 0 {
			return Ticket{}, ErrNothingToCall
		}
		next = s.skipped[i]
		s.skipped = slices.Delete(s.skipped, i, i+1)
	}

	next.RetryCount++
	next.Status = StatusCalled
	s.current = &next
	s.announcingUntil = s.clock.Now().Add(s.settings.AnnounceDuration)

	log.Ctx(ctx).Info().
		Str("label", next.Label).
		Int("retryCount", next.RetryCount).
		Int("retryLimit", s.settings.RetryLimit).
		Msg("called ticket")

	return next, nil
}

func (s *Scheduler) eligibleSkippedLocked() int {
	return slices.IndexFunc(s.skipped, func(t Ticket) bool {
		return t.RetryCount < s.settings.RetryLimit
	})
}

func (s *Scheduler) Serve(ctx context.Context) (Ticket, error) {
	return s.retire(ctx, StatusServed)
}

func (s *Scheduler) Cancel(ctx context.Context) (Ticket, error) {
	return s.retire(ctx, StatusCancelled)
}

// Skip puts the current ticket back into rotation while it has calls left,
// and marks it absent once its retry budget is spent.
func (s *Scheduler) Skip(ctx context.Context) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Ticket{}, ErrNoCurrentTicket
	}

	t := *s.current
	s.current = nil

	if t.RetryCount < s.settings.RetryLimit {
		t.Status = StatusSkipped
		s.skipped = append(s.skipped, t)
	} else {
		t.Status = StatusAbsent
		s.history = append(s.history, t)
	}

	log.Ctx(ctx).Info().
		Str("label", t.Label).
		Str("status", string(t.Status)).
		Int("retryCount", t.RetryCount).
		Msg("skipped ticket")

	return t, nil
}

func (s *Scheduler) retire(ctx context.Context, status Status) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Ticket{}, ErrNoCurrentTicket
	}

	t := *s.current
	t.Status = status
	s.current = nil
	s.history = append(s.history, t)

	log.Ctx(ctx).Info().
		Str("label", t.Label).
		Str("status", string(status)).
		Msg("retired ticket")

	return t, nil
}

// Reset drops every ticket and restarts numbering at 1. Settings and a
// running announcement lock are kept.
func (s *Scheduler) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.waiting = nil
	s.skipped = nil
	s.current = nil
	s.history = nil
	s.nextSequence = 1

	log.Ctx(ctx).Warn().Msg("reset queue")
}

func (s *Scheduler) SetPrefix(ctx context.Context, prefix string) error {
	_, err := s.UpdateSettings(ctx, &prefix, nil)
	return err
}

func (s *Scheduler) SetRetryLimit(ctx context.Context, limit int) error {
	_, err := s.UpdateSettings(ctx, nil, &limit)
	return err
}

// UpdateSettings changes the prefix and retry limit together. Nil values are
// left untouched; if either value is invalid nothing changes.
func (s *Scheduler) UpdateSettings(ctx context.Context, prefix *string, retryLimit *int) (Settings, error) {
	var normalized string
	if prefix != nil {
		p, err := normalizePrefix(*prefix)
		if err != nil {
			return s.Settings(), err
		}
		normalized = p
	}

	if retryLimit != nil {
		if err := validateRetryLimit(*retryLimit); err != nil {
			return s.Settings(), err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prefix != nil {
		s.settings.Prefix = normalized
	}
	if retryLimit != nil {
		s.settings.RetryLimit = *retryLimit
	}

	log.Ctx(ctx).Info().
		Str("prefix", s.settings.Prefix).
		Int("retryLimit", s.settings.RetryLimit).
		Msg("changed queue settings")

	return s.settings, nil
}

func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Scheduler) statsLocked() Stats {
	stats := Stats{
		Waiting: len(s.waiting),
		Skipped: len(s.skipped),
	}

	for _, t := range s.history {
		switch t.Status {
		case StatusServed:
			stats.Served++
		case StatusAbsent:
			stats.Absent++
		case StatusCancelled:
			stats.Cancelled++
		}
	}

	return stats
}

func (s *Scheduler) IsAnnouncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announcingLocked()
}

func (s *Scheduler) announcingLocked() bool {
	return s.clock.Now().Before(s.announcingUntil)
}

// CanCallNext reports whether CallNext would promote a ticket right now.
func (s *Scheduler) CanCallNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canCallNextLocked()
}

func (s *Scheduler) canCallNextLocked() bool {
	if s.announcingLocked() || s.current != nil {
		return false
	}

	return len(s.waiting) > 0 || s.eligibleSkippedLocked() >= 0
}

// CanResolve reports whether the operator should be offered serve, skip and
// cancel. The operations themselves only require a current ticket.
func (s *Scheduler) CanResolve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.announcingLocked()
}

type Snapshot struct {
	Settings        Settings
	Waiting         []Ticket
	Skipped         []Ticket
	Current         *Ticket
	History         []Ticket
	NextSequence    int
	Announcing      bool
	AnnouncingUntil time.Time
	CanCallNext     bool
	CanResolve      bool
	Stats           Stats
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Settings:     s.settings,
		Waiting:      slices.Clone(s.waiting),
		Skipped:      slices.Clone(s.skipped),
		History:      slices.Clone(s.history),
		NextSequence: s.nextSequence,
		Announcing:   s.announcingLocked(),
		CanCallNext:  s.canCallNextLocked(),
		Stats:        s.statsLocked(),
	}

	if snap.Announcing {
		snap.AnnouncingUntil = s.announcingUntil
	}

	if s.current != nil {
		current := *s.current
		snap.Current = &current
		snap.CanResolve = !snap.Announcing
	}

	return snap
}
