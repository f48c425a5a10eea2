// Package announce delivers "please come forward" announcements for called
// tickets to a set of sinks without holding up the caller.
package announce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/welthee/qcaller/internal/clock"
	"github.com/welthee/qcaller/internal/queue"
)

const (
	LabelPlaceholder = "{label}"

	DefaultTemplate = "Nomor antrian " + LabelPlaceholder + ", silakan maju"
	DefaultLang     = "id-ID"
	DefaultTimeout  = 5 * time.Second
)

type Announcement struct {
	ID       uuid.UUID `json:"id"`
	TicketID uuid.UUID `json:"ticketId"`
	Label    string    `json:"label"`
	// Attempt is the ticket's retry count at the time of the call.
	Attempt int       `json:"attempt"`
	Text    string    `json:"text"`
	Lang    string    `json:"lang"`
	At      time.Time `json:"at"`
}

type Sink interface {
	Deliver(ctx context.Context, a Announcement) error
}

// Journal is implemented by sinks that keep the announcements they received.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]Announcement, error)
}

type Options struct {
	Template string
	Lang     string
	Timeout  time.Duration
}

var _ queue.Announcer = (*Dispatcher)(nil)

type Dispatcher struct {
	sinks    []Sink
	template string
	lang     string
	timeout  time.Duration
	clock    clock.Clock

	wg sync.WaitGroup
}

func NewDispatcher(opts Options, clk clock.Clock, sinks ...Sink) *Dispatcher {
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.Lang == "" {
		opts.Lang = DefaultLang
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &Dispatcher{
		sinks:    sinks,
		template: opts.Template,
		lang:     opts.Lang,
		timeout:  opts.Timeout,
		clock:    clk,
	}
}

// Announce hands the ticket to every sink and returns immediately. Deliveries
// outlive the caller's context and only log their failures.
func (d *Dispatcher) Announce(ctx context.Context, t queue.Ticket) {
	a := d.compose(t)
	detached := context.WithoutCancel(ctx)

	for _, sink := range d.sinks {
		d.wg.Add(1)
		go d.deliver(detached, sink, a)
	}
}

func (d *Dispatcher) compose(t queue.Ticket) Announcement {
	return Announcement{
		ID:       uuid.Must(uuid.NewV7()),
		TicketID: t.ID,
		Label:    t.Label,
		Attempt:  t.RetryCount,
		Text:     strings.ReplaceAll(d.template, LabelPlaceholder, t.Label),
		Lang:     d.lang,
		At:       d.clock.Now(),
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, a Announcement) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := sink.Deliver(ctx, a); err != nil {
		log.Ctx(ctx).Warn().
			Err(err).
			Str("sink", fmt.Sprintf("%T", sink)).
			Str("label", a.Label).
			Msg("can not deliver announcement")
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Journal returns the first sink that keeps a journal, if any.
func (d *Dispatcher) Journal() (Journal, bool) {
	for _, sink := range d.sinks {
		if j, ok := sink.(Journal); ok {
			return j, true
		}
	}

	return nil, false
}
