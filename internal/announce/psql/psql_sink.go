package psql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/welthee/qcaller/internal/announce"
)

// Transient error retry constants
const (
	transientMaxRetryAttempts  = 3
	transientJitterSleepFactor = 2
	transientSleepBase         = 20 * time.Millisecond
	transientSleepMax          = 500 * time.Millisecond
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 200
)

// Queries
const (
	queryStringInsertAnnouncement = `insert into announcements(id, ticket_id, label, attempt, text, lang, announced_at)
values ($1, $2, $3, $4, $5, $6, $7);`

	queryStringSelectRecentAnnouncements = `select id, ticket_id, label, attempt, text, lang, announced_at
from announcements order by announced_at desc, id desc limit $1;`
)

var _ announce.Sink = (*Sink)(nil)
var _ announce.Journal = (*Sink)(nil)

// Sink appends every announcement to the announcements journal, from which
// display boards read the most recent calls.
type Sink struct {
	db *sql.DB
}

func NewSink(db *sql.DB) *Sink {
	return &Sink{
		db: db,
	}
}

func (p *Sink) Deliver(ctx context.Context, a announce.Announcement) error {
	var err error
	shouldRetry := true

	for attempt := 1; shouldRetry && attempt <= transientMaxRetryAttempts; attempt++ {
		shouldRetry, err = p.tryInsert(ctx, a)
		if err == nil {
			break
		}

		if !shouldRetry {
			return err
		}

		log.Ctx(ctx).Info().
			Str("label", a.Label).
			Int("attempt", attempt).
			Msg("retrying to journal announcement")

		if err := jitterSleep(ctx, attempt, transientSleepBase, transientSleepMax); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}

	log.Ctx(ctx).Debug().
		Str("id", a.ID.String()).
		Str("label", a.Label).
		Msg("journaled announcement")

	return nil
}

func (p *Sink) tryInsert(ctx context.Context, a announce.Announcement) (bool, error) {
	_, err := p.db.ExecContext(ctx, queryStringInsertAnnouncement,
		a.ID.String(), a.TicketID.String(), a.Label, int64(a.Attempt), a.Text, a.Lang, a.At)
	if err != nil {
		if isTransient(err) {
			return true, err
		}

		log.Ctx(ctx).Error().
			Err(err).
			Str("label", a.Label).
			Msg("can not journal announcement due to unhandled error")

		return false, err
	}

	return false, nil
}

// Recent returns up to limit announcements, newest first.
func (p *Sink) Recent(ctx context.Context, limit int) ([]announce.Announcement, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := p.db.QueryContext(ctx, queryStringSelectRecentAnnouncements, limit)
	if err != nil {
		return nil, err
	}
	defer rowClose(ctx, rows)

	var announcements []announce.Announcement
	for rows.Next() {
		var a announce.Announcement
		var attempt int64
		if err := rows.Scan(&a.ID, &a.TicketID, &a.Label, &attempt, &a.Text, &a.Lang, &a.At); err != nil {
			return nil, err
		}
		a.Attempt = int(attempt)

		announcements = append(announcements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Debug().
		Int("count", len(announcements)).
		Msg("retrieved recent announcements")

	return announcements, nil
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	switch pqErr.Code.Class() {
	// 08 CONNECTION EXCEPTION
	case "08":
		return true
	}

	switch pqErr.Code {
	// 40001 SERIALIZATION FAILURE, 40P01 DEADLOCK DETECTED, 57P03 CANNOT CONNECT NOW
	case "40001", "40P01", "57P03":
		return true
	}

	return false
}

func rowClose(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("can't close rows")
	}
}

func jitterSleep(ctx context.Context, attempt int, base, max time.Duration) error {
	mx := float64(max)
	mn := float64(base)

	dur := mn * math.Pow(transientJitterSleepFactor, float64(attempt))
	if dur > mx {
		dur = mx
	}
	j := time.Duration(rand.Float64()*(dur-mn) + mn)

	t := time.NewTimer(j)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
