package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welthee/qcaller/internal/announce"
	"github.com/welthee/qcaller/internal/api"
	"github.com/welthee/qcaller/internal/clock"
	"github.com/welthee/qcaller/internal/queue"
)

var epoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func init() {
	log.Logger = zerolog.New(io.Discard)
}

type memoryJournal struct {
	mu            sync.Mutex
	announcements []announce.Announcement
	limits        []int
}

func (j *memoryJournal) Deliver(_ context.Context, a announce.Announcement) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.announcements = append([]announce.Announcement{a}, j.announcements...)
	return nil
}

func (j *memoryJournal) Recent(_ context.Context, limit int) ([]announce.Announcement, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.limits = append(j.limits, limit)
	if limit > len(j.announcements) {
		limit = len(j.announcements)
	}
	return append([]announce.Announcement(nil), j.announcements[:limit]...), nil
}

type fixture struct {
	handler    *api.Handler
	scheduler  *queue.Scheduler
	clock      *clock.FakeClock
	dispatcher *announce.Dispatcher
	journal    *memoryJournal
}

func newFixture(t *testing.T, withJournal bool) *fixture {
	t.Helper()

	f := &fixture{clock: clock.Fake(epoch)}

	var sinks []announce.Sink
	if withJournal {
		f.journal = &memoryJournal{}
		sinks = append(sinks, f.journal)
	}
	f.dispatcher = announce.NewDispatcher(announce.Options{}, f.clock, sinks...)

	scheduler, err := queue.NewScheduler(queue.DefaultSettings(), f.clock, f.dispatcher)
	require.NoError(t, err)
	f.scheduler = scheduler

	var journal announce.Journal
	if j, ok := f.dispatcher.Journal(); ok {
		journal = j
	}

	handler, err := api.NewHandler(scheduler, journal, 5010)
	require.NoError(t, err)
	f.handler = handler

	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()

	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, code, decode[api.Error](t, rec).Code)
}

func TestHandler_IssueTicket(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/tickets", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	ticket := decode[queue.Ticket](t, rec)
	assert.Equal(t, "A001", ticket.Label)
	assert.Equal(t, 1, ticket.Sequence)
	assert.Equal(t, queue.StatusWaiting, ticket.Status)
	assert.Equal(t, 0, ticket.RetryCount)
	assert.True(t, ticket.CreatedAt.Equal(epoch))

	second := decode[queue.Ticket](t, f.do(t, http.MethodPost, "/tickets", ""))
	assert.Equal(t, "A002", second.Label)
	assert.NotEqual(t, ticket.ID, second.ID)
}

func TestHandler_CallNext_NothingToCall(t *testing.T) {
	f := newFixture(t, false)

	requireError(t, f.do(t, http.MethodPost, "/calls", ""), http.StatusConflict, api.ErrorCodeNothingToCall)
}

func TestHandler_CallAndServe(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodPost, "/tickets", "")
	f.do(t, http.MethodPost, "/tickets", "")

	rec := f.do(t, http.MethodPost, "/calls", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	called := decode[queue.Ticket](t, rec)
	assert.Equal(t, "A001", called.Label)
	assert.Equal(t, queue.StatusCalled, called.Status)
	assert.Equal(t, 1, called.RetryCount)

	requireError(t, f.do(t, http.MethodPost, "/calls", ""), http.StatusConflict, api.ErrorCodeAnnouncementBusy)

	f.clock.Advance(queue.DefaultAnnounceDuration)
	requireError(t, f.do(t, http.MethodPost, "/calls", ""), http.StatusConflict, api.ErrorCodeTicketInService)

	rec = f.do(t, http.MethodPut, "/current", `{"action":"serve"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	served := decode[queue.Ticket](t, rec)
	assert.Equal(t, called.ID, served.ID)
	assert.Equal(t, queue.StatusServed, served.Status)

	stats := decode[queue.Stats](t, f.do(t, http.MethodGet, "/stats", ""))
	assert.Equal(t, queue.Stats{Waiting: 1, Served: 1}, stats)
}

func TestHandler_ResolveCurrentTicket_NoCurrentTicket(t *testing.T) {
	f := newFixture(t, false)

	for _, action := range []string{"serve", "skip", "cancel"} {
		rec := f.do(t, http.MethodPut, "/current", `{"action":"`+action+`"}`)
		requireError(t, rec, http.StatusConflict, api.ErrorCodeNoCurrentTicket)
	}
}

func TestHandler_ResolveCurrentTicket_InvalidAction(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodPost, "/tickets", "")
	f.do(t, http.MethodPost, "/calls", "")

	requireError(t, f.do(t, http.MethodPut, "/current", `{"action":"dance"}`), http.StatusBadRequest, api.ErrorCodeBadRequest)
	requireError(t, f.do(t, http.MethodPut, "/current", `{}`), http.StatusBadRequest, api.ErrorCodeBadRequest)

	snap := f.scheduler.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "A001", snap.Current.Label)
}

func TestHandler_SkipUntilAbsent(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPut, "/settings", `{"retryLimit":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.do(t, http.MethodPost, "/tickets", "")

	for attempt := 1; attempt <= 2; attempt++ {
		f.clock.Advance(queue.DefaultAnnounceDuration)
		called := decode[queue.Ticket](t, f.do(t, http.MethodPost, "/calls", ""))
		assert.Equal(t, attempt, called.RetryCount)

		skipped := decode[queue.Ticket](t, f.do(t, http.MethodPut, "/current", `{"action":"skip"}`))
		if attempt < 2 {
			assert.Equal(t, queue.StatusSkipped, skipped.Status)
		} else {
			assert.Equal(t, queue.StatusAbsent, skipped.Status)
		}
	}

	f.clock.Advance(queue.DefaultAnnounceDuration)
	requireError(t, f.do(t, http.MethodPost, "/calls", ""), http.StatusConflict, api.ErrorCodeNothingToCall)

	stats := decode[queue.Stats](t, f.do(t, http.MethodGet, "/stats", ""))
	assert.Equal(t, queue.Stats{Absent: 1}, stats)
}

func TestHandler_Settings(t *testing.T) {
	f := newFixture(t, false)

	settings := decode[api.Settings](t, f.do(t, http.MethodGet, "/settings", ""))
	assert.Equal(t, api.Settings{Prefix: "A", RetryLimit: 3, AnnounceDurationMs: 2000}, settings)

	rec := f.do(t, http.MethodPut, "/settings", `{"prefix":"b"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "B", decode[api.Settings](t, rec).Prefix)

	ticket := decode[queue.Ticket](t, f.do(t, http.MethodPost, "/tickets", ""))
	assert.Equal(t, "B001", ticket.Label)

	requireError(t, f.do(t, http.MethodPut, "/settings", `{"prefix":" ","retryLimit":4}`), http.StatusBadRequest, api.ErrorCodeBadRequest)
	requireError(t, f.do(t, http.MethodPut, "/settings", `{"retryLimit":9}`), http.StatusBadRequest, api.ErrorCodeBadRequest)
	requireError(t, f.do(t, http.MethodPut, "/settings", `{"prefix":"AB"}`), http.StatusBadRequest, api.ErrorCodeBadRequest)

	settings = decode[api.Settings](t, f.do(t, http.MethodGet, "/settings", ""))
	assert.Equal(t, api.Settings{Prefix: "B", RetryLimit: 3, AnnounceDurationMs: 2000}, settings)
}

func TestHandler_GetQueue(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"waiting":[]`)
	assert.Contains(t, rec.Body.String(), `"skipped":[]`)
	assert.Contains(t, rec.Body.String(), `"history":[]`)
	assert.NotContains(t, rec.Body.String(), `"current"`)

	f.do(t, http.MethodPost, "/tickets", "")
	f.do(t, http.MethodPost, "/tickets", "")

	state := decode[api.QueueState](t, f.do(t, http.MethodGet, "/queue", ""))
	assert.Len(t, state.Waiting, 2)
	assert.True(t, state.CanCallNext)
	assert.False(t, state.CanResolve)
	assert.False(t, state.Announcing)
	assert.Nil(t, state.AnnouncingUntil)
	assert.Equal(t, 3, state.NextSequence)

	f.do(t, http.MethodPost, "/calls", "")

	state = decode[api.QueueState](t, f.do(t, http.MethodGet, "/queue", ""))
	require.NotNil(t, state.Current)
	assert.Equal(t, "A001", state.Current.Label)
	assert.True(t, state.Announcing)
	require.NotNil(t, state.AnnouncingUntil)
	assert.True(t, state.AnnouncingUntil.Equal(epoch.Add(queue.DefaultAnnounceDuration)))
	assert.False(t, state.CanCallNext)
	assert.False(t, state.CanResolve)

	f.clock.Advance(queue.DefaultAnnounceDuration)

	state = decode[api.QueueState](t, f.do(t, http.MethodGet, "/queue", ""))
	assert.False(t, state.Announcing)
	assert.True(t, state.CanResolve)
	assert.False(t, state.CanCallNext)
	assert.Equal(t, queue.Stats{Waiting: 1}, state.Stats)
}

func TestHandler_ResetQueue(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodPost, "/tickets", "")
	f.do(t, http.MethodPost, "/tickets", "")
	f.do(t, http.MethodPost, "/calls", "")

	rec := f.do(t, http.MethodPost, "/reset", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	state := decode[api.QueueState](t, f.do(t, http.MethodGet, "/queue", ""))
	assert.Nil(t, state.Current)
	assert.Empty(t, state.Waiting)
	assert.Equal(t, 1, state.NextSequence)

	ticket := decode[queue.Ticket](t, f.do(t, http.MethodPost, "/tickets", ""))
	assert.Equal(t, "A001", ticket.Label)
}

func TestHandler_GetAnnouncements_NoJournal(t *testing.T) {
	f := newFixture(t, false)

	requireError(t, f.do(t, http.MethodGet, "/announcements", ""), http.StatusNotFound, api.ErrorCodeNotFound)
}

func TestHandler_GetAnnouncements(t *testing.T) {
	f := newFixture(t, true)
	f.do(t, http.MethodPost, "/tickets", "")
	f.do(t, http.MethodPost, "/tickets", "")

	f.do(t, http.MethodPost, "/calls", "")
	f.clock.Advance(queue.DefaultAnnounceDuration)
	f.do(t, http.MethodPut, "/current", `{"action":"skip"}`)
	f.do(t, http.MethodPost, "/calls", "")

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.dispatcher.Wait(waitCtx))

	rec := f.do(t, http.MethodGet, "/announcements", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	list := decode[api.AnnouncementList](t, rec)
	require.Len(t, list.Announcements, 2)
	assert.ElementsMatch(t,
		[]string{"Nomor antrian A001, silakan maju", "Nomor antrian A002, silakan maju"},
		[]string{list.Announcements[0].Text, list.Announcements[1].Text},
	)
	for _, a := range list.Announcements {
		assert.Equal(t, announce.DefaultLang, a.Lang)
		assert.Equal(t, 1, a.Attempt)
	}

	rec = f.do(t, http.MethodGet, "/announcements?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[api.AnnouncementList](t, rec).Announcements, 1)

	requireError(t, f.do(t, http.MethodGet, "/announcements?limit=500", ""), http.StatusBadRequest, api.ErrorCodeBadRequest)

	f.journal.mu.Lock()
	defer f.journal.mu.Unlock()
	assert.Equal(t, []int{20, 1}, f.journal.limits)
}

func TestHandler_UnknownRoute(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/tickets/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, api.ErrorCodeNotFound, decode[api.Error](t, rec).Code)
}
