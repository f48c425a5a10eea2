package metrics_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/welthee/qcaller/internal/clock"
	"github.com/welthee/qcaller/internal/metrics"
	"github.com/welthee/qcaller/internal/queue"
)

func TestCollector(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))

	scheduler, err := queue.NewScheduler(queue.Settings{
		Prefix:           "A",
		RetryLimit:       2,
		AnnounceDuration: 2 * time.Second,
	}, clk, nil)
	if err != nil {
		t.Fatal(err)
	}

	scheduler.Issue(ctx)
	scheduler.Issue(ctx)
	scheduler.Issue(ctx)
	if _, err := scheduler.CallNext(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := scheduler.Skip(ctx); err != nil {
		t.Fatal(err)
	}

	victim := metrics.NewCollector(scheduler)

	if n := testutil.CollectAndCount(victim, "qcaller_tickets"); n != 5 {
		t.Errorf("expected one ticket series per state, got %d", n)
	}

	expected := `
# HELP qcaller_announcing 1 while an announcement blocks calling the next ticket.
# TYPE qcaller_announcing gauge
qcaller_announcing 1
# HELP qcaller_retry_limit Maximum number of calls per ticket.
# TYPE qcaller_retry_limit gauge
qcaller_retry_limit 2
# HELP qcaller_tickets Number of tickets per lifecycle state.
# TYPE qcaller_tickets gauge
qcaller_tickets{state="absent"} 0
qcaller_tickets{state="cancelled"} 0
qcaller_tickets{state="served"} 0
qcaller_tickets{state="skipped"} 1
qcaller_tickets{state="waiting"} 2
`
	if err := testutil.CollectAndCompare(victim, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %s", err)
	}

	clk.Advance(2 * time.Second)
	expectedIdle := `
# HELP qcaller_announcing 1 while an announcement blocks calling the next ticket.
# TYPE qcaller_announcing gauge
qcaller_announcing 0
`
	if err := testutil.CollectAndCompare(victim, strings.NewReader(expectedIdle), "qcaller_announcing"); err != nil {
		t.Errorf("unexpected metrics after lock expiry: %s", err)
	}
}
