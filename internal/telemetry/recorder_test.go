package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valpere/ScrapeMend/internal/utils"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(10 * time.Millisecond)
	return c.t
}

func newTestRecorder(cfg Config) *Recorder {
	r := NewRecorder(cfg, utils.NewNopLogger())
	clock := &fakeClock{t: time.Unix(0, 0)}
	r.now = clock.now
	return r
}

func TestRecorder_Stats(t *testing.T) {
	r := newTestRecorder(Config{})

	for i := 0; i < 4; i++ {
		op := r.Begin(KindResolve, "#title")
		op.End(i != 3, nil)
	}
	op := r.Begin(KindResolve, "#price")
	op.End(false, errors.New("no match"))
	op.End(true, nil) // second End is ignored

	st := r.Stats(KindResolve)
	assert.Equal(t, 5, st.Count)
	assert.Equal(t, int64(5), st.Total)
	assert.Equal(t, 3, st.Successes)
	assert.Equal(t, 2, st.Failures)
	assert.InDelta(t, 0.6, st.SuccessRate, 1e-9)
	assert.Equal(t, 10*time.Millisecond, st.MeanDuration)
	assert.Equal(t, "no match", st.LastError)

	assert.Equal(t, Stats{Kind: KindDeliver}, r.Stats(KindDeliver))
}

func TestRecorder_WindowRolls(t *testing.T) {
	r := newTestRecorder(Config{Window: 3})
	for _, ok := range []bool{false, false, true, true, true} {
		r.Begin(KindHeal, "x").End(ok, nil)
	}
	st := r.Stats(KindHeal)
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, int64(5), st.Total)
	assert.Equal(t, 1.0, st.SuccessRate)
}

func TestRecorder_AlertFiresOncePerDegradation(t *testing.T) {
	r := newTestRecorder(Config{Window: 10, AlertSuccessRate: 0.8, AlertMinSamples: 4})
	var alerts []Alert
	r.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	// Three failures stay under the minimum sample count.
	for i := 0; i < 3; i++ {
		r.Begin(KindExtract, "page").End(false, nil)
	}
	assert.Empty(t, alerts)

	r.Begin(KindExtract, "page").End(false, nil)
	r.Begin(KindExtract, "page").End(false, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, KindExtract, alerts[0].Kind)
	assert.Equal(t, 4, alerts[0].Samples)
	assert.True(t, r.Stats(KindExtract).Alerting)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Metrics().alertsTotal.WithLabelValues("extract")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	op := r.Begin(KindCollect, "session")
	op.End(true, nil)
	r.RecordStrategy("by_id")
	r.RecordItems(3)
	assert.Equal(t, Stats{Kind: KindCollect}, r.Stats(KindCollect))
	assert.Empty(t, r.AllStats())
}

func TestRecorder_Handler(t *testing.T) {
	r := newTestRecorder(Config{})
	r.Begin(KindResolve, "#a").End(true, nil)
	r.RecordStrategy("by_position")
	r.RecordItems(7)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		`scrapemend_operations_total{kind="resolve",outcome="success"} 1`,
		`scrapemend_heal_strategy_total{strategy="by_position"} 1`,
		`scrapemend_collector_items_total 7`,
	} {
		assert.True(t, strings.Contains(body, name), name)
	}
}
