package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePool stands in for *pgxpool.Pool.
type fakePool struct {
	down atomic.Bool
}

func (p *fakePool) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

// deps are the backends the API depends on.
type deps struct {
	pool      *fakePool
	stopRedis func()
}

// newAPIHealth registers the checks the API server registers at startup.
func newAPIHealth(t *testing.T, opts ...CheckOption) (*Health, *deps) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	var once sync.Once
	stop := func() { once.Do(mr.Close) }
	t.Cleanup(stop)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	d := &deps{pool: &fakePool{}, stopRedis: stop}
	h := New()
	h.AddReadinessCheck("postgres", time.Second, PostgresCheck(d.pool), opts...)
	h.AddReadinessCheck("redis", time.Second, RedisCheck(client), opts...)
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(100_000))
	return h, d
}

// runChecks runs every registered check n times.
func runChecks(h *Health, n int) {
	for range n {
		for _, c := range slices.Concat(h.liveness, h.readiness) {
			c.run(context.Background())
		}
	}
}

func get(t *testing.T, handler http.HandlerFunc, path string) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w.Code, w.Body.String()
}

// failingChecks decodes the "checks" object of a status body.
func failingChecks(t *testing.T, body string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := jx.DecodeStr(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "checks" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, name []byte) error {
			msg, err := d.Str()
			out[string(name)] = msg
			return err
		})
	})
	require.NoError(t, err)
	return out
}

func TestReadiness_Startup(t *testing.T) {
	h, _ := newAPIHealth(t)

	code, body := get(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, body)

	code, body = get(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, code, "liveness does not wait for startup")
	assert.Equal(t, `{"status":"ok"}`, body)

	runChecks(h, 1)
	h.SetReady(true)
	code, body = get(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, `{"status":"ok"}`, body)
}

func TestReadiness_PostgresOutage(t *testing.T) {
	h, d := newAPIHealth(t)
	h.SetReady(true)

	d.pool.down.Store(true)
	runChecks(h, 2)
	assert.True(t, h.IsReady(), "two failed pings stay below the threshold")

	runChecks(h, 1)
	code, body := get(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"postgres":"postgres ping: connection refused"}}`, body)

	code, _ = get(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, code, "a database outage does not restart the process")

	d.pool.down.Store(false)
	runChecks(h, 1)
	assert.True(t, h.IsReady())
}

func TestReadiness_RedisOutage(t *testing.T) {
	h, d := newAPIHealth(t)
	h.SetReady(true)

	d.stopRedis()
	runChecks(h, 3)

	code, body := get(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	failed := failingChecks(t, body)
	require.Contains(t, failed, "redis")
	assert.Contains(t, failed["redis"], "redis ping")
	assert.NotContains(t, failed, "postgres")
}

func TestReadiness_BodyListsFailuresSorted(t *testing.T) {
	h, d := newAPIHealth(t, WithFailureThreshold(1))
	d.pool.down.Store(true)
	d.stopRedis()
	runChecks(h, 1)

	code, body := get(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	var names []string
	require.NoError(t, jx.DecodeStr(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "checks" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, name []byte) error {
			names = append(names, string(name))
			return d.Skip()
		})
	}))
	assert.Equal(t, []string{"_readiness", "postgres", "redis"}, names)
}

func TestReadiness_DrainOnShutdown(t *testing.T) {
	h, _ := newAPIHealth(t)
	h.SetReady(true)
	runChecks(h, 1)
	require.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
	code, body := get(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"_readiness": "service is not ready"}, failingChecks(t, body))
}

func TestReadiness_Thresholds(t *testing.T) {
	h, d := newAPIHealth(t, WithFailureThreshold(1), WithSuccessThreshold(2))
	h.SetReady(true)

	d.pool.down.Store(true)
	runChecks(h, 1)
	assert.False(t, h.IsReady(), "one failure is enough with threshold 1")

	d.pool.down.Store(false)
	runChecks(h, 1)
	assert.False(t, h.IsReady(), "needs two successes")
	runChecks(h, 1)
	assert.True(t, h.IsReady())
}

func TestStart_RunsChecksInBackground(t *testing.T) {
	h, d := newAPIHealth(t)
	d.pool.down.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)
	h.SetReady(true)

	assert.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	d.pool.down.Store(false)
	assert.Eventually(t, h.IsReady, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestLiveness_GoroutineLeak(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(0), WithFailureThreshold(1))
	runChecks(h, 1)

	code, body := get(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, failingChecks(t, body)["goroutines"], "exceeds threshold 0")
}

func TestCheck_Timeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithFailureThreshold(1))
	c := h.readiness[0]
	assert.NoError(t, c.lastError())

	c.run(context.Background())
	assert.False(t, c.isHealthy())
	assert.ErrorIs(t, c.lastError(), context.DeadlineExceeded)
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}

func TestConcurrentAccess(t *testing.T) {
	h, d := newAPIHealth(t)
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				d.pool.down.Store(i%2 == 0)
				h.IsReady()
				get(t, h.ReadyEndpoint, "/readyz")
				get(t, h.LiveEndpoint, "/livez")
			}
		}()
	}
	wg.Wait()
	h.Stop()
}
