package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

type fakeLauncher struct {
	mu        sync.Mutex
	browsers  []*fakeBrowser
	launchErr error
	closeErr  error
}

func (l *fakeLauncher) Launch(context.Context) (Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	b := &fakeBrowser{closeErr: l.closeErr}
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *fakeLauncher) Launched() []*fakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeBrowser(nil), l.browsers...)
}

type fakeBrowser struct {
	closed   atomic.Bool
	opened   atomic.Int32
	closeErr error
}

func (b *fakeBrowser) NewPage(context.Context) (Page, error) {
	b.opened.Add(1)
	return &fakePage{}, nil
}

func (b *fakeBrowser) Close() error {
	b.closed.Store(true)
	return b.closeErr
}

type fakePage struct {
	closed atomic.Bool
}

func (p *fakePage) Goto(_ context.Context, url string) (Response, error) {
	return Response{URL: url, Status: 200}, nil
}

func (p *fakePage) Content(context.Context) (string, error) { return "<html></html>", nil }

func (p *fakePage) Response() Response { return Response{} }

func (p *fakePage) Close() error {
	p.closed.Store(true)
	return nil
}

func newTestPool(t *testing.T, cfg Config, launcher *fakeLauncher) *Pool {
	t.Helper()
	pool, err := NewPool(cfg, launcher, zap.NewNop())
	require.NoError(t, err)
	return pool
}

func TestNewPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPool(Config{MaxBrowsers: 1, PagesPerBrowser: 1}, nil, nil)
	require.Error(t, err)
	_, err = NewPool(Config{MaxBrowsers: 0, PagesPerBrowser: 1}, &fakeLauncher{}, nil)
	require.Error(t, err)
	_, err = NewPool(Config{MaxBrowsers: 1, PagesPerBrowser: 0}, &fakeLauncher{}, nil)
	require.Error(t, err)
}

func TestPoolReusesIdleHandle(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	pool := newTestPool(t, Config{MaxBrowsers: 1, PagesPerBrowser: 2}, launcher)
	ctx := context.Background()

	h1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, StateLeased, h1.State())
	pool.Release(h1)
	require.Equal(t, StateIdle, h1.State())

	h2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Same(t, h1, h2)
	require.Len(t, launcher.Launched(), 1)
	require.EqualValues(t, 1, launcher.Launched()[0].opened.Load())
}

func TestPoolReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, Config{MaxBrowsers: 1, PagesPerBrowser: 1}, &fakeLauncher{})
	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Release(h)
	pool.Release(h)
	pool.Release(nil)

	stats := pool.Stats()
	require.Equal(t, 1, stats.Idle)
	require.Equal(t, 0, stats.Leased)
	require.Equal(t, 1, stats.Pages)
}

func TestPoolExhaustionTimesOut(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, Config{MaxBrowsers: 1, PagesPerBrowser: 2, AcquireTimeout: 30 * time.Millisecond}, &fakeLauncher{})
	ctx := context.Background()
	_, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = pool.Acquire(ctx)
	require.NoError(t, err)

	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, evaluation.ErrResourceExhausted)
}

func TestPoolWaiterWakesOnRelease(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, Config{MaxBrowsers: 1, PagesPerBrowser: 1}, &fakeLauncher{})
	ctx := context.Background()
	held, err := pool.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan *Handle, 1)
	go func() {
		h, acquireErr := pool.Acquire(ctx)
		if acquireErr == nil {
			got <- h
		}
	}()

	time.Sleep(20 * time.Millisecond)
	pool.Release(held)

	select {
	case h := <-got:
		require.Same(t, held, h)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, Config{MaxBrowsers: 1, PagesPerBrowser: 1}, &fakeLauncher{})
	_, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolTearsDownSurplusBrowser(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{closeErr: errors.New("teardown failed")}
	pool := newTestPool(t, Config{MaxBrowsers: 2, PagesPerBrowser: 1}, launcher)
	ctx := context.Background()

	h1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	h2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pool.Stats().Browsers)

	require.NotPanics(t, func() { pool.Release(h1) })
	require.Equal(t, StateClosed, h1.State())
	require.True(t, h1.Page().(*fakePage).closed.Load())
	require.Equal(t, 1, pool.Stats().Browsers)

	pool.Release(h2)
	require.Equal(t, StateIdle, h2.State())
	require.Equal(t, 1, pool.Stats().Browsers)

	closedCount := 0
	for _, b := range launcher.Launched() {
		if b.closed.Load() {
			closedCount++
		}
	}
	require.Equal(t, 1, closedCount)
}

func TestPoolLaunchFailureFreesSlot(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{launchErr: errors.New("no chrome")}
	pool := newTestPool(t, Config{MaxBrowsers: 1, PagesPerBrowser: 1, AcquireTimeout: time.Second}, launcher)

	_, err := pool.Acquire(context.Background())
	require.ErrorContains(t, err, "no chrome")

	launcher.mu.Lock()
	launcher.launchErr = nil
	launcher.mu.Unlock()

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h.Page())
}

func TestPoolDiscardClosesPage(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, Config{MaxBrowsers: 1, PagesPerBrowser: 2}, &fakeLauncher{})
	ctx := context.Background()
	keep, err := pool.Acquire(ctx)
	require.NoError(t, err)
	bad, err := pool.Acquire(ctx)
	require.NoError(t, err)

	pool.Discard(bad)
	require.Equal(t, StateClosed, bad.State())
	require.True(t, bad.Page().(*fakePage).closed.Load())
	pool.Release(bad)
	require.Equal(t, StateClosed, bad.State())

	stats := pool.Stats()
	require.Equal(t, 1, stats.Pages)
	require.Equal(t, 1, stats.Leased)
	pool.Release(keep)
}

func TestPoolCloseAll(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	pool := newTestPool(t, Config{MaxBrowsers: 1, PagesPerBrowser: 2}, launcher)
	ctx := context.Background()
	idle, err := pool.Acquire(ctx)
	require.NoError(t, err)
	leased, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(idle)

	require.NoError(t, pool.CloseAll())
	require.NoError(t, pool.CloseAll())
	require.Equal(t, StateClosed, idle.State())
	require.True(t, launcher.Launched()[0].closed.Load())

	pool.Release(leased)
	require.Equal(t, StateClosed, leased.State())
	require.True(t, leased.Page().(*fakePage).closed.Load())

	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, evaluation.ErrPoolClosed)
}

func TestPoolRespectsCeilingUnderLoad(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	pool := newTestPool(t, Config{MaxBrowsers: 2, PagesPerBrowser: 2}, launcher)
	ctx := context.Background()

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := pool.Acquire(ctx)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			pool.Release(h)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(4))
	require.Zero(t, pool.Stats().Leased)
	require.LessOrEqual(t, len(launcher.Launched()), 32)
}
