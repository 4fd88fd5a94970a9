package autosave

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	values []string
	saved  chan string
}

func newRecorder() *recorder {
	return &recorder{saved: make(chan string, 16)}
}

func (r *recorder) save(value string) SaveFunc {
	return func(context.Context) error {
		r.mu.Lock()
		r.values = append(r.values, value)
		r.mu.Unlock()
		r.saved <- value
		return nil
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

func waitSaved(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for save")
		return ""
	}
}

func TestScheduleCoalescesToLatest(t *testing.T) {
	d := New(30*time.Millisecond, zaptest.NewLogger(t))
	defer d.Close()
	rec := newRecorder()

	for _, v := range []string{"v1", "v2", "v3", "v4"} {
		require.NoError(t, d.Schedule("session-1", rec.save(v)))
	}

	assert.Equal(t, "v4", waitSaved(t, rec.saved))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"v4"}, rec.snapshot())
	assert.Zero(t, d.Pending())
}

func TestScheduleRestartsTimer(t *testing.T) {
	delay := 80 * time.Millisecond
	d := New(delay, zaptest.NewLogger(t))
	defer d.Close()
	rec := newRecorder()

	require.NoError(t, d.Schedule("s", rec.save("first")))
	time.Sleep(delay / 2)
	last := time.Now()
	require.NoError(t, d.Schedule("s", rec.save("second")))

	assert.Equal(t, "second", waitSaved(t, rec.saved))
	assert.GreaterOrEqual(t, time.Since(last), delay)
}

func TestKeysAreIndependent(t *testing.T) {
	d := New(20*time.Millisecond, zaptest.NewLogger(t))
	defer d.Close()
	rec := newRecorder()

	require.NoError(t, d.Schedule("a", rec.save("a1")))
	require.NoError(t, d.Schedule("b", rec.save("b1")))

	got := []string{waitSaved(t, rec.saved), waitSaved(t, rec.saved)}
	assert.ElementsMatch(t, []string{"a1", "b1"}, got)
}

func TestFlushRunsPendingSaves(t *testing.T) {
	d := New(time.Hour, zaptest.NewLogger(t))
	rec := newRecorder()

	require.NoError(t, d.Schedule("a", rec.save("a1")))
	require.NoError(t, d.Schedule("b", rec.save("b1")))
	assert.Equal(t, 2, d.Pending())

	d.Flush()

	assert.ElementsMatch(t, []string{"a1", "b1"}, rec.snapshot())
	assert.Zero(t, d.Pending())
	d.Close()
}

func TestSavesForOneKeyDoNotOverlap(t *testing.T) {
	d := New(5*time.Millisecond, zaptest.NewLogger(t))
	var active, maxActive int32
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex
	done := make(chan struct{}, 2)

	slow := func(value string) SaveFunc {
		return func(context.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			if value == "first" {
				<-release
			}
			mu.Lock()
			order = append(order, value)
			mu.Unlock()
			atomic.AddInt32(&active, -1)
			done <- struct{}{}
			return nil
		}
	}

	require.NoError(t, d.Schedule("s", slow("first")))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&active) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, d.Schedule("s", slow("second")))
	time.Sleep(30 * time.Millisecond)
	close(release)

	<-done
	<-done
	d.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestFailedSaveIsLoggedAndDropped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := New(10*time.Millisecond, zap.New(core))
	failed := make(chan struct{}, 1)

	require.NoError(t, d.Schedule("s", func(context.Context) error {
		failed <- struct{}{}
		return errors.New("database unavailable")
	}))
	<-failed
	d.Close()

	entries := logs.FilterMessage("autosave failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "s", entries[0].ContextMap()["key"])
	assert.Zero(t, d.Pending())
}

func TestScheduleAfterClose(t *testing.T) {
	d := New(time.Millisecond, nil)
	d.Close()
	assert.ErrorIs(t, d.Schedule("s", func(context.Context) error { return nil }), ErrClosed)
}

func TestCancelDropsPendingSave(t *testing.T) {
	d := New(time.Hour, zaptest.NewLogger(t))
	rec := newRecorder()

	require.NoError(t, d.Schedule("s1", rec.save("dropped")))
	require.NoError(t, d.Schedule("s2", rec.save("kept")))
	d.Cancel("s1")
	d.Cancel("missing")
	assert.Equal(t, 1, d.Pending())

	d.Flush()
	assert.Equal(t, []string{"kept"}, rec.snapshot())
}
