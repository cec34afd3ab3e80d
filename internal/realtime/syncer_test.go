package realtime

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
)

// fakeSource is a scriptable polling backend.
type fakeSource struct {
    mu      sync.Mutex
    fail    bool
    snap    model.SyncSnapshot
    polls   int
    notifys []string
}

func (f *fakeSource) LocksSince(_ context.Context, _ uint64, _ time.Time) (model.SyncSnapshot, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.polls++
    if f.fail {
        return model.SyncSnapshot{}, errors.New("dial tcp: connection refused")
    }
    return f.snap, nil
}

func (f *fakeSource) NotifyChange(_ context.Context, _ uint64, reason string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.notifys = append(f.notifys, reason)
    return nil
}

func (f *fakeSource) pollCount() int {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.polls
}

func (f *fakeSource) setFail(v bool) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.fail = v
}

func (f *fakeSource) setSnap(s model.SyncSnapshot) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.snap = s
}

func (f *fakeSource) notifyCount() int {
    f.mu.Lock()
    defer f.mu.Unlock()
    return len(f.notifys)
}

// fakeSink records applied snapshots.
type fakeSink struct {
    mu    sync.Mutex
    snaps []model.SyncSnapshot
}

func (f *fakeSink) ReplaceSnapshot(s model.SyncSnapshot) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.snaps = append(f.snaps, s)
}

func (f *fakeSink) applied() int {
    f.mu.Lock()
    defer f.mu.Unlock()
    return len(f.snaps)
}

func fastOptions() Options {
    return Options{PollInterval: 10 * time.Millisecond, Cooldown: 300 * time.Millisecond, RequestTimeout: time.Second}
}

func TestSubscribe_FirstPollAppliesImmediately(t *testing.T) {
    src := &fakeSource{}
    src.setSnap(model.SyncSnapshot{SalaID: 1}) // zero watermark, empty sala
    sink := &fakeSink{}
    s := New(src, fastOptions())
    defer s.Close()

    s.Subscribe(1, sink)
    // Even an empty snapshot is applied once: the sink must learn the
    // difference between "no locks" and "never synced".
    assert.Eventually(t, func() bool { return sink.applied() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestSubscribe_SameSalaTwiceIsNoOp(t *testing.T) {
    src := &fakeSource{}
    sink := &fakeSink{}
    s := New(src, fastOptions())
    defer s.Close()

    s.Subscribe(1, sink)
    s.Subscribe(1, sink)
    assert.Eventually(t, func() bool { return src.pollCount() >= 3 }, time.Second, 5*time.Millisecond)
    // A duplicate subscription would roughly double the poll rate; instead
    // the counts stay consistent with one poller and one applied snapshot.
    assert.Equal(t, 1, sink.applied())
}

func TestPoll_StaleWatermarkNotReapplied(t *testing.T) {
    src := &fakeSource{}
    wm := time.Now()
    src.setSnap(model.SyncSnapshot{SalaID: 1, Watermark: wm})
    sink := &fakeSink{}
    s := New(src, fastOptions())
    defer s.Close()

    s.Subscribe(1, sink)
    assert.Eventually(t, func() bool { return src.pollCount() >= 4 }, time.Second, 5*time.Millisecond)
    assert.Equal(t, 1, sink.applied(), "identical watermark must be applied exactly once")

    // Advancing the watermark triggers exactly one more application.
    src.setSnap(model.SyncSnapshot{SalaID: 1, Watermark: wm.Add(time.Second)})
    assert.Eventually(t, func() bool { return sink.applied() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPoll_FailureEntersCooldown(t *testing.T) {
    src := &fakeSource{}
    src.setFail(true)
    sink := &fakeSink{}
    s := New(src, fastOptions())
    defer s.Close()

    s.Subscribe(1, sink)
    assert.Eventually(t, func() bool { return s.Degraded(1) }, time.Second, 5*time.Millisecond)

    // During the cool-down no further polls are made: the 10ms ticks that
    // would have fired are suppressed.
    at := src.pollCount()
    time.Sleep(100 * time.Millisecond)
    assert.Equal(t, at, src.pollCount(), "cool-down must suppress polling")

    // Recovery: the single retry at cool-down expiry succeeds and normal
    // polling resumes immediately.
    src.setFail(false)
    assert.Eventually(t, func() bool { return !s.Degraded(1) }, 2*time.Second, 5*time.Millisecond)
    recovered := src.pollCount()
    assert.Eventually(t, func() bool { return src.pollCount() >= recovered+2 }, time.Second, 5*time.Millisecond)
    assert.GreaterOrEqual(t, sink.applied(), 1)
}

func TestUnsubscribe_StopsPollerAndIsIdempotent(t *testing.T) {
    src := &fakeSource{}
    sink := &fakeSink{}
    s := New(src, fastOptions())
    defer s.Close()

    s.Subscribe(1, sink)
    assert.Eventually(t, func() bool { return src.pollCount() >= 1 }, time.Second, 5*time.Millisecond)

    s.Unsubscribe(1)
    at := src.pollCount()
    time.Sleep(50 * time.Millisecond)
    assert.Equal(t, at, src.pollCount())

    s.Unsubscribe(1) // never subscribed / already removed: both fine
    s.Unsubscribe(42)
    assert.False(t, s.Degraded(1))
}

func TestClose_StopsEverythingAndIsIdempotent(t *testing.T) {
    src := &fakeSource{}
    s := New(src, fastOptions())
    s.Subscribe(1, &fakeSink{})
    s.Subscribe(2, &fakeSink{})
    require.Eventually(t, func() bool { return src.pollCount() >= 2 }, time.Second, 5*time.Millisecond)

    s.Close()
    at := src.pollCount()
    time.Sleep(50 * time.Millisecond)
    assert.Equal(t, at, src.pollCount())

    s.Close()
    s.Subscribe(3, &fakeSink{}) // after Close subscriptions are refused
    time.Sleep(30 * time.Millisecond)
    assert.Equal(t, at, src.pollCount())
}

func TestNotifyChange_FireAndForget(t *testing.T) {
    src := &fakeSource{}
    s := New(src, fastOptions())
    defer s.Close()

    s.NotifyChange(7, "seat-selected")
    assert.Eventually(t, func() bool { return src.notifyCount() == 1 }, time.Second, 5*time.Millisecond)
}
