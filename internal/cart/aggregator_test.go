package cart

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
    "github.com/nmoreno/teatro-seat-locking/internal/repository"
    "github.com/nmoreno/teatro-seat-locking/internal/store"
)

// fakeBackend is a minimal server stand-in: first claim per seat wins, and
// a successful claim extends every active lock the session already holds
// for the función, mirroring the shared cart countdown.
type fakeBackend struct {
    mu         sync.Mutex
    locks      map[store.Key]model.SeatLock
    ttl        time.Duration
    acquireErr error
    releaseErr error
    acquires   int
    gate       chan struct{} // when set, Acquire blocks until it closes
    entered    chan struct{} // signalled when Acquire reaches the gate
}

func newFakeBackend() *fakeBackend {
    return &fakeBackend{locks: make(map[store.Key]model.SeatLock), ttl: 5 * time.Minute}
}

func (b *fakeBackend) AcquireLock(_ context.Context, funcionID, seatID uint64, sessionID string) (model.SeatLock, error) {
    b.mu.Lock()
    gate := b.gate
    b.mu.Unlock()
    if gate != nil {
        if b.entered != nil {
            b.entered <- struct{}{}
        }
        <-gate
    }
    b.mu.Lock()
    defer b.mu.Unlock()
    b.acquires++
    if b.acquireErr != nil {
        return model.SeatLock{}, b.acquireErr
    }
    k := store.Key{FuncionID: funcionID, SeatID: seatID}
    if existing, ok := b.locks[k]; ok && !existing.OwnedBy(sessionID) {
        return model.SeatLock{}, repository.ErrSeatLockedByOther
    }
    now := time.Now()
    exp := now.Add(b.ttl)
    l := model.SeatLock{
        FuncionID:    funcionID,
        SeatID:       seatID,
        OwnerSession: sessionID,
        Status:       model.LockSeleccionado,
        ExpiresAt:    &exp,
    }
    b.locks[k] = l
    for key, other := range b.locks {
        if key == k || other.FuncionID != funcionID || !other.OwnedBy(sessionID) {
            continue
        }
        if other.ExpiresAt == nil || !other.ExpiresAt.After(now) {
            continue // lapsed locks are never resurrected
        }
        refreshed := exp
        other.ExpiresAt = &refreshed
        b.locks[key] = other
    }
    return l, nil
}

func (b *fakeBackend) snapshot() model.SyncSnapshot {
    b.mu.Lock()
    defer b.mu.Unlock()
    snap := model.SyncSnapshot{SalaID: 1, Watermark: time.Now()}
    for _, l := range b.locks {
        snap.Locks = append(snap.Locks, l)
    }
    return snap
}

func (b *fakeBackend) ReleaseLock(_ context.Context, funcionID, seatID uint64, sessionID string) (bool, error) {
    b.mu.Lock()
    defer b.mu.Unlock()
    if b.releaseErr != nil {
        return false, b.releaseErr
    }
    k := store.Key{FuncionID: funcionID, SeatID: seatID}
    existing, ok := b.locks[k]
    if !ok {
        return false, nil
    }
    if !existing.OwnedBy(sessionID) {
        return false, repository.ErrNotOwner
    }
    delete(b.locks, k)
    return true, nil
}

func (b *fakeBackend) lockCount() int {
    b.mu.Lock()
    defer b.mu.Unlock()
    return len(b.locks)
}

func (b *fakeBackend) acquireCount() int {
    b.mu.Lock()
    defer b.mu.Unlock()
    return b.acquires
}

func offer(seatID uint64, price uint32) Offer {
    return Offer{FuncionID: 1, SeatID: seatID, RowLabel: "B", Number: uint32(seatID), PriceCents: price}
}

func TestSelect_PinsPriceAndStartsCountdown(t *testing.T) {
    backend := newFakeBackend()
    st := store.New(backend)
    a := New(st, "sess-a", 2, WithCountdown(time.Hour))

    require.NoError(t, a.Select(context.Background(), offer(11, 4500)))
    require.NoError(t, a.Select(context.Background(), offer(12, 6000)))

    assert.True(t, a.Contains(1, 11))
    assert.Equal(t, 2, a.Count())
    assert.Equal(t, uint64(10500), a.TotalCents())
    assert.Greater(t, a.TimeLeft(), 59*time.Minute)

    snap := a.Snapshot()
    require.Len(t, snap.Items, 2)
    assert.Equal(t, uint32(4500), snap.Items[0].PriceCents)
    assert.Equal(t, uint64(10500), snap.TotalCents)
    assert.Greater(t, snap.TimeLeftSeconds, 3500)
}

func TestSelect_ReselectKeepsEarlierSeatsAlive(t *testing.T) {
    // The cart runs one shared countdown that restarts on each selection, so
    // every selection must also extend the server lock of the seats picked
    // earlier.  Otherwise the first seat lapses server-side while the
    // countdown still shows time remaining, and the next snapshot silently
    // drops it from under the buyer.
    backend := newFakeBackend()
    backend.ttl = 500 * time.Millisecond
    st := store.New(backend, store.WithGrace(0))
    a := New(st, "sess-a", 4, WithCountdown(time.Hour))

    require.NoError(t, a.Select(context.Background(), offer(11, 4500)))
    time.Sleep(300 * time.Millisecond)
    require.NoError(t, a.Select(context.Background(), offer(12, 6000)))
    // Past seat 11's original expiry, inside the extension from seat 12.
    time.Sleep(300 * time.Millisecond)

    st.ReplaceSnapshot(backend.snapshot())

    assert.True(t, st.IsLockedByMe(1, 11, "sess-a"),
        "selecting seat 12 must extend seat 11's server lock")
    assert.True(t, a.Contains(1, 11))
    assert.Greater(t, a.TimeLeft(), 59*time.Minute)
}

func TestSelect_ConflictLeavesCartUntouched(t *testing.T) {
    backend := newFakeBackend()
    ctx := context.Background()

    // Someone else already holds the seat.
    _, err := backend.AcquireLock(ctx, 1, 11, "sess-other")
    require.NoError(t, err)

    a := New(store.New(backend), "sess-a", 2, WithCountdown(time.Hour))
    err = a.Select(ctx, offer(11, 4500))
    require.ErrorIs(t, err, repository.ErrSeatLockedByOther)
    assert.False(t, a.Contains(1, 11))
    assert.Equal(t, 0, a.Count())
    assert.Zero(t, a.TimeLeft(), "a failed select must not start the countdown")
}

func TestSelect_AlreadyInCartSkipsNetwork(t *testing.T) {
    backend := newFakeBackend()
    a := New(store.New(backend), "sess-a", 2, WithCountdown(time.Hour))
    ctx := context.Background()

    require.NoError(t, a.Select(ctx, offer(11, 4500)))
    require.NoError(t, a.Select(ctx, offer(11, 4500)))
    assert.Equal(t, 1, a.Count())
    assert.Equal(t, 1, backend.acquireCount(), "re-selecting a held seat must not hit the server")
}

func TestSelect_SecondClickWhilePending(t *testing.T) {
    backend := newFakeBackend()
    gate := make(chan struct{})
    backend.gate = gate
    backend.entered = make(chan struct{}, 1)
    a := New(store.New(backend), "sess-a", 2, WithCountdown(time.Hour))

    done := make(chan error, 1)
    go func() { done <- a.Select(context.Background(), offer(11, 4500)) }()

    // Wait for the first click to be in flight, then click again.
    <-backend.entered
    err := a.Select(context.Background(), offer(11, 4500))
    require.ErrorIs(t, err, ErrSeatPending)

    close(gate)
    require.NoError(t, <-done)
    assert.Equal(t, 1, a.Count())
}

func TestDeselect_RemovesItemEvenWhenReleaseFails(t *testing.T) {
    backend := newFakeBackend()
    a := New(store.New(backend), "sess-a", 2, WithCountdown(time.Hour))
    ctx := context.Background()

    require.NoError(t, a.Select(ctx, offer(11, 4500)))
    backend.releaseErr = errors.New("connection reset")

    a.Deselect(ctx, 1, 11)
    assert.False(t, a.Contains(1, 11), "cart bookkeeping wins over a failed release")
    assert.Zero(t, a.TimeLeft(), "an empty cart has no countdown")
}

func TestCountdown_ExpiresExactlyOnceAndReleases(t *testing.T) {
    backend := newFakeBackend()
    st := store.New(backend)

    var mu sync.Mutex
    expiries := 0
    a := New(st, "sess-a", 2,
        WithCountdown(30*time.Millisecond),
        WithOnExpire(func() {
            mu.Lock()
            expiries++
            mu.Unlock()
        }),
    )
    ctx := context.Background()
    require.NoError(t, a.Select(ctx, offer(11, 4500)))
    require.NoError(t, a.Select(ctx, offer(12, 6000)))

    require.Eventually(t, func() bool { return a.Count() == 0 }, time.Second, 5*time.Millisecond)
    assert.Equal(t, 0, backend.lockCount(), "expiry must give every seat back")
    assert.Zero(t, a.TimeLeft())

    time.Sleep(100 * time.Millisecond) // room for stale timers to misfire
    mu.Lock()
    assert.Equal(t, 1, expiries, "the expiry callback must run exactly once")
    mu.Unlock()
}

func TestCountdown_RestartedByEachSelect(t *testing.T) {
    backend := newFakeBackend()
    a := New(store.New(backend), "sess-a", 2, WithCountdown(60*time.Millisecond))
    ctx := context.Background()

    require.NoError(t, a.Select(ctx, offer(11, 4500)))
    time.Sleep(40 * time.Millisecond)
    // The second select re-arms the shared deadline for the whole cart.
    require.NoError(t, a.Select(ctx, offer(12, 6000)))
    time.Sleep(40 * time.Millisecond)
    assert.Equal(t, 2, a.Count(), "restarted countdown must keep earlier seats alive")

    require.Eventually(t, func() bool { return a.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestConfirmPayment_LocalOnly(t *testing.T) {
    backend := newFakeBackend()
    a := New(store.New(backend), "sess-a", 2, WithCountdown(time.Hour))
    ctx := context.Background()

    require.NoError(t, a.Select(ctx, offer(11, 4500)))
    a.ConfirmPayment()

    assert.Equal(t, 0, a.Count())
    assert.Zero(t, a.TimeLeft())
    // The locks stay with the server: promotion to VENDIDO is the server's
    // job and arrives through the next sync, not through a local release.
    assert.Equal(t, 1, backend.lockCount())
}

func TestConfirmPayment_NoLateExpiry(t *testing.T) {
    backend := newFakeBackend()
    var mu sync.Mutex
    expiries := 0
    a := New(store.New(backend), "sess-a", 2,
        WithCountdown(30*time.Millisecond),
        WithOnExpire(func() {
            mu.Lock()
            expiries++
            mu.Unlock()
        }),
    )
    require.NoError(t, a.Select(context.Background(), offer(11, 4500)))
    a.ConfirmPayment()

    time.Sleep(100 * time.Millisecond)
    mu.Lock()
    assert.Equal(t, 0, expiries, "a confirmed cart must not fire the expiry")
    mu.Unlock()
    assert.Equal(t, 1, backend.lockCount())
}

func TestNotify_HintsAfterMutations(t *testing.T) {
    backend := newFakeBackend()
    var mu sync.Mutex
    var reasons []string
    a := New(store.New(backend), "sess-a", 2,
        WithCountdown(time.Hour),
        WithNotify(func(_ uint64, reason string) {
            mu.Lock()
            reasons = append(reasons, reason)
            mu.Unlock()
        }),
    )
    ctx := context.Background()
    require.NoError(t, a.Select(ctx, offer(11, 4500)))
    a.Deselect(ctx, 1, 11)
    a.ConfirmPayment()

    mu.Lock()
    defer mu.Unlock()
    assert.Equal(t, []string{"seat-selected", "seat-released", "sale-confirmed"}, reasons)
}

func TestConflictMessage(t *testing.T) {
    cases := []struct {
        err  error
        want string
    }{
        {repository.ErrSeatVendido, "This seat has already been sold."},
        {repository.ErrSeatReservado, "This seat is already reserved."},
        {repository.ErrSeatAnulado, "This seat is not on sale."},
        {repository.ErrSeatLockedByOther, "Another buyer is choosing this seat right now."},
        {ErrSeatPending, "Hold on, this seat is still being processed."},
        {store.ErrInvalidInput, "This seat cannot be selected."},
        {errors.New("boom"), "The seat could not be selected, please try again."},
    }
    for _, tc := range cases {
        assert.Equal(t, tc.want, ConflictMessage(tc.err))
    }
}
