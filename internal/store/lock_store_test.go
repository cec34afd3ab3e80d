package store

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
    "github.com/nmoreno/teatro-seat-locking/internal/seatstate"
)

// fakeBackend arbitrates locks the way the server does: first session to
// claim a (funcion, seat) pair wins, everyone else gets a conflict.
type fakeBackend struct {
    mu      sync.Mutex
    locks   map[Key]model.SeatLock
    nextID  uint64
    failErr error // when set, every call fails with this error
    ttl     time.Duration
}

func newFakeBackend() *fakeBackend {
    return &fakeBackend{locks: make(map[Key]model.SeatLock), ttl: 5 * time.Minute}
}

func (b *fakeBackend) AcquireLock(_ context.Context, funcionID, seatID uint64, sessionID string) (model.SeatLock, error) {
    b.mu.Lock()
    defer b.mu.Unlock()
    if b.failErr != nil {
        return model.SeatLock{}, b.failErr
    }
    k := Key{FuncionID: funcionID, SeatID: seatID}
    if existing, ok := b.locks[k]; ok {
        if existing.OwnedBy(sessionID) {
            return existing, nil
        }
        return model.SeatLock{}, repository.ErrSeatLockedByOther
    }
    b.nextID++
    exp := time.Now().Add(b.ttl)
    l := model.SeatLock{
        ID:           b.nextID,
        FuncionID:    funcionID,
        SeatID:       seatID,
        OwnerSession: sessionID,
        Status:       model.LockSeleccionado,
        CreatedAt:    time.Now(),
        ExpiresAt:    &exp,
    }
    b.locks[k] = l
    return l, nil
}

func (b *fakeBackend) ReleaseLock(_ context.Context, funcionID, seatID uint64, sessionID string) (bool, error) {
    b.mu.Lock()
    defer b.mu.Unlock()
    if b.failErr != nil {
        return false, b.failErr
    }
    k := Key{FuncionID: funcionID, SeatID: seatID}
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

func TestAcquire_MutualExclusion(t *testing.T) {
    backend := newFakeBackend()
    storeA := New(backend)
    storeB := New(backend)
    ctx := context.Background()

    // Session A claims seat 7 first.
    lock, err := storeA.Acquire(ctx, 1, 7, "sess-a")
    require.NoError(t, err)
    assert.Equal(t, "sess-a", lock.OwnerSession)
    assert.True(t, storeA.IsLockedByMe(1, 7, "sess-a"))

    // Session B loses the race and must not record any local state.
    _, err = storeB.Acquire(ctx, 1, 7, "sess-b")
    require.ErrorIs(t, err, repository.ErrSeatLockedByOther)
    assert.False(t, storeB.IsLocked(1, 7), "loser must not cache a lock it was denied")

    // After A releases, B succeeds.
    released, err := storeA.Release(ctx, 1, 7, "sess-a")
    require.NoError(t, err)
    assert.True(t, released)
    _, err = storeB.Acquire(ctx, 1, 7, "sess-b")
    require.NoError(t, err)
    assert.True(t, storeB.IsLockedByMe(1, 7, "sess-b"))
}

func TestAcquire_NoOptimisticStateOnTransportFailure(t *testing.T) {
    backend := newFakeBackend()
    backend.failErr = errors.New("connection refused")
    st := New(backend)

    _, err := st.Acquire(context.Background(), 1, 3, "sess-a")
    require.Error(t, err)
    assert.False(t, st.IsLocked(1, 3))
    assert.Equal(t, seatstate.Available, st.DisplayFor(1, 3, false, "sess-a"))
}

func TestAcquire_RejectsInvalidInput(t *testing.T) {
    st := New(newFakeBackend())
    ctx := context.Background()

    _, err := st.Acquire(ctx, 0, 3, "sess-a")
    assert.ErrorIs(t, err, ErrInvalidInput)
    _, err = st.Acquire(ctx, 1, 0, "sess-a")
    assert.ErrorIs(t, err, ErrInvalidInput)
    _, err = st.Acquire(ctx, 1, 3, "")
    assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRelease_MissingLockIsNoOp(t *testing.T) {
    st := New(newFakeBackend())
    released, err := st.Release(context.Background(), 1, 9, "sess-a")
    require.NoError(t, err)
    assert.False(t, released)
}

func TestRelease_NotOwnerSwallowedAndDropped(t *testing.T) {
    backend := newFakeBackend()
    ctx := context.Background()

    // Another session owns the seat on the server.
    _, err := backend.AcquireLock(ctx, 1, 5, "sess-other")
    require.NoError(t, err)

    st := New(backend)
    released, err := st.Release(ctx, 1, 5, "sess-a")
    require.NoError(t, err, "ownership races are reconciled by sync, not surfaced")
    assert.False(t, released)
}

func TestReplaceSnapshot_ServerTruthWins(t *testing.T) {
    now := time.Now()
    clock := func() time.Time { return now }
    st := New(newFakeBackend(), WithClock(clock))

    exp := now.Add(time.Minute)
    snap := model.SyncSnapshot{
        SalaID: 2,
        Locks: []model.SeatLock{
            {ID: 1, FuncionID: 1, SeatID: 4, OwnerSession: "sess-x", Status: model.LockSeleccionado, ExpiresAt: &exp},
            {ID: 2, FuncionID: 1, SeatID: 5, Status: model.LockLocked},
        },
        Seats: []model.FuncionSeat{
            {FuncionID: 1, SeatID: 6, Estado: model.EstadoVendido},
        },
        Watermark: now,
    }
    st.ReplaceSnapshot(snap)

    assert.True(t, st.Synced())
    assert.True(t, st.IsLocked(1, 4))
    assert.True(t, st.IsLocked(1, 5))
    estado, ok := st.EstadoFor(1, 6)
    require.True(t, ok)
    assert.Equal(t, model.EstadoVendido, estado)

    // A later snapshot without seat 4 removes it.
    st.ReplaceSnapshot(model.SyncSnapshot{SalaID: 2, Watermark: now.Add(time.Second)})
    assert.False(t, st.IsLocked(1, 4))
    assert.False(t, st.IsLocked(1, 5))
    // Durable estados are merged, not replaced.
    estado, ok = st.EstadoFor(1, 6)
    require.True(t, ok)
    assert.Equal(t, model.EstadoVendido, estado)
}

func TestReplaceSnapshot_LapsedLocksFiltered(t *testing.T) {
    now := time.Now()
    st := New(newFakeBackend(), WithClock(func() time.Time { return now }))

    past := now.Add(-time.Second)
    st.ReplaceSnapshot(model.SyncSnapshot{
        Locks: []model.SeatLock{
            {ID: 1, FuncionID: 1, SeatID: 4, OwnerSession: "sess-x", Status: model.LockSeleccionado, ExpiresAt: &past},
        },
        Watermark: now,
    })
    assert.False(t, st.IsLocked(1, 4), "a lapsed lock in the snapshot counts as absent")
}

func TestReplaceSnapshot_GraceProtectsFreshAcquire(t *testing.T) {
    now := time.Now()
    current := now
    clock := func() time.Time { return current }
    backend := newFakeBackend()
    st := New(backend, WithGrace(3*time.Second), WithClock(clock))

    _, err := st.Acquire(context.Background(), 1, 8, "sess-a")
    require.NoError(t, err)

    // A stale snapshot taken before the acquire does not contain the lock.
    stale := model.SyncSnapshot{Watermark: now.Add(-time.Second)}

    current = now.Add(time.Second) // inside the grace window
    st.ReplaceSnapshot(stale)
    assert.True(t, st.IsLockedByMe(1, 8, "sess-a"), "fresh acquire must survive a stale snapshot")

    current = now.Add(5 * time.Second) // grace lapsed
    st.ReplaceSnapshot(stale)
    assert.False(t, st.IsLocked(1, 8), "after the grace window server truth wins")
}

func TestDisplayFor_WiresResolver(t *testing.T) {
    now := time.Now()
    st := New(newFakeBackend(), WithClock(func() time.Time { return now }))

    st.SeedEstados([]model.FuncionSeat{{FuncionID: 1, SeatID: 2, Estado: model.EstadoVendido}})
    assert.Equal(t, seatstate.Sold, st.DisplayFor(1, 2, false, "sess-a"))

    exp := now.Add(time.Minute)
    st.ReplaceSnapshot(model.SyncSnapshot{
        Locks: []model.SeatLock{
            {FuncionID: 1, SeatID: 3, OwnerSession: "sess-b", Status: model.LockSeleccionado, ExpiresAt: &exp},
        },
        Watermark: now,
    })
    assert.Equal(t, seatstate.SelectedByOther, st.DisplayFor(1, 3, false, "sess-a"))
    assert.Equal(t, seatstate.SelectedByMe, st.DisplayFor(1, 3, false, "sess-b"))
    assert.Equal(t, seatstate.Available, st.DisplayFor(1, 99, false, "sess-a"))
}

func TestSubscribe_NotifiedOnChangeAndUnsubscribe(t *testing.T) {
    backend := newFakeBackend()
    st := New(backend)

    var mu sync.Mutex
    calls := 0
    unsub := st.Subscribe(func() {
        mu.Lock()
        calls++
        mu.Unlock()
    })

    _, err := st.Acquire(context.Background(), 1, 7, "sess-a")
    require.NoError(t, err)
    mu.Lock()
    assert.Equal(t, 1, calls)
    mu.Unlock()

    unsub()
    _, err = st.Release(context.Background(), 1, 7, "sess-a")
    require.NoError(t, err)
    mu.Lock()
    assert.Equal(t, 1, calls, "no notifications after unsubscribe")
    mu.Unlock()
}
