// Package store holds the client-visible lock state for one sala.  It is
// the single place where acquire results, release results and polled
// snapshots meet; the resolver and the cart read from it, never from the
// network directly.  The store is an explicitly owned, injectable value —
// tests run several of them in one process to simulate competing sessions.
package store

import (
    "context"
    "errors"
    "log"
    "sync"
    "time"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
    "github.com/nmoreno/teatro-seat-locking/internal/repository"
    "github.com/nmoreno/teatro-seat-locking/internal/seatstate"
)

// ErrInvalidInput rejects malformed seat/función ids or an empty session
// before any network call is made.
var ErrInvalidInput = errors.New("invalid seat, funcion or session id")

// Backend is the remote lock API the store writes through.  The server
// performs the conditional write; the store never decides ownership from
// its own snapshot.
type Backend interface {
    AcquireLock(ctx context.Context, funcionID, seatID uint64, sessionID string) (model.SeatLock, error)
    ReleaseLock(ctx context.Context, funcionID, seatID uint64, sessionID string) (bool, error)
}

// Key identifies a lock slot: locks are scoped per seat and per función.
type Key struct {
    FuncionID uint64
    SeatID    uint64
}

// defaultGrace is how long a lock the local session just acquired survives
// a snapshot that does not contain it yet.  Snapshots race the acquire
// round trip; without the grace window a freshly granted seat would
// flicker back to available until the next poll.
const defaultGrace = 3 * time.Second

// LockStore caches the active locks and durable seat estados of one sala.
type LockStore struct {
    mu         sync.Mutex
    backend    Backend
    locks      map[Key]model.SeatLock
    estados    map[Key]model.FuncionSeat
    acquiredAt map[Key]time.Time
    synced     bool
    grace      time.Duration
    subs       map[int]func()
    nextSub    int
    now        func() time.Time
}

// Option configures a LockStore.
type Option func(*LockStore)

// WithGrace overrides the snapshot grace window.
func WithGrace(d time.Duration) Option {
    return func(s *LockStore) { s.grace = d }
}

// WithClock injects the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
    return func(s *LockStore) { s.now = now }
}

// New builds an empty LockStore over the given backend.
func New(backend Backend, opts ...Option) *LockStore {
    s := &LockStore{
        backend:    backend,
        locks:      make(map[Key]model.SeatLock),
        estados:    make(map[Key]model.FuncionSeat),
        acquiredAt: make(map[Key]time.Time),
        grace:      defaultGrace,
        subs:       make(map[int]func()),
        now:        time.Now,
    }
    for _, o := range opts {
        o(s)
    }
    return s
}

// Acquire asks the server for a SELECCIONADO lock.  On success the lock is
// recorded locally and subscribers are notified.  On any failure —
// conflict or transport — no optimistic local state is left behind: the
// seat must not render as "mine" until the server has confirmed, or two
// clients could both believe they hold it.
func (s *LockStore) Acquire(ctx context.Context, funcionID, seatID uint64, sessionID string) (model.SeatLock, error) {
    if funcionID == 0 || seatID == 0 || sessionID == "" {
        return model.SeatLock{}, ErrInvalidInput
    }
    lock, err := s.backend.AcquireLock(ctx, funcionID, seatID, sessionID)
    if err != nil {
        return model.SeatLock{}, err
    }
    s.mu.Lock()
    k := Key{FuncionID: funcionID, SeatID: seatID}
    s.locks[k] = lock
    s.acquiredAt[k] = s.now()
    s.mu.Unlock()
    s.notify()
    return lock, nil
}

// Release gives the session's soft lock back.  A missing lock is a no-op;
// a lock owned by someone else is a recoverable inconsistency that is
// logged and left for the next sync cycle to resolve.  Only transport
// failures are returned to the caller.
func (s *LockStore) Release(ctx context.Context, funcionID, seatID uint64, sessionID string) (bool, error) {
    if funcionID == 0 || seatID == 0 || sessionID == "" {
        return false, ErrInvalidInput
    }
    released, err := s.backend.ReleaseLock(ctx, funcionID, seatID, sessionID)
    if err != nil {
        if errors.Is(err, repository.ErrNotOwner) {
            log.Printf("lockstore: release of %d/%d raced another owner, next sync resolves", funcionID, seatID)
            s.dropOwn(funcionID, seatID, sessionID)
            return false, nil
        }
        return false, err
    }
    s.dropOwn(funcionID, seatID, sessionID)
    return released, nil
}

// dropOwn removes the local entry when it belongs to the session.
func (s *LockStore) dropOwn(funcionID, seatID uint64, sessionID string) {
    s.mu.Lock()
    k := Key{FuncionID: funcionID, SeatID: seatID}
    changed := false
    if l, ok := s.locks[k]; ok && l.OwnedBy(sessionID) {
        delete(s.locks, k)
        delete(s.acquiredAt, k)
        changed = true
    }
    s.mu.Unlock()
    if changed {
        s.notify()
    }
}

// IsLocked reports whether the seat carries any lock still in force.
// Expiry is checked at read time; a lapsed lock counts as absent even when
// still present in the snapshot.
func (s *LockStore) IsLocked(funcionID, seatID uint64) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    l, ok := s.locks[Key{FuncionID: funcionID, SeatID: seatID}]
    return ok && l.ActiveAt(s.now())
}

// IsLockedByMe reports whether the seat carries an in-force lock owned by
// the given session.
func (s *LockStore) IsLockedByMe(funcionID, seatID uint64, sessionID string) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    l, ok := s.locks[Key{FuncionID: funcionID, SeatID: seatID}]
    return ok && l.ActiveAt(s.now()) && l.OwnedBy(sessionID)
}

// LockFor returns the in-force lock for the seat, if any.
func (s *LockStore) LockFor(funcionID, seatID uint64) (model.SeatLock, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    l, ok := s.locks[Key{FuncionID: funcionID, SeatID: seatID}]
    if !ok || !l.ActiveAt(s.now()) {
        return model.SeatLock{}, false
    }
    return l, true
}

// EstadoFor returns the last known durable estado for the seat.  The
// second result is false when no snapshot or seat-map load has reported
// the seat yet.
func (s *LockStore) EstadoFor(funcionID, seatID uint64) (string, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    fs, ok := s.estados[Key{FuncionID: funcionID, SeatID: seatID}]
    if !ok {
        return "", false
    }
    return fs.Estado, true
}

// Synced reports whether at least one snapshot has been applied.  Before
// that, lock absence means "unknown", not "free".
func (s *LockStore) Synced() bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.synced
}

// SeedEstados primes the durable estados from an initial seat-map load, so
// the resolver has persisted truth to fall back on before the first sync
// completes.
func (s *LockStore) SeedEstados(seats []model.FuncionSeat) {
    s.mu.Lock()
    for _, fs := range seats {
        s.estados[Key{FuncionID: fs.FuncionID, SeatID: fs.SeatID}] = fs
    }
    s.mu.Unlock()
    s.notify()
}

// ReplaceSnapshot bulk-replaces the lock cache with the server's snapshot
// and merges the changed durable estados.  It is idempotent and honours a
// short grace window: a lock this client acquired moments ago is kept even
// when the snapshot predates it, so a granted seat does not flicker.  Once
// the window passes, server truth wins unconditionally.
func (s *LockStore) ReplaceSnapshot(snap model.SyncSnapshot) {
    s.mu.Lock()
    now := s.now()
    fresh := make(map[Key]model.SeatLock, len(snap.Locks))
    for _, l := range snap.Locks {
        if !l.ActiveAt(now) {
            continue
        }
        fresh[Key{FuncionID: l.FuncionID, SeatID: l.SeatID}] = l
    }
    for k, t := range s.acquiredAt {
        if now.Sub(t) >= s.grace {
            delete(s.acquiredAt, k)
            continue
        }
        if _, ok := fresh[k]; ok {
            // Server confirmed the lock; grace no longer needed.
            delete(s.acquiredAt, k)
            continue
        }
        if local, ok := s.locks[k]; ok && local.ActiveAt(now) {
            fresh[k] = local
        }
    }
    s.locks = fresh
    for _, fs := range snap.Seats {
        s.estados[Key{FuncionID: fs.FuncionID, SeatID: fs.SeatID}] = fs
    }
    s.synced = true
    s.mu.Unlock()
    s.notify()
}

// DisplayFor computes the authoritative display state of a seat for the
// given session, combining the cached estado, the cached lock and the
// caller's local selection flag through the resolver.
func (s *LockStore) DisplayFor(funcionID, seatID uint64, selectedLocally bool, sessionID string) seatstate.DisplayState {
    s.mu.Lock()
    k := Key{FuncionID: funcionID, SeatID: seatID}
    estado := ""
    if fs, ok := s.estados[k]; ok {
        estado = fs.Estado
    }
    var lock *model.SeatLock
    if l, ok := s.locks[k]; ok {
        cp := l
        lock = &cp
    }
    now := s.now()
    s.mu.Unlock()
    return seatstate.Resolve(estado, lock, selectedLocally, sessionID, now)
}

// Subscribe registers a change callback and returns its unsubscribe
// function.  Callbacks run synchronously after every store mutation and
// must not call back into the store while holding their own locks.
func (s *LockStore) Subscribe(fn func()) func() {
    s.mu.Lock()
    id := s.nextSub
    s.nextSub++
    s.subs[id] = fn
    s.mu.Unlock()
    return func() {
        s.mu.Lock()
        delete(s.subs, id)
        s.mu.Unlock()
    }
}

// notify invokes subscribers outside the store lock.
func (s *LockStore) notify() {
    s.mu.Lock()
    fns := make([]func(), 0, len(s.subs))
    for _, fn := range s.subs {
        fns = append(fns, fn)
    }
    s.mu.Unlock()
    for _, fn := range fns {
        fn()
    }
}
