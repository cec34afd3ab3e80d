// Package realtime keeps client lock stores in step with the server by
// short-interval polling.  There is no push channel: each subscribed sala
// gets one timer-driven poller that asks for updates since its watermark
// and bulk-replaces the store snapshot when something newer arrives.  A
// transport failure flips the poller into a degraded state that suppresses
// further requests until a single retry at cool-down expiry, so a failing
// backend is never hammered every tick.
package realtime

import (
    "context"
    "log"
    "sync"
    "time"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
)

// Source is the server-side polling API.
type Source interface {
    LocksSince(ctx context.Context, salaID uint64, since time.Time) (model.SyncSnapshot, error)
    NotifyChange(ctx context.Context, salaID uint64, reason string) error
}

// Sink receives applied snapshots.  *store.LockStore satisfies this.
type Sink interface {
    ReplaceSnapshot(model.SyncSnapshot)
}

// Options tune one Syncer.  Zero values select the defaults observed in
// production: 2s polls and a 30s cool-down.
type Options struct {
    PollInterval   time.Duration
    Cooldown       time.Duration
    RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
    if o.PollInterval <= 0 {
        o.PollInterval = 2 * time.Second
    }
    if o.Cooldown <= 0 {
        o.Cooldown = 30 * time.Second
    }
    if o.RequestTimeout <= 0 {
        o.RequestTimeout = 5 * time.Second
    }
    return o
}

// Syncer runs one poller per subscribed sala.
type Syncer struct {
    src  Source
    opts Options

    mu     sync.Mutex
    rooms  map[uint64]*room
    closed bool
}

type room struct {
    salaID    uint64
    sink      Sink
    stop      chan struct{}
    done      chan struct{}
    mu        sync.Mutex
    watermark time.Time
    degraded  bool
    applied   bool
}

// New builds a Syncer over the given source.
func New(src Source, opts Options) *Syncer {
    return &Syncer{src: src, opts: opts.withDefaults(), rooms: make(map[uint64]*room)}
}

// Subscribe starts polling the sala into the sink.  Subscribing an already
// monitored sala is a no-op; the first poll fires immediately.
func (s *Syncer) Subscribe(salaID uint64, sink Sink) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.closed {
        return
    }
    if _, ok := s.rooms[salaID]; ok {
        return
    }
    r := &room{
        salaID: salaID,
        sink:   sink,
        stop:   make(chan struct{}),
        done:   make(chan struct{}),
    }
    s.rooms[salaID] = r
    go s.run(r)
}

// Unsubscribe stops the sala's poller and drops its watermark state.  Safe
// to call repeatedly and for salas that were never subscribed.
func (s *Syncer) Unsubscribe(salaID uint64) {
    s.mu.Lock()
    r, ok := s.rooms[salaID]
    if ok {
        delete(s.rooms, salaID)
    }
    s.mu.Unlock()
    if ok {
        close(r.stop)
        <-r.done
    }
}

// Close stops every poller.  Invoked on process teardown so no timers
// leak; like Unsubscribe it is idempotent.
func (s *Syncer) Close() {
    s.mu.Lock()
    if s.closed {
        s.mu.Unlock()
        return
    }
    s.closed = true
    rooms := make([]*room, 0, len(s.rooms))
    for id, r := range s.rooms {
        rooms = append(rooms, r)
        delete(s.rooms, id)
    }
    s.mu.Unlock()
    for _, r := range rooms {
        close(r.stop)
        <-r.done
    }
}

// Degraded reports whether the sala's poller is currently in its cool-down
// after a transport failure.
func (s *Syncer) Degraded(salaID uint64) bool {
    s.mu.Lock()
    r, ok := s.rooms[salaID]
    s.mu.Unlock()
    if !ok {
        return false
    }
    r.mu.Lock()
    defer r.mu.Unlock()
    return r.degraded
}

// NotifyChange pushes a best-effort change hint for the sala so other
// clients pick up a local write before their next scheduled tick.  It is
// fire-and-forget: failures are logged and never propagate to the
// operation that triggered the hint.
func (s *Syncer) NotifyChange(salaID uint64, reason string) {
    go func() {
        ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
        defer cancel()
        if err := s.src.NotifyChange(ctx, salaID, reason); err != nil {
            log.Printf("realtime: notify sala %d (%s) failed: %v", salaID, reason, err)
        }
    }()
}

// run is the per-sala poll loop.  The timer doubles as the circuit
// breaker: a successful poll re-arms it at the poll interval, a failure
// re-arms it at the cool-down, which suppresses every tick in between and
// yields exactly one retry when the cool-down lapses.  The first
// successful poll after a failure clears the degraded flag immediately —
// there is no separate half-open probing.
func (s *Syncer) run(r *room) {
    defer close(r.done)
    timer := time.NewTimer(0) // first poll fires immediately
    defer timer.Stop()
    for {
        select {
        case <-r.stop:
            return
        case <-timer.C:
        }
        if err := s.pollOnce(r); err != nil {
            r.mu.Lock()
            wasDegraded := r.degraded
            r.degraded = true
            r.mu.Unlock()
            if !wasDegraded {
                log.Printf("realtime: sala %d poll failed, degraded for %s: %v", r.salaID, s.opts.Cooldown, err)
            }
            timer.Reset(s.opts.Cooldown)
            continue
        }
        r.mu.Lock()
        if r.degraded {
            log.Printf("realtime: sala %d recovered", r.salaID)
            r.degraded = false
        }
        r.mu.Unlock()
        timer.Reset(s.opts.PollInterval)
    }
}

// pollOnce performs one "updates since watermark" request and applies the
// snapshot if it is strictly newer than what the room already holds.  The
// very first successful response is always applied so the sink learns the
// difference between "no locks" and "never synced".
func (s *Syncer) pollOnce(r *room) error {
    r.mu.Lock()
    since := r.watermark
    r.mu.Unlock()

    ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
    defer cancel()
    snap, err := s.src.LocksSince(ctx, r.salaID, since)
    if err != nil {
        return err
    }

    r.mu.Lock()
    apply := !r.applied || snap.Watermark.After(r.watermark)
    if apply {
        if snap.Watermark.After(r.watermark) {
            r.watermark = snap.Watermark
        }
        r.applied = true
    }
    r.mu.Unlock()
    if apply {
        r.sink.ReplaceSnapshot(snap)
    }
    return nil
}
