// Package cart aggregates the buyer's current seat selection.  It is the
// only writer of lock state on the client: UI clicks land here, the
// aggregator drives the lock store, and a countdown bounds how long the
// soft locks are honoured.  The countdown mirrors the server-side
// expires_at — the server timeout stays authoritative, the local timer is
// the cooperative client honouring it first.
package cart

import (
    "context"
    "errors"
    "log"
    "sync"
    "time"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
    "github.com/nmoreno/teatro-seat-locking/internal/repository"
    "github.com/nmoreno/teatro-seat-locking/internal/store"
)

// ErrSeatPending rejects a second click on a seat whose acquire or release
// round trip is still in flight.  The UI renders such seats as
// non-interactive to prevent double submission.
var ErrSeatPending = errors.New("seat operation already in flight")

// Offer is a seat as presented by the map with its price pinned at
// selection time.
type Offer struct {
    FuncionID  uint64
    SeatID     uint64
    RowLabel   string
    Number     uint32
    PriceCents uint32
}

// defaultCountdown bounds how long a cart holds its soft locks before
// they are released automatically.
const defaultCountdown = 5 * time.Minute

// Aggregator owns one session's cart for one función.
type Aggregator struct {
    store     *store.LockStore
    sessionID string
    salaID    uint64
    notify    func(salaID uint64, reason string)

    mu        sync.Mutex
    items     []model.CartItem
    inflight  map[uint64]bool
    countdown time.Duration
    deadline  time.Time
    timer     *time.Timer
    gen       int
    onExpire  func()
    now       func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCountdown overrides the cart countdown duration.
func WithCountdown(d time.Duration) Option {
    return func(a *Aggregator) { a.countdown = d }
}

// WithOnExpire registers a callback invoked (once per expiry) after the
// countdown released the cart's locks, so the UI can tell the buyer.
func WithOnExpire(fn func()) Option {
    return func(a *Aggregator) { a.onExpire = fn }
}

// WithNotify wires the best-effort change hint fired after successful
// acquires and releases, typically Syncer.NotifyChange.
func WithNotify(fn func(salaID uint64, reason string)) Option {
    return func(a *Aggregator) { a.notify = fn }
}

// WithClock injects the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
    return func(a *Aggregator) { a.now = now }
}

// New builds an empty cart for the session over the given lock store.
func New(st *store.LockStore, sessionID string, salaID uint64, opts ...Option) *Aggregator {
    a := &Aggregator{
        store:     st,
        sessionID: sessionID,
        salaID:    salaID,
        inflight:  make(map[uint64]bool),
        countdown: defaultCountdown,
        now:       time.Now,
    }
    for _, o := range opts {
        o(a)
    }
    return a
}

// Select acquires a lock for the offered seat and, on success, appends it
// to the cart with its pinned price and (re)starts the countdown.  On
// conflict the typed error distinguishes "already sold" from "currently
// being chosen by someone else" so the UI can phrase the message.  The
// seat stays pending from request to response; a second click in that
// window returns ErrSeatPending without touching the network.
func (a *Aggregator) Select(ctx context.Context, offer Offer) error {
    a.mu.Lock()
    if a.inflight[offer.SeatID] {
        a.mu.Unlock()
        return ErrSeatPending
    }
    for _, it := range a.items {
        if it.SeatID == offer.SeatID && it.FuncionID == offer.FuncionID {
            a.mu.Unlock()
            return nil // already in the cart
        }
    }
    a.inflight[offer.SeatID] = true
    a.mu.Unlock()

    _, err := a.store.Acquire(ctx, offer.FuncionID, offer.SeatID, a.sessionID)

    a.mu.Lock()
    delete(a.inflight, offer.SeatID)
    if err != nil {
        a.mu.Unlock()
        return err
    }
    a.items = append(a.items, model.CartItem{
        FuncionID:  offer.FuncionID,
        SeatID:     offer.SeatID,
        RowLabel:   offer.RowLabel,
        Number:     offer.Number,
        PriceCents: offer.PriceCents,
    })
    a.restartCountdownLocked()
    a.mu.Unlock()

    if a.notify != nil {
        a.notify(a.salaID, "seat-selected")
    }
    return nil
}

// Deselect releases the seat and removes it from the cart.  The cart's own
// bookkeeping always wins: the item is removed even when the remote
// release fails, and the next sync cycle reconciles whatever the server
// still holds.
func (a *Aggregator) Deselect(ctx context.Context, funcionID, seatID uint64) {
    a.mu.Lock()
    if a.inflight[seatID] {
        a.mu.Unlock()
        return
    }
    a.inflight[seatID] = true
    a.mu.Unlock()

    if _, err := a.store.Release(ctx, funcionID, seatID, a.sessionID); err != nil {
        log.Printf("cart: release of %d/%d failed, next sync reconciles: %v", funcionID, seatID, err)
    }

    a.mu.Lock()
    delete(a.inflight, seatID)
    a.removeItemLocked(funcionID, seatID)
    if len(a.items) == 0 {
        a.stopCountdownLocked()
    }
    a.mu.Unlock()

    if a.notify != nil {
        a.notify(a.salaID, "seat-released")
    }
}

// ConfirmPayment is the checkout handoff.  The aggregator does not flip
// lock status itself — the authoritative promotion to VENDIDO happened
// server-side and arrives through the next sync.  Locally the seats are
// terminal: the cart empties and the countdown stops.
func (a *Aggregator) ConfirmPayment() {
    a.mu.Lock()
    a.items = nil
    a.stopCountdownLocked()
    a.mu.Unlock()
    if a.notify != nil {
        a.notify(a.salaID, "sale-confirmed")
    }
}

// restartCountdownLocked (re)arms the expiry timer.  The generation
// counter guards against duplicate timers: a stale timer that fires after
// a restart sees a newer generation and does nothing, so each expiry runs
// exactly once.
func (a *Aggregator) restartCountdownLocked() {
    a.gen++
    gen := a.gen
    a.deadline = a.now().Add(a.countdown)
    if a.timer != nil {
        a.timer.Stop()
    }
    a.timer = time.AfterFunc(a.countdown, func() { a.expire(gen) })
}

func (a *Aggregator) stopCountdownLocked() {
    a.gen++
    a.deadline = time.Time{}
    if a.timer != nil {
        a.timer.Stop()
        a.timer = nil
    }
}

// expire releases every seat still soft-locked and empties the cart.
func (a *Aggregator) expire(gen int) {
    a.mu.Lock()
    if gen != a.gen {
        a.mu.Unlock()
        return
    }
    items := a.items
    a.items = nil
    a.deadline = time.Time{}
    a.timer = nil
    a.mu.Unlock()

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    for _, it := range items {
        if _, err := a.store.Release(ctx, it.FuncionID, it.SeatID, a.sessionID); err != nil {
            // Server expiry removes it anyway; the client lock has lapsed.
            log.Printf("cart: expiry release of %d/%d failed: %v", it.FuncionID, it.SeatID, err)
        }
    }
    if len(items) > 0 && a.notify != nil {
        a.notify(a.salaID, "cart-expired")
    }
    if a.onExpire != nil {
        a.onExpire()
    }
}

func (a *Aggregator) removeItemLocked(funcionID, seatID uint64) {
    for i, it := range a.items {
        if it.FuncionID == funcionID && it.SeatID == seatID {
            a.items = append(a.items[:i], a.items[i+1:]...)
            return
        }
    }
}

// Contains reports whether the seat is in the cart, which is the
// "selected locally" input of the display-state resolver.
func (a *Aggregator) Contains(funcionID, seatID uint64) bool {
    a.mu.Lock()
    defer a.mu.Unlock()
    for _, it := range a.items {
        if it.FuncionID == funcionID && it.SeatID == seatID {
            return true
        }
    }
    return false
}

// Count returns how many seats the cart holds.
func (a *Aggregator) Count() int {
    a.mu.Lock()
    defer a.mu.Unlock()
    return len(a.items)
}

// TotalCents sums the pinned prices of the cart.
func (a *Aggregator) TotalCents() uint64 {
    a.mu.Lock()
    defer a.mu.Unlock()
    var total uint64
    for _, it := range a.items {
        total += uint64(it.PriceCents)
    }
    return total
}

// TimeLeft returns the remaining countdown, zero when no countdown runs.
func (a *Aggregator) TimeLeft() time.Duration {
    a.mu.Lock()
    defer a.mu.Unlock()
    if a.deadline.IsZero() {
        return 0
    }
    left := a.deadline.Sub(a.now())
    if left < 0 {
        return 0
    }
    return left
}

// Snapshot returns the cart as consumed by the outer panels: items in
// selection order, total, and whole seconds left.
func (a *Aggregator) Snapshot() model.Cart {
    a.mu.Lock()
    defer a.mu.Unlock()
    items := make([]model.CartItem, len(a.items))
    copy(items, a.items)
    var total uint64
    for _, it := range items {
        total += uint64(it.PriceCents)
    }
    left := 0
    if !a.deadline.IsZero() {
        if d := a.deadline.Sub(a.now()); d > 0 {
            left = int(d / time.Second)
        }
    }
    return model.Cart{Items: items, TotalCents: total, TimeLeftSeconds: left}
}

// ConflictMessage translates an acquire error into the wording shown to the
// buyer.  Unknown errors get a generic retry message.
func ConflictMessage(err error) string {
    switch {
    case errors.Is(err, repository.ErrSeatVendido):
        return "This seat has already been sold."
    case errors.Is(err, repository.ErrSeatReservado):
        return "This seat is already reserved."
    case errors.Is(err, repository.ErrSeatAnulado):
        return "This seat is not on sale."
    case errors.Is(err, repository.ErrSeatLockedByOther):
        return "Another buyer is choosing this seat right now."
    case errors.Is(err, ErrSeatPending):
        return "Hold on, this seat is still being processed."
    case errors.Is(err, store.ErrInvalidInput):
        return "This seat cannot be selected."
    default:
        return "The seat could not be selected, please try again."
    }
}
