// Package seatstate derives the single authoritative display state of a
// seat from its possibly disagreeing sources: the durable funcion_seats
// estado, the lock table entry, and the buyer's own cart.  During the
// window between a local action and server confirmation these three can
// legitimately contradict each other; rather than scattering conditionals
// across the UI, every consumer goes through the one total-order priority
// function in this package.
package seatstate

import (
    "time"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
)

// DisplayState is the computed state a seat renders as.  The map editor,
// CRM and billing panels consume seats annotated with these values and
// never read lock rows directly.
type DisplayState string

const (
    Available       DisplayState = "available"
    SelectedByMe    DisplayState = "selected_by_me"
    SelectedByOther DisplayState = "selected_by_other"
    LockedAdmin     DisplayState = "locked_admin"
    Reserved        DisplayState = "reserved"
    Sold            DisplayState = "sold"
    SoldByMe        DisplayState = "sold_by_me"
    Cancelled       DisplayState = "cancelled"
)

// Resolve maps {durable estado, lock entry, local selection, session} to
// one DisplayState.  It is pure and deterministic: same inputs, same
// output, no clock reads beyond the instant passed in.
//
// lock is nil both when the lock is known to be absent and when no sync
// has completed yet.  In either case the durable estado remains the best
// known truth and is ranked first, so a sold seat can never transiently
// render as purchasable before the first snapshot arrives.
//
// The priority order, highest first: sold, reserved, cancelled, operator
// hard lock, another buyer's selection, own selection, available.  A lapsed
// SELECCIONADO lock is treated as absent (read-time expiry).
func Resolve(estado string, lock *model.SeatLock, selectedLocally bool, sessionID string, now time.Time) DisplayState {
    if lock != nil && !lock.ActiveAt(now) {
        lock = nil
    }

    if estado == model.EstadoVendido || (lock != nil && lock.Status == model.LockVendido) {
        if lock != nil && lock.Status == model.LockVendido && lock.OwnedBy(sessionID) {
            return SoldByMe
        }
        return Sold
    }
    if estado == model.EstadoReservado || (lock != nil && lock.Status == model.LockReservado) {
        return Reserved
    }
    if estado == model.EstadoAnulado || (lock != nil && lock.Status == model.LockAnulado) {
        return Cancelled
    }
    if lock != nil && lock.Status == model.LockLocked {
        return LockedAdmin
    }
    if lock != nil && lock.Status == model.LockSeleccionado {
        if lock.OwnedBy(sessionID) {
            return SelectedByMe
        }
        return SelectedByOther
    }
    if selectedLocally {
        return SelectedByMe
    }
    return Available
}

// Purchasable reports whether a seat in the given state can be the target
// of a new acquire attempt by the current session.
func Purchasable(s DisplayState) bool {
    return s == Available || s == SelectedByMe
}
