package model

import "time"

// SeatLock statuses.  SELECCIONADO is the soft lock a buyer holds while
// choosing; it is the only status with an expiry.  LOCKED is an operator
// placed hard block with no owner session and no expiry.  RESERVADO and
// VENDIDO are locks promoted by checkout/payment flows; ownership is
// preserved through promotion so a buyer can re-identify their own
// purchase.  ANULADO marks a voided seat.
const (
    LockSeleccionado = "SELECCIONADO"
    LockLocked       = "LOCKED"
    LockReservado    = "RESERVADO"
    LockVendido      = "VENDIDO"
    LockAnulado      = "ANULADO"
)

// SeatLock represents one entry in the per-función lock table.  At most one
// active lock exists per (FuncionID, SeatID) pair; the database enforces
// this with a unique key so the insert is the single ordering decision for
// "who got there first".
//
// Fields:
//  ID           – primary key identifier.
//  FuncionID    – función the lock belongs to.
//  SeatID       – seat being locked.
//  OwnerSession – session token of the owner; empty for operator hard locks.
//  Status       – one of the Lock* constants.
//  LockToken    – opaque token returned to the client for correlation.
//  CreatedAt    – when the lock was created.
//  ExpiresAt    – expiry for SELECCIONADO locks; nil for every other status.
type SeatLock struct {
    ID           uint64     // seat_locks.id
    FuncionID    uint64     // seat_locks.funcion_id
    SeatID       uint64     // seat_locks.seat_id
    OwnerSession string     // seat_locks.owner_session
    Status       string     // seat_locks.status
    LockToken    string     // seat_locks.lock_token
    CreatedAt    time.Time  // seat_locks.created_at
    ExpiresAt    *time.Time // seat_locks.expires_at (nullable)
}

// ActiveAt reports whether the lock is still in force at the given instant.
// Expiry is a read-time check: a SELECCIONADO lock whose ExpiresAt has
// passed must be treated as absent by every reader even when the row has
// not been physically deleted yet.  Locks without an expiry never lapse.
func (l SeatLock) ActiveAt(now time.Time) bool {
    if l.Status != LockSeleccionado {
        return true
    }
    if l.ExpiresAt == nil {
        return true
    }
    return l.ExpiresAt.After(now)
}

// OwnedBy reports whether the lock belongs to the given session.  Operator
// hard locks have no owner and never match a buyer session.
func (l SeatLock) OwnedBy(sessionID string) bool {
    return l.OwnerSession != "" && l.OwnerSession == sessionID
}
