// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and the client-side lock store to distinguish between
// different failure scenarios. The conflict family is deliberately
// fine-grained: the UI presents different messaging for a seat that
// is already sold versus one another buyer is choosing right now.
package repository

import "errors"

// ErrSeatVendido is returned when an acquire is attempted on a seat whose
// estado or lock is VENDIDO. Handlers translate this into an HTTP 409
// with reason "vendido". No retry ever succeeds; the sale is final.
var ErrSeatVendido = errors.New("seat already sold")

// ErrSeatReservado is returned when the seat carries a RESERVADO estado or
// lock placed by a checkout flow. Handlers translate this into an HTTP
// 409 with reason "reservado".
var ErrSeatReservado = errors.New("seat already reserved")

// ErrSeatAnulado is returned when the seat has been voided and cannot be
// sold. Handlers translate this into an HTTP 409 with reason "anulado".
var ErrSeatAnulado = errors.New("seat is voided")

// ErrSeatLockedByOther is returned when a different, non-expired session
// holds the SELECCIONADO lock, or an operator placed a hard LOCKED block.
// Handlers translate this into an HTTP 409 with reason "locked". The seat
// may become available again when the other lock expires or is released.
var ErrSeatLockedByOther = errors.New("seat locked by another session")

// ErrNotOwner is returned when a release targets a lock owned by a
// different session. This is expected under normal concurrent use (the
// other side usually re-acquired after an expiry); callers log it and let
// the next sync cycle resolve the disagreement instead of surfacing it.
var ErrNotOwner = errors.New("lock owned by another session")

// ErrFuncionNotFound is returned when the referenced función does not
// exist. Handlers translate this into an HTTP 404.
var ErrFuncionNotFound = errors.New("funcion not found")

// ErrSalaNotFound is returned when the referenced sala does not exist.
// Handlers translate this into an HTTP 404.
var ErrSalaNotFound = errors.New("sala not found")

// ErrSeatNotFound is returned when a seat has no funcion_seats record for
// the given función, which means it is not on sale there at all.
var ErrSeatNotFound = errors.New("seat not found for funcion")

// ErrSeatExists is returned when opening seats for a función collides with
// a seat already on sale there. Handlers translate this into an HTTP 409.
var ErrSeatExists = errors.New("seat already on sale for funcion")

// ErrEstadoTransition is returned when a durable estado change would move
// backwards (for example voiding a seat that is already ANULADO, or
// confirming a sale over a VENDIDO estado written by another flow).
var ErrEstadoTransition = errors.New("invalid estado transition")
