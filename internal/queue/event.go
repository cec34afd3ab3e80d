// Package queue defines message payloads exchanged over the message broker.
package queue

// SeatChangeEvent is published after any committed change to a sala's lock
// or estado state: acquire, release, hard lock, void, confirmed sale, or
// an explicit notify hint from a client.  It carries enough context for
// downstream consumers (audit log, kiosks shortening their poll delay)
// without querying the primary database.  FuncionID and SeatIDs are zero /
// empty for sala-wide hints.
type SeatChangeEvent struct {
    SalaID     uint64   `json:"sala_id"`
    FuncionID  uint64   `json:"funcion_id,omitempty"`
    SeatIDs    []uint64 `json:"seat_ids,omitempty"`
    Reason     string   `json:"reason"`
    OccurredAt string   `json:"occurred_at"`
}
