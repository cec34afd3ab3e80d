package model

import "time"

// SyncSnapshot is the unit of data carried by one poll cycle for a sala.
// Locks and Seats contain the records whose updated_at is newer than the
// watermark the client sent; Watermark is the server's current high water
// mark for the sala.  Clients must never apply a snapshot whose Watermark
// is not strictly newer than the one they already hold.
type SyncSnapshot struct {
    SalaID    uint64
    Locks     []SeatLock
    Seats     []FuncionSeat
    Watermark time.Time
}
