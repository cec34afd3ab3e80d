package model

import "time"

// Seat describes a physical seat in a sala.  Seats are grouped by zone
// (pricing area) and optionally by table for cabaret style layouts.  The
// seat itself carries no availability: per-función state lives in
// FuncionSeat and transient locks live in SeatLock.
//
// Fields:
//  ID        – primary key identifier, unique within a map.
//  SalaID    – sala to which this seat belongs.
//  ZoneID    – pricing zone reference.
//  TableID   – table grouping reference (zero when the seat is not at a table).
//  RowLabel  – letter or string designating the row.
//  Number    – number of the seat within the row.
//  IsActive  – whether the seat is sellable at all.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Seat struct {
    ID        uint64    // seats.id
    SalaID    uint64    // seats.sala_id
    ZoneID    uint64    // seats.zone_id
    TableID   uint64    // seats.table_id
    RowLabel  string    // seats.row_label
    Number    uint32    // seats.number
    IsActive  bool      // seats.is_active
    CreatedAt time.Time // seats.created_at
    UpdatedAt time.Time // seats.updated_at
}

// Persisted per-función seat estados.  These are durable business states
// written by checkout, payment and operator flows.  They move forward only:
// DISPONIBLE -> RESERVADO -> VENDIDO, or sideways to ANULADO; VENDIDO never
// reverts except through an explicit void.
const (
    EstadoDisponible = "DISPONIBLE"
    EstadoReservado  = "RESERVADO"
    EstadoVendido    = "VENDIDO"
    EstadoAnulado    = "ANULADO"
)

// FuncionSeat links a seat to a particular función and tracks the durable
// estado and the pinned price.  There is one funcion_seats record for every
// active seat in the sala when a función is created.  UpdatedAt doubles as
// the sync watermark source: every estado change bumps it.
//
// Fields:
//  ID         – primary key identifier.
//  FuncionID  – the función to which this record belongs.
//  SeatID     – the seat being made available.
//  Estado     – durable state (see Estado* constants).
//  PriceCents – price in cents for this seat in this función.
//  UpdatedAt  – timestamp of the last estado change.
type FuncionSeat struct {
    ID         uint64    // funcion_seats.id
    FuncionID  uint64    // funcion_seats.funcion_id
    SeatID     uint64    // funcion_seats.seat_id
    Estado     string    // funcion_seats.estado
    PriceCents uint32    // funcion_seats.price_cents
    UpdatedAt  time.Time // funcion_seats.updated_at
}
