package model

import "time"

// Funcion represents a scheduled instance of an event in a sala (a
// "showtime").  Seat availability is tracked per función, not per seat:
// the same physical seat exists independently in every función of the
// room, so all lock and state records carry a FuncionID.
//
// Fields:
//  ID             – primary key identifier.
//  SalaID         – room where the función takes place.
//  Title          – event title shown to buyers.
//  StartsAt       – when the función begins.
//  BasePriceCents – default price in cents for seats without a zone
//                   specific override.
//  Status         – current state (SCHEDULED, CANCELLED, FINISHED).
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type Funcion struct {
    ID             uint64    // funciones.id
    SalaID         uint64    // funciones.sala_id
    Title          string    // funciones.title
    StartsAt       time.Time // funciones.starts_at
    BasePriceCents uint32    // funciones.base_price_cents
    Status         string    // funciones.status
    CreatedAt      time.Time // funciones.created_at
    UpdatedAt      time.Time // funciones.updated_at
}
