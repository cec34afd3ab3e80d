package model

import "time"

// Sala describes a physical room in a venue.  A sala owns a seat map and
// hosts many funciones.  Realtime synchronization is scoped per sala: all
// clients looking at any función of the same room poll the same channel.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – human readable room name.
//  IsActive  – whether the sala is open for sales.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Sala struct {
    ID        uint64    // salas.id
    Name      string    // salas.name
    IsActive  bool      // salas.is_active
    CreatedAt time.Time // salas.created_at
    UpdatedAt time.Time // salas.updated_at
}
