package repository

import (
    "context"
    "database/sql"
    "time"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
)

// FuncionSeatRepo encapsulates database operations for funcion_seats, the
// durable per-función seat estados with pinned prices.  Estados are written
// only by checkout, confirmation and operator flows — never by soft locks,
// which live exclusively in seat_locks.
type FuncionSeatRepo struct {
    db *sql.DB
}

// NewFuncionSeatRepo constructs a FuncionSeatRepo given a DB handle.
func NewFuncionSeatRepo(db *sql.DB) *FuncionSeatRepo {
    return &FuncionSeatRepo{db: db}
}

// GetForUpdateTx reads the funcion_seats record for the pair with a row
// lock, so the estado an acquire decision is based on cannot change under
// the transaction.  Returns ErrSeatNotFound when the seat is not on sale
// for the función.
func (r *FuncionSeatRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, funcionID, seatID uint64) (model.FuncionSeat, error) {
    var fs model.FuncionSeat
    err := tx.QueryRowContext(ctx,
        `SELECT id, funcion_id, seat_id, estado, price_cents, updated_at
         FROM funcion_seats WHERE funcion_id = ? AND seat_id = ? FOR UPDATE`,
        funcionID, seatID).
        Scan(&fs.ID, &fs.FuncionID, &fs.SeatID, &fs.Estado, &fs.PriceCents, &fs.UpdatedAt)
    if err == sql.ErrNoRows {
        return model.FuncionSeat{}, ErrSeatNotFound
    }
    if err != nil {
        return model.FuncionSeat{}, err
    }
    return fs, nil
}

// BulkSetEstadoTx updates the estado for the given seats of a función.  The
// updated_at column is bumped so the records show up in the next sync
// snapshot.  Passing an empty slice has no effect and returns nil.
func (r *FuncionSeatRepo) BulkSetEstadoTx(ctx context.Context, tx *sql.Tx, funcionID uint64, seatIDs []uint64, estado string) error {
    if len(seatIDs) == 0 {
        return nil
    }
    query := `UPDATE funcion_seats SET estado = ?, updated_at = UTC_TIMESTAMP(6)
              WHERE funcion_id = ? AND seat_id IN (`
    args := make([]interface{}, 0, len(seatIDs)+2)
    args = append(args, estado, funcionID)
    for i, id := range seatIDs {
        if i > 0 {
            query += ","
        }
        query += "?"
        args = append(args, id)
    }
    query += ")"
    _, err := tx.ExecContext(ctx, query, args...)
    return err
}

// SetEstadoTx updates a single seat's estado, enforcing the forward-only
// transition rule: DISPONIBLE -> RESERVADO -> VENDIDO, sideways to ANULADO.
// VENDIDO can only move to ANULADO (the void path).  Any other transition
// returns ErrEstadoTransition and writes nothing.
func (r *FuncionSeatRepo) SetEstadoTx(ctx context.Context, tx *sql.Tx, funcionID, seatID uint64, estado string) error {
    fs, err := r.GetForUpdateTx(ctx, tx, funcionID, seatID)
    if err != nil {
        return err
    }
    if !estadoTransitionAllowed(fs.Estado, estado) {
        return ErrEstadoTransition
    }
    _, err = tx.ExecContext(ctx,
        `UPDATE funcion_seats SET estado = ?, updated_at = UTC_TIMESTAMP(6)
         WHERE funcion_id = ? AND seat_id = ?`,
        estado, funcionID, seatID)
    return err
}

// estadoTransitionAllowed encodes the forward-only estado lattice.
func estadoTransitionAllowed(from, to string) bool {
    if from == to {
        return true
    }
    switch from {
    case model.EstadoDisponible:
        return to == model.EstadoReservado || to == model.EstadoVendido || to == model.EstadoAnulado
    case model.EstadoReservado:
        return to == model.EstadoVendido || to == model.EstadoAnulado
    case model.EstadoVendido:
        return to == model.EstadoAnulado
    case model.EstadoAnulado:
        // Voided seats can be put back on sale by an operator.
        return to == model.EstadoDisponible
    }
    return false
}

/// ListByFuncion returns the full seat map for a función: every seat with
// its durable estado and pinned price.  This feeds the read-only annotated
// seat list that the map editor, CRM and billing consume.
func (r *FuncionSeatRepo) ListByFuncion(ctx context.Context, funcionID uint64) ([]model.FuncionSeat, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT id, funcion_id, seat_id, estado, price_cents, updated_at
         FROM funcion_seats WHERE funcion_id = ? ORDER BY seat_id`,
        funcionID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var seats []model.FuncionSeat
    for rows.Next() {
        var fs model.FuncionSeat
        if err := rows.Scan(&fs.ID, &fs.FuncionID, &fs.SeatID, &fs.Estado, &fs.PriceCents, &fs.UpdatedAt); err != nil {
            return nil, err
        }
        seats = append(seats, fs)
    }
    return seats, rows.Err()
}

// ChangedSince returns the funcion_seats records of the sala whose estado
// changed after the given instant.  Polled alongside the lock snapshot so
// clients see durable estado flips (sales, voids) without refetching the
// whole map.
func (r *FuncionSeatRepo) ChangedSince(ctx context.Context, salaID uint64, since time.Time) ([]model.FuncionSeat, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT fs.id, fs.funcion_id, fs.seat_id, fs.estado, fs.price_cents, fs.updated_at
         FROM funcion_seats fs
         JOIN funciones f ON f.id = fs.funcion_id
         WHERE f.sala_id = ? AND fs.updated_at > ?`,
        salaID, since.UTC().Format("2006-01-02 15:04:05.000000"))
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var seats []model.FuncionSeat
    for rows.Next() {
        var fs model.FuncionSeat
        if err := rows.Scan(&fs.ID, &fs.FuncionID, &fs.SeatID, &fs.Estado, &fs.PriceCents, &fs.UpdatedAt); err != nil {
            return nil, err
        }
        seats = append(seats, fs)
    }
    return seats, rows.Err()
}

// CreateBulk inserts funcion_seats records in one statement, used when a
// función is opened for sale.  Only funcion_id, seat_id, estado and
// price_cents are inserted; timestamps default in the DB.
func (r *FuncionSeatRepo) CreateBulk(ctx context.Context, seats []model.FuncionSeat) error {
    if len(seats) == 0 {
        return nil
    }
    query := `INSERT INTO funcion_seats (funcion_id, seat_id, estado, price_cents) VALUES `
    args := make([]interface{}, 0, len(seats)*4)
    for i, fs := range seats {
        if i > 0 {
            query += ","
        }
        query += "(?, ?, ?, ?)"
        args = append(args, fs.FuncionID, fs.SeatID, fs.Estado, fs.PriceCents)
    }
    _, err := r.db.ExecContext(ctx, query, args...)
    if err != nil && isDuplicateKey(err) {
        return ErrSeatExists
    }
    return err
}
