package repository

import (
    "context"
    "database/sql"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
)

// FuncionRepo provides read access to the funciones table.  Lock handlers
// use it to verify that a función exists and to resolve its sala, which is
// the scope of realtime sync and change notification.
type FuncionRepo struct {
    db *sql.DB
}

// NewFuncionRepo returns a new FuncionRepo bound to the provided database.
func NewFuncionRepo(db *sql.DB) *FuncionRepo { return &FuncionRepo{db: db} }

// GetByID fetches a función.  Returns ErrFuncionNotFound when absent.
func (r *FuncionRepo) GetByID(ctx context.Context, id uint64) (model.Funcion, error) {
    var f model.Funcion
    err := r.db.QueryRowContext(ctx,
        `SELECT id, sala_id, title, starts_at, base_price_cents, status, created_at, updated_at
         FROM funciones WHERE id = ? LIMIT 1`, id).
        Scan(&f.ID, &f.SalaID, &f.Title, &f.StartsAt, &f.BasePriceCents, &f.Status, &f.CreatedAt, &f.UpdatedAt)
    if err == sql.ErrNoRows {
        return model.Funcion{}, ErrFuncionNotFound
    }
    if err != nil {
        return model.Funcion{}, err
    }
    return f, nil
}

// ListBySala returns the funciones scheduled in a sala, soonest first.
// Used by the public browse endpoint.
func (r *FuncionRepo) ListBySala(ctx context.Context, salaID uint64) ([]model.Funcion, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT id, sala_id, title, starts_at, base_price_cents, status, created_at, updated_at
         FROM funciones WHERE sala_id = ? ORDER BY starts_at`, salaID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Funcion
    for rows.Next() {
        var f model.Funcion
        if err := rows.Scan(&f.ID, &f.SalaID, &f.Title, &f.StartsAt, &f.BasePriceCents, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
            return nil, err
        }
        out = append(out, f)
    }
    return out, rows.Err()
}
