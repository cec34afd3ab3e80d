package repository

import (
    "context"
    "database/sql"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
)

// SalaRepo provides read access to the salas table.
type SalaRepo struct {
    db *sql.DB
}

// NewSalaRepo returns a new SalaRepo bound to the provided database.
func NewSalaRepo(db *sql.DB) *SalaRepo { return &SalaRepo{db: db} }

// GetByID fetches a sala.  Returns ErrSalaNotFound when absent.
func (r *SalaRepo) GetByID(ctx context.Context, id uint64) (model.Sala, error) {
    var s model.Sala
    err := r.db.QueryRowContext(ctx,
        `SELECT id, name, is_active, created_at, updated_at FROM salas WHERE id = ? LIMIT 1`, id).
        Scan(&s.ID, &s.Name, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
    if err == sql.ErrNoRows {
        return model.Sala{}, ErrSalaNotFound
    }
    if err != nil {
        return model.Sala{}, err
    }
    return s, nil
}

// List returns all active salas, used by the public browse endpoint.
func (r *SalaRepo) List(ctx context.Context) ([]model.Sala, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT id, name, is_active, created_at, updated_at FROM salas WHERE is_active = 1 ORDER BY id`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Sala
    for rows.Next() {
        var s model.Sala
        if err := rows.Scan(&s.ID, &s.Name, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
            return nil, err
        }
        out = append(out, s)
    }
    return out, rows.Err()
}
