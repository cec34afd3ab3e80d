package repository

import (
    "context"
    "crypto/rand"
    "database/sql"
    "encoding/hex"
    "strings"
    "time"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
)

// LockRepo provides data access to the seat_locks table, the single shared
// mutable resource of the locking subsystem.  All writers go through the
// conditional operations here; nothing in the codebase reads lock state and
// separately decides to write based on that read.  The unique key on
// (funcion_id, seat_id) is the arbiter of who got a seat first — client
// timestamps are informational only.
//
// Expiry is a read-time concern: every query that decides availability
// carries an explicit `expires_at > UTC_TIMESTAMP(6)` predicate (or deletes
// lapsed rows inside the same transaction first), so correctness never
// depends on the background sweeper having run.
type LockRepo struct {
    db *sql.DB
}

// NewLockRepo returns a new LockRepo bound to the provided database.
func NewLockRepo(db *sql.DB) *LockRepo { return &LockRepo{db: db} }

// DB exposes the underlying handle so handlers can open transactions that
// span this repository and FuncionSeatRepo.
func (r *LockRepo) DB() *sql.DB { return r.db }

// randomToken generates a random hexadecimal string of n bytes (2n hex
// characters).  It populates the lock_token column so clients can correlate
// a lock they were granted with later snapshots.
func randomToken(n int) (string, error) {
    b := make([]byte, n)
    if _, err := rand.Read(b); err != nil {
        return "", err
    }
    return hex.EncodeToString(b), nil
}

// isDuplicateKey reports whether err is a MySQL duplicate-key violation
// (error 1062).  The driver does not export a typed error for this, so the
// code is matched in the message.
func isDuplicateKey(err error) bool {
    return err != nil && strings.Contains(err.Error(), "1062")
}

// ExpireSeatTx deletes a lapsed SELECCIONADO lock for one (función, seat)
// pair inside the given transaction.  It is called at the top of every
// acquire so that an expired soft lock never blocks a new buyer, even when
// the sweeper has not visited the row yet.
func (r *LockRepo) ExpireSeatTx(ctx context.Context, tx *sql.Tx, funcionID, seatID uint64) error {
    _, err := tx.ExecContext(ctx,
        `DELETE FROM seat_locks
         WHERE funcion_id = ? AND seat_id = ? AND status = ? AND expires_at <= UTC_TIMESTAMP(6)`,
        funcionID, seatID, model.LockSeleccionado)
    return err
}

// GetTx fetches the current lock for a (función, seat) pair within the
// transaction.  The second return value is false when no row exists.
func (r *LockRepo) GetTx(ctx context.Context, tx *sql.Tx, funcionID, seatID uint64) (model.SeatLock, bool, error) {
    var l model.SeatLock
    err := tx.QueryRowContext(ctx,
        `SELECT id, funcion_id, seat_id, owner_session, status, lock_token, created_at, expires_at
         FROM seat_locks WHERE funcion_id = ? AND seat_id = ? LIMIT 1`,
        funcionID, seatID).
        Scan(&l.ID, &l.FuncionID, &l.SeatID, &l.OwnerSession, &l.Status, &l.LockToken, &l.CreatedAt, &l.ExpiresAt)
    if err == sql.ErrNoRows {
        return model.SeatLock{}, false, nil
    }
    if err != nil {
        return model.SeatLock{}, false, err
    }
    return l, true, nil
}

// AcquireTx attempts to take a SELECCIONADO lock for the session.  The
// write is conditional: the INSERT either succeeds because no row exists
// for the pair, or fails on the unique key, in which case the existing row
// decides the outcome.  A still-active lock already owned by the same
// session is refreshed rather than treated as a conflict, so rapid repeat
// clicks on an owned seat are idempotent.  Every successful acquire also
// extends the expiry of the session's other active locks for the función,
// keeping the server TTL in step with the cart's shared countdown.
//
// Returned errors map the conflict taxonomy: ErrSeatVendido,
// ErrSeatReservado, ErrSeatAnulado or ErrSeatLockedByOther.  The caller
// must have validated the funcion_seats estado beforehand (inside the same
// transaction) and must commit or roll back.
func (r *LockRepo) AcquireTx(ctx context.Context, tx *sql.Tx, funcionID, seatID uint64, sessionID string, ttl time.Duration) (model.SeatLock, error) {
    // Clear a lapsed soft lock first so it cannot shadow the insert.
    if err := r.ExpireSeatTx(ctx, tx, funcionID, seatID); err != nil {
        return model.SeatLock{}, err
    }

    token, err := randomToken(32)
    if err != nil {
        return model.SeatLock{}, err
    }
    now := time.Now().UTC()
    expires := now.Add(ttl)

    res, err := tx.ExecContext(ctx,
        `INSERT INTO seat_locks (funcion_id, seat_id, owner_session, status, lock_token, created_at, expires_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
        funcionID, seatID, sessionID, model.LockSeleccionado, token,
        now.Format("2006-01-02 15:04:05.000000"), expires.Format("2006-01-02 15:04:05.000000"))
    if err == nil {
        id, idErr := res.LastInsertId()
        if idErr != nil {
            return model.SeatLock{}, idErr
        }
        if err := r.refreshSessionTx(ctx, tx, funcionID, sessionID, expires); err != nil {
            return model.SeatLock{}, err
        }
        return model.SeatLock{
            ID:           uint64(id),
            FuncionID:    funcionID,
            SeatID:       seatID,
            OwnerSession: sessionID,
            Status:       model.LockSeleccionado,
            LockToken:    token,
            CreatedAt:    now,
            ExpiresAt:    &expires,
        }, nil
    }
    if !isDuplicateKey(err) {
        return model.SeatLock{}, err
    }

    // Lost the race: another row holds the pair.  Classify it.
    existing, found, getErr := r.GetTx(ctx, tx, funcionID, seatID)
    if getErr != nil {
        return model.SeatLock{}, getErr
    }
    if !found {
        // The competing row vanished between insert and read (released or
        // swept).  Treat as a transient conflict; the buyer's retry will win.
        return model.SeatLock{}, ErrSeatLockedByOther
    }
    switch existing.Status {
    case model.LockVendido:
        return model.SeatLock{}, ErrSeatVendido
    case model.LockReservado:
        return model.SeatLock{}, ErrSeatReservado
    case model.LockAnulado:
        return model.SeatLock{}, ErrSeatAnulado
    case model.LockLocked:
        return model.SeatLock{}, ErrSeatLockedByOther
    }
    if existing.OwnedBy(sessionID) {
        // Same session re-selecting its own seat: refresh the expiry.
        if err := r.refreshSessionTx(ctx, tx, funcionID, sessionID, expires); err != nil {
            return model.SeatLock{}, err
        }
        existing.ExpiresAt = &expires
        return existing, nil
    }
    return model.SeatLock{}, ErrSeatLockedByOther
}

// refreshSessionTx extends the expiry of every active SELECCIONADO lock the
// session holds for the función.  The client cart runs one shared countdown
// that restarts on each selection; the server honours the same contract, so
// the first seat of a cart never lapses while the countdown shows time
// remaining.  Lapsed rows are excluded — a refresh must never resurrect a
// lock that other readers already treat as absent.
func (r *LockRepo) refreshSessionTx(ctx context.Context, tx *sql.Tx, funcionID uint64, sessionID string, expires time.Time) error {
    _, err := tx.ExecContext(ctx,
        `UPDATE seat_locks SET expires_at = ?
         WHERE funcion_id = ? AND owner_session = ? AND status = ? AND expires_at > UTC_TIMESTAMP(6)`,
        expires.Format("2006-01-02 15:04:05.000000"), funcionID, sessionID, model.LockSeleccionado)
    return err
}

// Release removes the session's SELECCIONADO lock for the pair.  It is
// idempotent: when no lock exists the call is a no-op returning false.
// When a different session owns the lock it returns ErrNotOwner, which
// callers log and swallow — the disagreement is expected under concurrency
// and resolves on the next sync cycle.  Locks already promoted past
// SELECCIONADO are never deleted here, even by their owner.
func (r *LockRepo) Release(ctx context.Context, funcionID, seatID uint64, sessionID string) (bool, error) {
    res, err := r.db.ExecContext(ctx,
        `DELETE FROM seat_locks
         WHERE funcion_id = ? AND seat_id = ? AND owner_session = ? AND status = ?`,
        funcionID, seatID, sessionID, model.LockSeleccionado)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    if n > 0 {
        return true, nil
    }
    // Nothing deleted: distinguish "no lock" (no-op) from "someone else's".
    var owner, status string
    err = r.db.QueryRowContext(ctx,
        `SELECT owner_session, status FROM seat_locks WHERE funcion_id = ? AND seat_id = ? LIMIT 1`,
        funcionID, seatID).Scan(&owner, &status)
    if err == sql.ErrNoRows {
        return false, nil
    }
    if err != nil {
        return false, err
    }
    if status == model.LockSeleccionado && owner != sessionID {
        return false, ErrNotOwner
    }
    return false, nil
}

// ActiveBySala returns every lock for funciones of the sala that is still
// in force at read time.  Lapsed SELECCIONADO rows are filtered by the
// query, not deleted; physical cleanup belongs to acquire and the sweeper.
func (r *LockRepo) ActiveBySala(ctx context.Context, salaID uint64) ([]model.SeatLock, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT l.id, l.funcion_id, l.seat_id, l.owner_session, l.status, l.lock_token, l.created_at, l.expires_at
         FROM seat_locks l
         JOIN funciones f ON f.id = l.funcion_id
         WHERE f.sala_id = ?
           AND (l.status <> ? OR l.expires_at > UTC_TIMESTAMP(6))`,
        salaID, model.LockSeleccionado)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var locks []model.SeatLock
    for rows.Next() {
        var l model.SeatLock
        if err := rows.Scan(&l.ID, &l.FuncionID, &l.SeatID, &l.OwnerSession, &l.Status, &l.LockToken, &l.CreatedAt, &l.ExpiresAt); err != nil {
            return nil, err
        }
        locks = append(locks, l)
    }
    return locks, rows.Err()
}

// PromoteTx flips every active SELECCIONADO lock the session holds for the
// función to the given terminal status (VENDIDO or RESERVADO), dropping the
// expiry and preserving ownership.  It returns the promoted locks so the
// caller can update the matching funcion_seats estados in the same
// transaction.  An empty result means the session held nothing — typically
// because the cart countdown lapsed before checkout completed.
func (r *LockRepo) PromoteTx(ctx context.Context, tx *sql.Tx, funcionID uint64, sessionID, status string) ([]model.SeatLock, error) {
    rows, err := tx.QueryContext(ctx,
        `SELECT id, funcion_id, seat_id, owner_session, status, lock_token, created_at, expires_at
         FROM seat_locks
         WHERE funcion_id = ? AND owner_session = ? AND status = ? AND expires_at > UTC_TIMESTAMP(6)
         FOR UPDATE`,
        funcionID, sessionID, model.LockSeleccionado)
    if err != nil {
        return nil, err
    }
    var locks []model.SeatLock
    for rows.Next() {
        var l model.SeatLock
        if err := rows.Scan(&l.ID, &l.FuncionID, &l.SeatID, &l.OwnerSession, &l.Status, &l.LockToken, &l.CreatedAt, &l.ExpiresAt); err != nil {
            rows.Close()
            return nil, err
        }
        locks = append(locks, l)
    }
    if err := rows.Close(); err != nil {
        return nil, err
    }
    if len(locks) == 0 {
        return []model.SeatLock{}, nil
    }
    // Promote exactly the rows the SELECT returned, by id.  A broader
    // predicate would also catch a lapsed lock of the same session that the
    // sweeper has not removed yet, flipping it to a terminal status while
    // leaving it out of the returned slice — a seat sold in seat_locks but
    // never in funcion_seats.
    query := `UPDATE seat_locks SET status = ?, expires_at = NULL WHERE id IN (`
    args := make([]interface{}, 0, len(locks)+1)
    args = append(args, status)
    for i, l := range locks {
        if i > 0 {
            query += ","
        }
        query += "?"
        args = append(args, l.ID)
    }
    query += ")"
    if _, err := tx.ExecContext(ctx, query, args...); err != nil {
        return nil, err
    }
    for i := range locks {
        locks[i].Status = status
        locks[i].ExpiresAt = nil
    }
    return locks, nil
}

// HardLockTx places an operator block on the seat.  Hard locks carry no
// owner session and no expiry; they use the same conditional insert as
// buyer locks so they cannot overwrite an existing claim.
func (r *LockRepo) HardLockTx(ctx context.Context, tx *sql.Tx, funcionID, seatID uint64) (model.SeatLock, error) {
    if err := r.ExpireSeatTx(ctx, tx, funcionID, seatID); err != nil {
        return model.SeatLock{}, err
    }
    token, err := randomToken(32)
    if err != nil {
        return model.SeatLock{}, err
    }
    now := time.Now().UTC()
    res, err := tx.ExecContext(ctx,
        `INSERT INTO seat_locks (funcion_id, seat_id, owner_session, status, lock_token, created_at, expires_at)
         VALUES (?, ?, '', ?, ?, ?, NULL)`,
        funcionID, seatID, model.LockLocked, token, now.Format("2006-01-02 15:04:05.000000"))
    if err != nil {
        if isDuplicateKey(err) {
            return model.SeatLock{}, ErrSeatLockedByOther
        }
        return model.SeatLock{}, err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return model.SeatLock{}, err
    }
    return model.SeatLock{
        ID:        uint64(id),
        FuncionID: funcionID,
        SeatID:    seatID,
        Status:    model.LockLocked,
        LockToken: token,
        CreatedAt: now,
    }, nil
}

// HardUnlockTx removes an operator block.  Returns false when no LOCKED row
// exists for the pair.
func (r *LockRepo) HardUnlockTx(ctx context.Context, tx *sql.Tx, funcionID, seatID uint64) (bool, error) {
    res, err := tx.ExecContext(ctx,
        `DELETE FROM seat_locks WHERE funcion_id = ? AND seat_id = ? AND status = ?`,
        funcionID, seatID, model.LockLocked)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    return n > 0, err
}

// VoidTx replaces whatever lock exists for the pair with an ANULADO marker.
// Void is the only operation allowed to displace a VENDIDO lock; the caller
// flips the funcion_seats estado in the same transaction.
func (r *LockRepo) VoidTx(ctx context.Context, tx *sql.Tx, funcionID, seatID uint64) error {
    if _, err := tx.ExecContext(ctx,
        `DELETE FROM seat_locks WHERE funcion_id = ? AND seat_id = ?`,
        funcionID, seatID); err != nil {
        return err
    }
    token, err := randomToken(32)
    if err != nil {
        return err
    }
    _, err = tx.ExecContext(ctx,
        `INSERT INTO seat_locks (funcion_id, seat_id, owner_session, status, lock_token, created_at, expires_at)
         VALUES (?, ?, '', ?, ?, ?, NULL)`,
        funcionID, seatID, model.LockAnulado, token, time.Now().UTC().Format("2006-01-02 15:04:05.000000"))
    return err
}

// SweepExpired deletes every lapsed SELECCIONADO lock across all funciones
// and returns how many rows were removed plus the salas they belonged to,
// so the caller can bump those watermarks.  The sweeper worker calls this
// on an interval purely to keep the table small; readers never rely on it.
func (r *LockRepo) SweepExpired(ctx context.Context) (int64, []uint64, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT DISTINCT f.sala_id
         FROM seat_locks l
         JOIN funciones f ON f.id = l.funcion_id
         WHERE l.status = ? AND l.expires_at <= UTC_TIMESTAMP(6)`,
        model.LockSeleccionado)
    if err != nil {
        return 0, nil, err
    }
    var salas []uint64
    for rows.Next() {
        var id uint64
        if err := rows.Scan(&id); err != nil {
            rows.Close()
            return 0, nil, err
        }
        salas = append(salas, id)
    }
    if err := rows.Close(); err != nil {
        return 0, nil, err
    }
    if len(salas) == 0 {
        return 0, nil, nil
    }
    res, err := r.db.ExecContext(ctx,
        `DELETE FROM seat_locks WHERE status = ? AND expires_at <= UTC_TIMESTAMP(6)`,
        model.LockSeleccionado)
    if err != nil {
        return 0, nil, err
    }
    n, err := res.RowsAffected()
    return n, salas, err
}

// TouchSalaTx bumps the sala's sync watermark inside the transaction.
// Every mutation of lock or estado state for a sala must call this before
// committing so polling clients can detect that something changed.
func (r *LockRepo) TouchSalaTx(ctx context.Context, tx *sql.Tx, salaID uint64) error {
    _, err := tx.ExecContext(ctx,
        `INSERT INTO sala_sync (sala_id, updated_at) VALUES (?, UTC_TIMESTAMP(6))
         ON DUPLICATE KEY UPDATE updated_at = UTC_TIMESTAMP(6)`,
        salaID)
    return err
}

// TouchSala is the non-transactional variant used by callers with no open
// transaction (release, sweeper).
func (r *LockRepo) TouchSala(ctx context.Context, salaID uint64) error {
    _, err := r.db.ExecContext(ctx,
        `INSERT INTO sala_sync (sala_id, updated_at) VALUES (?, UTC_TIMESTAMP(6))
         ON DUPLICATE KEY UPDATE updated_at = UTC_TIMESTAMP(6)`,
        salaID)
    return err
}

// Watermark returns the sala's current sync watermark.  A sala that has
// never been touched reports the zero time, which every client watermark
// comparison treats as "nothing new".
func (r *LockRepo) Watermark(ctx context.Context, salaID uint64) (time.Time, error) {
    var wm time.Time
    err := r.db.QueryRowContext(ctx,
        `SELECT updated_at FROM sala_sync WHERE sala_id = ? LIMIT 1`, salaID).Scan(&wm)
    if err == sql.ErrNoRows {
        return time.Time{}, nil
    }
    if err != nil {
        return time.Time{}, err
    }
    return wm, nil
}
