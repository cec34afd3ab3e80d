package handler

import (
    "context"
    "errors"
    "log"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
    "github.com/nmoreno/teatro-seat-locking/internal/queue"
    "github.com/nmoreno/teatro-seat-locking/internal/repository"
    notify "github.com/nmoreno/teatro-seat-locking/internal/service"
)

// LockHandler groups the repositories needed for the seat-lock lifecycle:
// acquire, release, the polled snapshot, the change hint and the checkout
// promotion.  Buyers are anonymous — the session_id in each request is an
// untrusted bearer claim used only for lock attribution.  Every mutation
// runs inside a transaction that also bumps the sala watermark, so polling
// clients can detect the change.
type LockHandler struct {
    Funciones *repository.FuncionRepo
    Salas     *repository.SalaRepo
    Seats     *repository.FuncionSeatRepo
    Locks     *repository.LockRepo
    LockTTL   time.Duration
}

// NewLockHandler constructs a LockHandler.  All repositories must be
// non-nil; lockTTL bounds how long a SELECCIONADO lock is honoured.
func NewLockHandler(funciones *repository.FuncionRepo, salas *repository.SalaRepo, seats *repository.FuncionSeatRepo, locks *repository.LockRepo, lockTTL time.Duration) *LockHandler {
    if funciones == nil || salas == nil || seats == nil || locks == nil {
        panic("nil repository passed to NewLockHandler")
    }
    if lockTTL <= 0 {
        lockTTL = 5 * time.Minute
    }
    return &LockHandler{Funciones: funciones, Salas: salas, Seats: seats, Locks: locks, LockTTL: lockTTL}
}

// lockJSON shapes a SeatLock for responses.  Timestamps travel as
// RFC3339Nano so the microsecond watermark ordering survives the wire.
type lockJSON struct {
    ID           uint64 `json:"id"`
    FuncionID    uint64 `json:"funcion_id"`
    SeatID       uint64 `json:"seat_id"`
    OwnerSession string `json:"owner_session"`
    Status       string `json:"status"`
    LockToken    string `json:"lock_token"`
    CreatedAt    string `json:"created_at"`
    ExpiresAt    string `json:"expires_at,omitempty"`
}

func toLockJSON(l model.SeatLock) lockJSON {
    out := lockJSON{
        ID:           l.ID,
        FuncionID:    l.FuncionID,
        SeatID:       l.SeatID,
        OwnerSession: l.OwnerSession,
        Status:       l.Status,
        LockToken:    l.LockToken,
        CreatedAt:    l.CreatedAt.UTC().Format(time.RFC3339Nano),
    }
    if l.ExpiresAt != nil {
        out.ExpiresAt = l.ExpiresAt.UTC().Format(time.RFC3339Nano)
    }
    return out
}

type seatJSON struct {
    FuncionID  uint64 `json:"funcion_id"`
    SeatID     uint64 `json:"seat_id"`
    Estado     string `json:"estado"`
    PriceCents uint32 `json:"price_cents"`
    UpdatedAt  string `json:"updated_at"`
}

func toSeatJSON(fs model.FuncionSeat) seatJSON {
    return seatJSON{
        FuncionID:  fs.FuncionID,
        SeatID:     fs.SeatID,
        Estado:     fs.Estado,
        PriceCents: fs.PriceCents,
        UpdatedAt:  fs.UpdatedAt.UTC().Format(time.RFC3339Nano),
    }
}

// conflictJSON writes a typed 409 so clients can tell "already sold" from
// "another buyer is choosing" and phrase the message accordingly.
func conflictJSON(c echo.Context, err error) error {
    reason := "locked"
    msg := "seat locked by another session"
    switch {
    case errors.Is(err, repository.ErrSeatVendido):
        reason, msg = "vendido", "seat already sold"
    case errors.Is(err, repository.ErrSeatReservado):
        reason, msg = "reservado", "seat already reserved"
    case errors.Is(err, repository.ErrSeatAnulado):
        reason, msg = "anulado", "seat is voided"
    }
    return c.JSON(http.StatusConflict, echo.Map{"error": msg, "reason": reason})
}

// Acquire handles POST /v1/funciones/:id/locks.  The body carries
// {"seat_id": n, "session_id": "..."}.  The decision of who gets the seat
// is made by the conditional insert inside one transaction — never by a
// read-then-write from the client — so two sessions racing for the same
// seat cannot both receive 201.
func (h *LockHandler) Acquire(c echo.Context) error {
    funcionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || funcionID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid funcion id"})
    }
    var body struct {
        SeatID    uint64 `json:"seat_id"`
        SessionID string `json:"session_id"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.SeatID == 0 || body.SessionID == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_id and session_id are required"})
    }
    ctx := c.Request().Context()

    funcion, err := h.Funciones.GetByID(ctx, funcionID)
    if err != nil {
        if errors.Is(err, repository.ErrFuncionNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "funcion not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }

    tx, err := h.Locks.DB().BeginTx(ctx, nil)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    // The durable estado gates the transient lock: only DISPONIBLE seats
    // can take a new soft lock.  The row is read FOR UPDATE so the estado
    // cannot flip underneath the insert.
    fs, err := h.Seats.GetForUpdateTx(ctx, tx, funcionID, body.SeatID)
    if err != nil {
        if errors.Is(err, repository.ErrSeatNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "seat not on sale for this funcion"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    switch fs.Estado {
    case model.EstadoVendido:
        return conflictJSON(c, repository.ErrSeatVendido)
    case model.EstadoReservado:
        return conflictJSON(c, repository.ErrSeatReservado)
    case model.EstadoAnulado:
        return conflictJSON(c, repository.ErrSeatAnulado)
    }

    lock, err := h.Locks.AcquireTx(ctx, tx, funcionID, body.SeatID, body.SessionID, h.LockTTL)
    if err != nil {
        if errors.Is(err, repository.ErrSeatVendido) || errors.Is(err, repository.ErrSeatReservado) ||
            errors.Is(err, repository.ErrSeatAnulado) || errors.Is(err, repository.ErrSeatLockedByOther) {
            return conflictJSON(c, err)
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to acquire lock"})
    }
    if err := h.Locks.TouchSalaTx(ctx, tx, funcion.SalaID); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update watermark"})
    }
    if err := tx.Commit(); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
    }
    committed = true

    h.publishChange(funcion.SalaID, funcionID, []uint64{body.SeatID}, "lock-acquired")
    return c.JSON(http.StatusCreated, echo.Map{
        "lock":        toLockJSON(lock),
        "price_cents": fs.PriceCents,
    })
}

// Release handles DELETE /v1/funciones/:id/locks/:seatId?session_id=...
// Releasing a lock that does not exist is a no-op.  Losing an ownership
// race answers 200 with not_owner=true rather than an error status: the
// condition is expected under concurrency and self-heals on the next sync,
// so clients log it and move on.
func (h *LockHandler) Release(c echo.Context) error {
    funcionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || funcionID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid funcion id"})
    }
    seatID, err := strconv.ParseUint(c.Param("seatId"), 10, 64)
    if err != nil || seatID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
    }
    sessionID := c.QueryParam("session_id")
    if sessionID == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id is required"})
    }
    ctx := c.Request().Context()

    funcion, err := h.Funciones.GetByID(ctx, funcionID)
    if err != nil {
        if errors.Is(err, repository.ErrFuncionNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "funcion not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }

    released, err := h.Locks.Release(ctx, funcionID, seatID, sessionID)
    if err != nil {
        if errors.Is(err, repository.ErrNotOwner) {
            log.Printf("locks: release of %d/%d by %s lost ownership race", funcionID, seatID, sessionID)
            return c.JSON(http.StatusOK, echo.Map{"released": false, "not_owner": true})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to release lock"})
    }
    if released {
        if err := h.Locks.TouchSala(ctx, funcion.SalaID); err != nil {
            log.Printf("locks: watermark bump after release failed: %v", err)
        }
        h.publishChange(funcion.SalaID, funcionID, []uint64{seatID}, "lock-released")
    }
    return c.JSON(http.StatusOK, echo.Map{"released": released, "not_owner": false})
}

// LocksSince handles GET /v1/salas/:id/locks?since=RFC3339Nano — the poll
// endpoint of the realtime sync layer.  When the sala watermark is newer
// than the caller's, the response carries the full active lock snapshot
// (releases are deletions, so deltas cannot express them) plus the seat
// estados changed since; otherwise both lists are empty and the caller
// keeps its state.
func (h *LockHandler) LocksSince(c echo.Context) error {
    salaID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || salaID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid sala id"})
    }
    var since time.Time
    if raw := c.QueryParam("since"); raw != "" {
        since, err = time.Parse(time.RFC3339Nano, raw)
        if err != nil {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid since timestamp"})
        }
    }
    ctx := c.Request().Context()

    if _, err := h.Salas.GetByID(ctx, salaID); err != nil {
        if errors.Is(err, repository.ErrSalaNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "sala not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }

    wm, err := h.Locks.Watermark(ctx, salaID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read watermark"})
    }

    locks := []lockJSON{}
    seats := []seatJSON{}
    if wm.After(since) {
        active, err := h.Locks.ActiveBySala(ctx, salaID)
        if err != nil {
            return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read locks"})
        }
        for _, l := range active {
            locks = append(locks, toLockJSON(l))
        }
        changed, err := h.Seats.ChangedSince(ctx, salaID, since)
        if err != nil {
            return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read seats"})
        }
        for _, fs := range changed {
            seats = append(seats, toSeatJSON(fs))
        }
    }
    resp := echo.Map{"locks": locks, "seats": seats}
    if !wm.IsZero() {
        resp["watermark"] = wm.UTC().Format(time.RFC3339Nano)
    } else {
        resp["watermark"] = ""
    }
    return c.JSON(http.StatusOK, resp)
}

// Notify handles POST /v1/salas/:id/notify — the fire-and-forget change
// hint.  It always answers 202 immediately; the broker publish happens in
// the background and a failure there never surfaces to the caller.
func (h *LockHandler) Notify(c echo.Context) error {
    salaID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || salaID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid sala id"})
    }
    var body struct {
        Reason string `json:"reason"`
    }
    _ = c.Bind(&body)
    if body.Reason == "" {
        body.Reason = "unspecified"
    }
    h.publishChange(salaID, 0, nil, body.Reason)
    return c.JSON(http.StatusAccepted, echo.Map{"accepted": true})
}

// Confirm handles POST /v1/funciones/:id/confirm — the checkout handoff.
// Called when the external payment succeeded: every active SELECCIONADO
// lock the session holds for the función is promoted, ownership preserved,
// and the matching funcion_seats estados flip in the same transaction.
// The optional "as" field selects RESERVADO instead of VENDIDO for
// reserve-without-payment flows.
func (h *LockHandler) Confirm(c echo.Context) error {
    funcionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || funcionID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid funcion id"})
    }
    var body struct {
        SessionID string `json:"session_id"`
        As        string `json:"as"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.SessionID == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "session_id is required"})
    }
    lockStatus, estado := model.LockVendido, model.EstadoVendido
    if body.As == "reservado" {
        lockStatus, estado = model.LockReservado, model.EstadoReservado
    }
    ctx := c.Request().Context()

    funcion, err := h.Funciones.GetByID(ctx, funcionID)
    if err != nil {
        if errors.Is(err, repository.ErrFuncionNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "funcion not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }

    tx, err := h.Locks.DB().BeginTx(ctx, nil)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    promoted, err := h.Locks.PromoteTx(ctx, tx, funcionID, body.SessionID, lockStatus)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to promote locks"})
    }
    if len(promoted) == 0 {
        // The soft locks lapsed before payment completed; there is nothing
        // to sell.  The client's cart countdown should have prevented this.
        return c.JSON(http.StatusConflict, echo.Map{"error": "no active locks for session", "reason": "expired"})
    }
    seatIDs := make([]uint64, 0, len(promoted))
    for _, l := range promoted {
        seatIDs = append(seatIDs, l.SeatID)
    }
    if err := h.Seats.BulkSetEstadoTx(ctx, tx, funcionID, seatIDs, estado); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update seat estados"})
    }
    if err := h.Locks.TouchSalaTx(ctx, tx, funcion.SalaID); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update watermark"})
    }
    if err := tx.Commit(); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
    }
    committed = true

    h.publishChange(funcion.SalaID, funcionID, seatIDs, "sale-confirmed")
    return c.JSON(http.StatusOK, echo.Map{"seat_ids": seatIDs, "status": lockStatus})
}

// publishChange pushes the change event to the broker in the background.
// Best effort by contract: the lock operation that triggered it has
// already committed and must not fail because the broker is down.
func (h *LockHandler) publishChange(salaID, funcionID uint64, seatIDs []uint64, reason string) {
    ev := queue.SeatChangeEvent{
        SalaID:     salaID,
        FuncionID:  funcionID,
        SeatIDs:    seatIDs,
        Reason:     reason,
        OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
    }
    go func() {
        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        _ = notify.PublishSeatChange(ctx, ev)
    }()
}
