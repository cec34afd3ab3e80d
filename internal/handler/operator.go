package handler

import (
    "context"
    "errors"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/nmoreno/teatro-seat-locking/internal/config"
    "github.com/nmoreno/teatro-seat-locking/internal/model"
    "github.com/nmoreno/teatro-seat-locking/internal/repository"
    "github.com/nmoreno/teatro-seat-locking/internal/utils"
)

// OperatorHandler implements box-office staff operations: login, placing
// and removing hard locks, and voiding sold seats.  These are the only
// authenticated endpoints — buyer flows run on anonymous session tokens.
// JWT validation and role checks happen in middleware before any method
// here runs.
type OperatorHandler struct {
    Cfg       config.Config
    Users     *repository.UserRepo
    Funciones *repository.FuncionRepo
    Seats     *repository.FuncionSeatRepo
    Locks     *repository.LockRepo
}

func NewOperatorHandler(cfg config.Config, users *repository.UserRepo, funciones *repository.FuncionRepo, seats *repository.FuncionSeatRepo, locks *repository.LockRepo) *OperatorHandler {
    if users == nil || funciones == nil || seats == nil || locks == nil {
        panic("nil repository passed to NewOperatorHandler")
    }
    return &OperatorHandler{Cfg: cfg, Users: users, Funciones: funciones, Seats: seats, Locks: locks}
}

type loginReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}

// Login handles POST /v1/operator/login: verifies credentials and returns
// a short-lived access token.
func (h *OperatorHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    req.Email = strings.ToLower(strings.TrimSpace(req.Email))
    if req.Email == "" || req.Password == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    u, err := h.Users.GetByEmail(ctx, req.Email)
    if err != nil || !u.IsActive || !utils.VerifyPassword(u.PasswordHash, req.Password) {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
    }

    access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Role, h.Cfg.AccessTTLMin)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
    }
    return c.JSON(http.StatusOK, echo.Map{
        "user":   echo.Map{"id": u.ID, "email": u.Email, "role": u.Role},
        "access": echo.Map{"token": access.Token, "expires": access.Exp},
    })
}

type createUserReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
    Role     string `json:"role"`
}

// CreateUser handles POST /v1/operator/users: provisions a staff account.
// Only ADMIN tokens reach this handler; the role middleware on the route
// rejects everyone else.
func (h *OperatorHandler) CreateUser(c echo.Context) error {
    var req createUserReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    req.Email = strings.ToLower(strings.TrimSpace(req.Email))
    if req.Email == "" || len(req.Password) < 8 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and password (min 8 chars) required"})
    }
    role := strings.ToUpper(strings.TrimSpace(req.Role))
    if role == "" {
        role = "OPERATOR"
    }
    if role != "OPERATOR" && role != "ADMIN" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be OPERATOR or ADMIN"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    id, err := h.Users.Create(ctx, req.Email, req.Password, role, h.Cfg.BcryptCost)
    if err != nil {
        if errors.Is(err, repository.ErrEmailExists) {
            return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create user"})
    }
    return c.JSON(http.StatusCreated, echo.Map{
        "user": echo.Map{"id": id, "email": req.Email, "role": role},
    })
}

type openSeatReq struct {
    SeatID     uint64 `json:"seat_id"`
    PriceCents uint32 `json:"price_cents"`
}

type openFuncionReq struct {
    Seats []openSeatReq `json:"seats"`
}

// OpenFuncion handles POST /v1/funciones/:id/seats: puts seats on sale for
// a función, each DISPONIBLE with its pinned price.  Opening seats bumps
// the sala watermark so connected seat maps pick them up on the next poll.
func (h *OperatorHandler) OpenFuncion(c echo.Context) error {
    funcionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || funcionID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid funcion id"})
    }
    var req openFuncionReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if len(req.Seats) == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats required"})
    }
    for _, s := range req.Seats {
        if s.SeatID == 0 {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
        }
    }
    ctx := c.Request().Context()

    funcion, err := h.Funciones.GetByID(ctx, funcionID)
    if err != nil {
        if errors.Is(err, repository.ErrFuncionNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "funcion not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }

    seats := make([]model.FuncionSeat, 0, len(req.Seats))
    for _, s := range req.Seats {
        seats = append(seats, model.FuncionSeat{
            FuncionID:  funcionID,
            SeatID:     s.SeatID,
            Estado:     model.EstadoDisponible,
            PriceCents: s.PriceCents,
        })
    }
    if err := h.Seats.CreateBulk(ctx, seats); err != nil {
        if errors.Is(err, repository.ErrSeatExists) {
            return c.JSON(http.StatusConflict, echo.Map{"error": "seat already on sale", "reason": "exists"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to open seats"})
    }
    if err := h.Locks.TouchSala(ctx, funcion.SalaID); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update watermark"})
    }
    return c.JSON(http.StatusCreated, echo.Map{"opened": len(seats)})
}

// HardLock handles POST /v1/funciones/:id/hard-locks.  An operator block
// has no owner session and no expiry: it holds the seat until an operator
// removes it, independent of any buyer.
func (h *OperatorHandler) HardLock(c echo.Context) error {
    funcionID, seatID, ok := h.parsePair(c)
    if !ok {
        return nil // response already written
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

    if _, err := h.Seats.GetForUpdateTx(ctx, tx, funcionID, seatID); err != nil {
        if errors.Is(err, repository.ErrSeatNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "seat not on sale for this funcion"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    lock, err := h.Locks.HardLockTx(ctx, tx, funcionID, seatID)
    if err != nil {
        if errors.Is(err, repository.ErrSeatLockedByOther) {
            return c.JSON(http.StatusConflict, echo.Map{"error": "seat already locked", "reason": "locked"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to place hard lock"})
    }
    if err := h.Locks.TouchSalaTx(ctx, tx, funcion.SalaID); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update watermark"})
    }
    if err := tx.Commit(); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
    }
    committed = true
    return c.JSON(http.StatusCreated, echo.Map{"lock": toLockJSON(lock)})
}

// HardUnlock handles DELETE /v1/funciones/:id/hard-locks/:seatId.
func (h *OperatorHandler) HardUnlock(c echo.Context) error {
    funcionID, seatID, ok := h.parsePair(c)
    if !ok {
        return nil
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

    removed, err := h.Locks.HardUnlockTx(ctx, tx, funcionID, seatID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to remove hard lock"})
    }
    if removed {
        if err := h.Locks.TouchSalaTx(ctx, tx, funcion.SalaID); err != nil {
            return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update watermark"})
        }
    }
    if err := tx.Commit(); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
    }
    committed = true
    return c.JSON(http.StatusOK, echo.Map{"removed": removed})
}

// Void handles POST /v1/funciones/:id/void/:seatId — the explicit void
// operation, the only path that moves a VENDIDO seat out of that estado.
func (h *OperatorHandler) Void(c echo.Context) error {
    funcionID, seatID, ok := h.parsePair(c)
    if !ok {
        return nil
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

    if err := h.Seats.SetEstadoTx(ctx, tx, funcionID, seatID, model.EstadoAnulado); err != nil {
        if errors.Is(err, repository.ErrSeatNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "seat not on sale for this funcion"})
        }
        if errors.Is(err, repository.ErrEstadoTransition) {
            return c.JSON(http.StatusConflict, echo.Map{"error": "seat cannot be voided", "reason": "estado"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to void seat"})
    }
    if err := h.Locks.VoidTx(ctx, tx, funcionID, seatID); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to void lock"})
    }
    if err := h.Locks.TouchSalaTx(ctx, tx, funcion.SalaID); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update watermark"})
    }
    if err := tx.Commit(); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
    }
    committed = true
    return c.JSON(http.StatusOK, echo.Map{"voided": true})
}

// parsePair reads the funcion id path param and seat id (path or body).
// On failure it writes the 400 itself and returns ok=false.
func (h *OperatorHandler) parsePair(c echo.Context) (funcionID, seatID uint64, ok bool) {
    funcionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || funcionID == 0 {
        _ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid funcion id"})
        return 0, 0, false
    }
    if raw := c.Param("seatId"); raw != "" {
        seatID, err = strconv.ParseUint(raw, 10, 64)
    } else {
        var body struct {
            SeatID uint64 `json:"seat_id"`
        }
        if bindErr := c.Bind(&body); bindErr == nil {
            seatID = body.SeatID
        }
    }
    if err != nil || seatID == 0 {
        _ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat id"})
        return 0, 0, false
    }
    return funcionID, seatID, true
}
