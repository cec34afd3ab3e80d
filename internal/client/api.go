// Package client implements the remote lock API over plain HTTP.  It
// satisfies both the lock store's Backend and the realtime syncer's Source
// against the server in cmd/server, translating the typed conflict bodies
// back into the repository sentinel errors so the rest of the client code
// never inspects HTTP status codes.
package client

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
    "github.com/nmoreno/teatro-seat-locking/internal/repository"
)

// API is an HTTP client for the seat-locking server.
type API struct {
    baseURL string
    http    *http.Client
}

// New builds an API client for the given base URL, e.g.
// "http://localhost:8080".
func New(baseURL string, timeout time.Duration) *API {
    if timeout <= 0 {
        timeout = 5 * time.Second
    }
    return &API{
        baseURL: strings.TrimRight(baseURL, "/"),
        http:    &http.Client{Timeout: timeout},
    }
}

// lockDTO mirrors the lock JSON emitted by the server handlers.
type lockDTO struct {
    ID           uint64 `json:"id"`
    FuncionID    uint64 `json:"funcion_id"`
    SeatID       uint64 `json:"seat_id"`
    OwnerSession string `json:"owner_session"`
    Status       string `json:"status"`
    LockToken    string `json:"lock_token"`
    CreatedAt    string `json:"created_at"`
    ExpiresAt    string `json:"expires_at,omitempty"`
}

func (d lockDTO) toModel() (model.SeatLock, error) {
    created, err := time.Parse(time.RFC3339Nano, d.CreatedAt)
    if err != nil {
        return model.SeatLock{}, fmt.Errorf("parse created_at: %w", err)
    }
    l := model.SeatLock{
        ID:           d.ID,
        FuncionID:    d.FuncionID,
        SeatID:       d.SeatID,
        OwnerSession: d.OwnerSession,
        Status:       d.Status,
        LockToken:    d.LockToken,
        CreatedAt:    created,
    }
    if d.ExpiresAt != "" {
        exp, err := time.Parse(time.RFC3339Nano, d.ExpiresAt)
        if err != nil {
            return model.SeatLock{}, fmt.Errorf("parse expires_at: %w", err)
        }
        l.ExpiresAt = &exp
    }
    return l, nil
}

type seatDTO struct {
    FuncionID  uint64 `json:"funcion_id"`
    SeatID     uint64 `json:"seat_id"`
    Estado     string `json:"estado"`
    PriceCents uint32 `json:"price_cents"`
    UpdatedAt  string `json:"updated_at"`
}

// conflictBody is the typed 409 payload.
type conflictBody struct {
    Error  string `json:"error"`
    Reason string `json:"reason"`
}

// conflictError maps the server's conflict reason onto the sentinel the
// store and cart dispatch on.
func conflictError(reason string) error {
    switch reason {
    case "vendido":
        return repository.ErrSeatVendido
    case "reservado":
        return repository.ErrSeatReservado
    case "anulado":
        return repository.ErrSeatAnulado
    case "locked":
        return repository.ErrSeatLockedByOther
    }
    return repository.ErrSeatLockedByOther
}

// AcquireLock requests a SELECCIONADO lock from the server's conditional
// write.  Conflicts come back as the typed sentinels; transport errors are
// returned as-is so callers can distinguish "seat taken" from "network
// down".
func (a *API) AcquireLock(ctx context.Context, funcionID, seatID uint64, sessionID string) (model.SeatLock, error) {
    body, _ := json.Marshal(map[string]any{"seat_id": seatID, "session_id": sessionID})
    req, err := http.NewRequestWithContext(ctx, http.MethodPost,
        fmt.Sprintf("%s/v1/funciones/%d/locks", a.baseURL, funcionID), bytes.NewReader(body))
    if err != nil {
        return model.SeatLock{}, err
    }
    req.Header.Set("Content-Type", "application/json")
    // Mirrors the body session for the rate limiter, which keys on
    // ip+session+route without reading request bodies.
    req.Header.Set("X-Session-Id", sessionID)
    resp, err := a.http.Do(req)
    if err != nil {
        return model.SeatLock{}, err
    }
    defer resp.Body.Close()

    switch resp.StatusCode {
    case http.StatusCreated:
        var dto struct {
            Lock lockDTO `json:"lock"`
        }
        if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
            return model.SeatLock{}, fmt.Errorf("decode lock: %w", err)
        }
        return dto.Lock.toModel()
    case http.StatusConflict:
        var cb conflictBody
        if err := json.NewDecoder(resp.Body).Decode(&cb); err != nil {
            return model.SeatLock{}, repository.ErrSeatLockedByOther
        }
        return model.SeatLock{}, conflictError(cb.Reason)
    case http.StatusNotFound:
        return model.SeatLock{}, repository.ErrSeatNotFound
    default:
        return model.SeatLock{}, unexpectedStatus(resp)
    }
}

// ReleaseLock gives a soft lock back.  A release that lost an ownership
// race returns repository.ErrNotOwner; the store logs and swallows it.
func (a *API) ReleaseLock(ctx context.Context, funcionID, seatID uint64, sessionID string) (bool, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
        fmt.Sprintf("%s/v1/funciones/%d/locks/%d?session_id=%s", a.baseURL, funcionID, seatID, sessionID), nil)
    if err != nil {
        return false, err
    }
    resp, err := a.http.Do(req)
    if err != nil {
        return false, err
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return false, unexpectedStatus(resp)
    }
    var out struct {
        Released bool `json:"released"`
        NotOwner bool `json:"not_owner"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
        return false, fmt.Errorf("decode release: %w", err)
    }
    if out.NotOwner {
        return false, repository.ErrNotOwner
    }
    return out.Released, nil
}

// LocksSince polls the sala for updates newer than the watermark.
func (a *API) LocksSince(ctx context.Context, salaID uint64, since time.Time) (model.SyncSnapshot, error) {
    url := fmt.Sprintf("%s/v1/salas/%d/locks", a.baseURL, salaID)
    if !since.IsZero() {
        url += "?since=" + since.UTC().Format(time.RFC3339Nano)
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil {
        return model.SyncSnapshot{}, err
    }
    resp, err := a.http.Do(req)
    if err != nil {
        return model.SyncSnapshot{}, err
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return model.SyncSnapshot{}, unexpectedStatus(resp)
    }
    var dto struct {
        Locks     []lockDTO `json:"locks"`
        Seats     []seatDTO `json:"seats"`
        Watermark string    `json:"watermark"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
        return model.SyncSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
    }
    snap := model.SyncSnapshot{SalaID: salaID}
    if dto.Watermark != "" {
        wm, err := time.Parse(time.RFC3339Nano, dto.Watermark)
        if err != nil {
            return model.SyncSnapshot{}, fmt.Errorf("parse watermark: %w", err)
        }
        snap.Watermark = wm
    }
    for _, d := range dto.Locks {
        l, err := d.toModel()
        if err != nil {
            return model.SyncSnapshot{}, err
        }
        snap.Locks = append(snap.Locks, l)
    }
    for _, d := range dto.Seats {
        updated, err := time.Parse(time.RFC3339Nano, d.UpdatedAt)
        if err != nil {
            return model.SyncSnapshot{}, fmt.Errorf("parse seat updated_at: %w", err)
        }
        snap.Seats = append(snap.Seats, model.FuncionSeat{
            FuncionID:  d.FuncionID,
            SeatID:     d.SeatID,
            Estado:     d.Estado,
            PriceCents: d.PriceCents,
            UpdatedAt:  updated,
        })
    }
    return snap, nil
}

// NotifyChange posts the best-effort change hint for the sala.
func (a *API) NotifyChange(ctx context.Context, salaID uint64, reason string) error {
    body, _ := json.Marshal(map[string]string{"reason": reason})
    req, err := http.NewRequestWithContext(ctx, http.MethodPost,
        fmt.Sprintf("%s/v1/salas/%d/notify", a.baseURL, salaID), bytes.NewReader(body))
    if err != nil {
        return err
    }
    req.Header.Set("Content-Type", "application/json")
    resp, err := a.http.Do(req)
    if err != nil {
        return err
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusAccepted {
        return unexpectedStatus(resp)
    }
    return nil
}

// ConfirmSale tells the server the external payment succeeded: every
// SELECCIONADO lock the session holds for the función is promoted to
// VENDIDO server-side.  Returns the seat ids that were promoted.
func (a *API) ConfirmSale(ctx context.Context, funcionID uint64, sessionID string) ([]uint64, error) {
    body, _ := json.Marshal(map[string]string{"session_id": sessionID})
    req, err := http.NewRequestWithContext(ctx, http.MethodPost,
        fmt.Sprintf("%s/v1/funciones/%d/confirm", a.baseURL, funcionID), bytes.NewReader(body))
    if err != nil {
        return nil, err
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Session-Id", sessionID)
    resp, err := a.http.Do(req)
    if err != nil {
        return nil, err
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return nil, unexpectedStatus(resp)
    }
    var out struct {
        SeatIDs []uint64 `json:"seat_ids"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
        return nil, fmt.Errorf("decode confirm: %w", err)
    }
    return out.SeatIDs, nil
}

// SeatMap fetches the función's full seat list with durable estados and
// pinned prices, used to seed the store before the first sync.
func (a *API) SeatMap(ctx context.Context, funcionID uint64) ([]model.FuncionSeat, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet,
        fmt.Sprintf("%s/v1/funciones/%d/seats", a.baseURL, funcionID), nil)
    if err != nil {
        return nil, err
    }
    resp, err := a.http.Do(req)
    if err != nil {
        return nil, err
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return nil, unexpectedStatus(resp)
    }
    var dto struct {
        Seats []seatDTO `json:"seats"`
    }
    if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
        return nil, fmt.Errorf("decode seat map: %w", err)
    }
    seats := make([]model.FuncionSeat, 0, len(dto.Seats))
    for _, d := range dto.Seats {
        updated, err := time.Parse(time.RFC3339Nano, d.UpdatedAt)
        if err != nil {
            return nil, fmt.Errorf("parse seat updated_at: %w", err)
        }
        seats = append(seats, model.FuncionSeat{
            FuncionID:  d.FuncionID,
            SeatID:     d.SeatID,
            Estado:     d.Estado,
            PriceCents: d.PriceCents,
            UpdatedAt:  updated,
        })
    }
    return seats, nil
}

// unexpectedStatus builds a transport-level error carrying a short piece
// of the response body for the logs.
func unexpectedStatus(resp *http.Response) error {
    b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
    return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}
