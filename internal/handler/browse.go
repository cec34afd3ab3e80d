package handler

import (
    "errors"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/nmoreno/teatro-seat-locking/internal/repository"
)

// BrowseHandler exposes the unauthenticated read endpoints: salas, their
// funciones, and the annotated seat map.  These feed the map editor, CRM
// and billing panels, which consume the core only through this read-only
// surface plus the cart getters — they never write lock state.
type BrowseHandler struct {
    Salas     *repository.SalaRepo
    Funciones *repository.FuncionRepo
    Seats     *repository.FuncionSeatRepo
}

func NewBrowseHandler(salas *repository.SalaRepo, funciones *repository.FuncionRepo, seats *repository.FuncionSeatRepo) *BrowseHandler {
    if salas == nil || funciones == nil || seats == nil {
        panic("nil repository passed to NewBrowseHandler")
    }
    return &BrowseHandler{Salas: salas, Funciones: funciones, Seats: seats}
}

// ListSalas handles GET /v1/salas.
func (h *BrowseHandler) ListSalas(c echo.Context) error {
    salas, err := h.Salas.List(c.Request().Context())
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    out := make([]echo.Map, 0, len(salas))
    for _, s := range salas {
        out = append(out, echo.Map{"id": s.ID, "name": s.Name})
    }
    return c.JSON(http.StatusOK, echo.Map{"salas": out})
}

// ListFunciones handles GET /v1/salas/:id/funciones.
func (h *BrowseHandler) ListFunciones(c echo.Context) error {
    salaID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || salaID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid sala id"})
    }
    ctx := c.Request().Context()
    if _, err := h.Salas.GetByID(ctx, salaID); err != nil {
        if errors.Is(err, repository.ErrSalaNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "sala not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    funciones, err := h.Funciones.ListBySala(ctx, salaID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    out := make([]echo.Map, 0, len(funciones))
    for _, f := range funciones {
        out = append(out, echo.Map{
            "id":               f.ID,
            "sala_id":          f.SalaID,
            "title":            f.Title,
            "starts_at":        f.StartsAt.UTC().Format(time.RFC3339),
            "base_price_cents": f.BasePriceCents,
            "status":           f.Status,
        })
    }
    return c.JSON(http.StatusOK, echo.Map{"funciones": out})
}

// SeatMap handles GET /v1/funciones/:id/seats: the full seat list with
// durable estado and pinned price.  Transient lock state is deliberately
// absent here — clients learn it from the poll endpoint, where expiry and
// ownership are evaluated per request.
func (h *BrowseHandler) SeatMap(c echo.Context) error {
    funcionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || funcionID == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid funcion id"})
    }
    ctx := c.Request().Context()
    if _, err := h.Funciones.GetByID(ctx, funcionID); err != nil {
        if errors.Is(err, repository.ErrFuncionNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "funcion not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    seats, err := h.Seats.ListByFuncion(ctx, funcionID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
    }
    out := make([]seatJSON, 0, len(seats))
    for _, fs := range seats {
        out = append(out, toSeatJSON(fs))
    }
    return c.JSON(http.StatusOK, echo.Map{"seats": out})
}
