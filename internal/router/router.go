package router // package router defines how HTTP routes are registered for the API

import (
    "github.com/labstack/echo/v4" // import the Echo web framework to handle routing

    "github.com/nmoreno/teatro-seat-locking/internal/handler"    // import the handlers that implement business logic
    "github.com/nmoreno/teatro-seat-locking/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
    // Map the GET request at path "/healthz" to the Health handler.  This
    // endpoint can be used by load balancers or monitoring systems to verify
    // that the service is up and running.
    e.GET("/healthz", handler.Health)
}

// RegisterBrowse registers the unauthenticated browse endpoints.  These
// return durable data only (salas, funciones, seat maps with estados and
// prices) and never lock state, so they are safe to serve through the
// short-lived response cache.
func RegisterBrowse(e *echo.Echo, b *handler.BrowseHandler, cache echo.MiddlewareFunc) {
    g := e.Group("/v1", cache)
    // List every sala in the venue.
    g.GET("/salas", b.ListSalas)
    // List the funciones scheduled in one sala.
    g.GET("/salas/:id/funciones", b.ListFunciones)
    // The full seat map of a funcion: seat geometry, estado and pinned price.
    g.GET("/funciones/:id/seats", b.SeatMap)
}

// RegisterLocks registers the seat lock lifecycle and the sala sync
// endpoints.  These are the hot path of every buyer session and carry the
// token bucket rate limiter; they are deliberately never cached, since the
// whole point of the poll endpoint is freshness.
func RegisterLocks(e *echo.Echo, l *handler.LockHandler, ratelimit echo.MiddlewareFunc) {
    g := e.Group("/v1", ratelimit)
    // Claim a seat for a session.  The unique (funcion, seat) key in the
    // locks table makes this the single arbiter for concurrent claims.
    g.POST("/funciones/:id/locks", l.Acquire)
    // Give a seat back.  Idempotent for the owner; a no-op when the lock
    // already lapsed.
    g.DELETE("/funciones/:id/locks/:seatId", l.Release)
    // Promote a session's active locks into a durable sale or reservation.
    g.POST("/funciones/:id/confirm", l.Confirm)
    // Poll for changes in a sala since a watermark.
    g.GET("/salas/:id/locks", l.LocksSince)
    // Hint that something changed in a sala so other clients poll sooner.
    g.POST("/salas/:id/notify", l.Notify)
}

// RegisterOperator registers the box-office endpoints.  Login is open;
// everything else requires a valid operator token.  Hard locks and voids
// mutate seats out from under buyers, so they stay behind RequireRole.
func RegisterOperator(e *echo.Echo, o *handler.OperatorHandler, jwtSecret string) {
    e.POST("/v1/operator/login", o.Login)

    g := e.Group("/v1")
    g.Use(middleware.JWTAuth(jwtSecret))
    g.Use(middleware.RequireRole("OPERATOR", "ADMIN"))
    // Block a seat without an owner or expiry until an operator removes it.
    g.POST("/funciones/:id/hard-locks", o.HardLock)
    g.DELETE("/funciones/:id/hard-locks/:seatId", o.HardUnlock)
    // Void a seat: estado becomes ANULADO and any lock on it is replaced.
    g.POST("/funciones/:id/void/:seatId", o.Void)
    // Put a función's seats on sale with their pinned prices.
    g.POST("/funciones/:id/seats", o.OpenFuncion)

    // Staff provisioning is admin-only.
    g.POST("/operator/users", o.CreateUser, middleware.RequireRole("ADMIN"))
}
