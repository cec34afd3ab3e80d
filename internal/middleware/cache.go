package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "fmt"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/nmoreno/teatro-seat-locking/internal/config"
)

// bodyRecorder captures the response body and status while forwarding the
// bytes to the client.
type bodyRecorder struct {
    http.ResponseWriter
    status int
    buf    bytes.Buffer
    limit  int
}

func (w *bodyRecorder) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
    if w.limit <= 0 || w.buf.Len()+len(b) <= w.limit {
        w.buf.Write(b)
    } else {
        // Over the size cap: poison the buffer so the entry is skipped.
        w.buf.Reset()
        w.limit = -1
    }
    return w.ResponseWriter.Write(b)
}

// NewRedisCache caches successful JSON responses of the browse endpoints
// (sala list, funciones, seat map) in Redis for a short TTL.  The TTL is
// deliberately in the same order as the poll interval: durable estados
// change rarely, and anything fresher travels through the lock snapshot,
// so a couple of seconds of staleness is invisible to buyers while taking
// the repeated map fetches of every kiosk off MySQL.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc {
            return func(c echo.Context) error { return next(c) }
        }
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return next(c)
            }
            key := cacheKey(cfg, c)
            ctx := c.Request().Context()

            if body, err := rdb.Get(ctx, key).Bytes(); err == nil && len(body) > 0 {
                c.Response().Header().Set("X-Cache", "HIT")
                return c.JSONBlob(http.StatusOK, body)
            }

            rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: cfg.MaxBodyBytes}
            c.Response().Writer = rec
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }
            if rec.status == http.StatusOK && rec.buf.Len() > 0 && rec.limit >= 0 {
                _ = rdb.SetEx(context.Background(), key, rec.buf.Bytes(), cfg.TTL).Err()
            }
            return nil
        }
    }
}

// cacheKey hashes method, route and query into a stable Redis key.
func cacheKey(cfg config.CacheConfig, c echo.Context) string {
    r := c.Request()
    sum := sha1.Sum([]byte(r.Method + ":" + c.Path() + "?" + r.URL.RawQuery))
    return fmt.Sprintf("%s:%x", cfg.Prefix, sum[:])
}
