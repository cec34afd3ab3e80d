package main // Entry point package

import (
    "context" // Context for background workers
    "log"     // Logging library

    "github.com/joho/godotenv"    // Loads .env files in development
    "github.com/labstack/echo/v4" // Echo web framework

    "github.com/nmoreno/teatro-seat-locking/internal/config"     // Internal config loader
    "github.com/nmoreno/teatro-seat-locking/internal/database"   // MySQL connection
    "github.com/nmoreno/teatro-seat-locking/internal/handler"    // HTTP handlers
    "github.com/nmoreno/teatro-seat-locking/internal/middleware" // Rate limit and cache middleware
    "github.com/nmoreno/teatro-seat-locking/internal/queue"      // Seat change consumer
    "github.com/nmoreno/teatro-seat-locking/internal/repository" // Data access layer
    "github.com/nmoreno/teatro-seat-locking/internal/router"     // Route registration
    "github.com/nmoreno/teatro-seat-locking/internal/worker"     // Lapsed lock sweeper
)

func main() {
    // Load a .env file when present; in production the variables come from
    // the environment and the file is simply absent.
    _ = godotenv.Load()

    cfg := config.Load() // Load environment config

    db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
    if err != nil {
        log.Fatalf("database: %v", err)
    }
    defer db.Close()

    // Redis backs the rate limiter and the browse cache.  A nil client means
    // Redis is unreachable; both middlewares degrade to pass-through.
    rdb := config.NewRedisClient()
    if rdb == nil {
        log.Printf("redis: unavailable, rate limiting and response cache disabled")
    }

    locks := repository.NewLockRepo(db)
    seats := repository.NewFuncionSeatRepo(db)
    funciones := repository.NewFuncionRepo(db)
    salas := repository.NewSalaRepo(db)
    users := repository.NewUserRepo(db)

    lockH := handler.NewLockHandler(funciones, salas, seats, locks, cfg.LockTTL)
    browseH := handler.NewBrowseHandler(salas, funciones, seats)
    operatorH := handler.NewOperatorHandler(cfg, users, funciones, seats, locks)

    cacheMW := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
    rateMW := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    go worker.StartLockSweeper(ctx, locks, cfg.SweepInterval)
    go func() {
        if err := queue.StartSeatChangeConsumer(); err != nil {
            log.Printf("seat-change-consumer: %v", err)
        }
    }()

    e := echo.New() // Create Echo instance
    router.RegisterRoutes(e)
    router.RegisterBrowse(e, browseH, cacheMW)
    router.RegisterLocks(e, lockH, rateMW)
    router.RegisterOperator(e, operatorH, cfg.JWTSecret)

    addr := ":" + cfg.Port                                // Address string with port
    log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

    if err := e.Start(addr); err != nil { // Start HTTP server
        log.Fatal(err) // Log and exit if server fails
    }
}
