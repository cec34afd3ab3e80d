package worker // package worker contains long-running background loops

import (
    "context"
    "log"
    "time"
)

// LockSweeper is the slice of the lock repository the sweeper needs.
// *repository.LockRepo satisfies it.
type LockSweeper interface {
    SweepExpired(ctx context.Context) (int64, []uint64, error)
    TouchSala(ctx context.Context, salaID uint64) error
}

// StartLockSweeper periodically purges lapsed seat selections from the locks
// table.  Correctness does not depend on the sweep: every read and every
// conditional write already treats a lapsed row as absent.  The sweep only
// keeps the table small so the per-sala snapshot query stays cheap during a
// busy on-sale.  After a non-empty sweep the affected sala watermarks are
// bumped, so polling clients drop the removed rows on their next tick
// instead of carrying them until an unrelated mutation.
//
// The loop runs until ctx is cancelled.  It is meant to be launched with
// `go worker.StartLockSweeper(...)` from main.
func StartLockSweeper(ctx context.Context, locks LockSweeper, interval time.Duration) {
    if interval <= 0 {
        interval = time.Minute
    }
    log.Printf("lock-sweeper: purging lapsed seat locks every %s", interval)
    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            log.Printf("lock-sweeper: stopped: %v", ctx.Err())
            return
        case <-ticker.C:
            sweepOnce(ctx, locks)
        }
    }
}

// sweepOnce performs a single sweep plus the watermark bumps.
func sweepOnce(ctx context.Context, locks LockSweeper) {
    n, salas, err := locks.SweepExpired(ctx)
    if err != nil {
        log.Printf("lock-sweeper: sweep failed: %v", err)
        return
    }
    if n == 0 {
        return
    }
    log.Printf("lock-sweeper: removed %d lapsed locks across %d salas", n, len(salas))
    for _, salaID := range salas {
        if err := locks.TouchSala(ctx, salaID); err != nil {
            log.Printf("lock-sweeper: watermark bump for sala %d failed: %v", salaID, err)
        }
    }
}
