package seatstate

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
)

const (
    mySession    = "sess-mine"
    otherSession = "sess-other"
)

func activeLock(status, owner string, now time.Time) *model.SeatLock {
    l := &model.SeatLock{
        FuncionID:    1,
        SeatID:       10,
        OwnerSession: owner,
        Status:       status,
    }
    if status == model.LockSeleccionado {
        exp := now.Add(2 * time.Minute)
        l.ExpiresAt = &exp
    }
    return l
}

func TestResolve_PriorityOrder(t *testing.T) {
    now := time.Now()
    cases := []struct {
        name     string
        estado   string
        lock     *model.SeatLock
        selected bool
        want     DisplayState
    }{
        {"no inputs means available", model.EstadoDisponible, nil, false, Available},
        {"sold estado wins over everything", model.EstadoVendido, activeLock(model.LockSeleccionado, mySession, now), true, Sold},
        {"sold lock wins even when estado lags", model.EstadoDisponible, activeLock(model.LockVendido, otherSession, now), false, Sold},
        {"own sold lock renders as sold by me", model.EstadoVendido, activeLock(model.LockVendido, mySession, now), false, SoldByMe},
        {"reserved estado beats admin lock", model.EstadoReservado, activeLock(model.LockLocked, "", now), false, Reserved},
        {"reserved lock beats own selection", model.EstadoDisponible, activeLock(model.LockReservado, mySession, now), true, Reserved},
        {"cancelled estado beats selections", model.EstadoAnulado, activeLock(model.LockSeleccionado, otherSession, now), true, Cancelled},
        {"admin lock beats buyer selections", model.EstadoDisponible, activeLock(model.LockLocked, "", now), true, LockedAdmin},
        {"other's selection beats my local click", model.EstadoDisponible, activeLock(model.LockSeleccionado, otherSession, now), true, SelectedByOther},
        {"synced own selection", model.EstadoDisponible, activeLock(model.LockSeleccionado, mySession, now), false, SelectedByMe},
        {"local click before sync confirms it", model.EstadoDisponible, nil, true, SelectedByMe},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            got := Resolve(tc.estado, tc.lock, tc.selected, mySession, now)
            assert.Equal(t, tc.want, got)
        })
    }
}

func TestResolve_LapsedLockIsAbsent(t *testing.T) {
    now := time.Now()
    exp := now.Add(-time.Second)
    lapsed := &model.SeatLock{
        FuncionID:    1,
        SeatID:       10,
        OwnerSession: otherSession,
        Status:       model.LockSeleccionado,
        ExpiresAt:    &exp,
    }

    assert.Equal(t, Available, Resolve(model.EstadoDisponible, lapsed, false, mySession, now))
    // The same instant one millisecond earlier still honours the lock.
    assert.Equal(t, SelectedByOther, Resolve(model.EstadoDisponible, lapsed, false, mySession, now.Add(-time.Second-time.Millisecond)))
}

func TestResolve_HardLockNeverOwned(t *testing.T) {
    now := time.Now()
    hard := activeLock(model.LockLocked, "", now)
    // An empty owner session must not match an empty caller session either.
    assert.Equal(t, LockedAdmin, Resolve(model.EstadoDisponible, hard, false, "", now))
}

func TestResolve_EstadoRankedBeforeFirstSync(t *testing.T) {
    now := time.Now()
    // No lock information at all: the durable estado is still honoured, so
    // a sold seat cannot transiently render as purchasable.
    assert.Equal(t, Sold, Resolve(model.EstadoVendido, nil, false, mySession, now))
    assert.Equal(t, Reserved, Resolve(model.EstadoReservado, nil, false, mySession, now))
    assert.Equal(t, Cancelled, Resolve(model.EstadoAnulado, nil, false, mySession, now))
}

func TestResolve_Deterministic(t *testing.T) {
    now := time.Now()
    lock := activeLock(model.LockSeleccionado, otherSession, now)
    first := Resolve(model.EstadoDisponible, lock, true, mySession, now)
    for i := 0; i < 50; i++ {
        assert.Equal(t, first, Resolve(model.EstadoDisponible, lock, true, mySession, now))
    }
}

func TestPurchasable(t *testing.T) {
    assert.True(t, Purchasable(Available))
    assert.True(t, Purchasable(SelectedByMe))
    for _, s := range []DisplayState{SelectedByOther, LockedAdmin, Reserved, Sold, SoldByMe, Cancelled} {
        assert.False(t, Purchasable(s), "state %s must not be purchasable", s)
    }
}
