package repository

import (
    "testing"

    "github.com/stretchr/testify/assert"

    "github.com/nmoreno/teatro-seat-locking/internal/model"
)

func TestEstadoTransitionAllowed_FullGrid(t *testing.T) {
    estados := []string{
        model.EstadoDisponible,
        model.EstadoReservado,
        model.EstadoVendido,
        model.EstadoAnulado,
    }
    // Everything not listed here (other than from==to) is forbidden.
    allowed := map[string][]string{
        model.EstadoDisponible: {model.EstadoReservado, model.EstadoVendido, model.EstadoAnulado},
        model.EstadoReservado:  {model.EstadoVendido, model.EstadoAnulado},
        model.EstadoVendido:    {model.EstadoAnulado},
        model.EstadoAnulado:    {model.EstadoDisponible},
    }

    for _, from := range estados {
        for _, to := range estados {
            want := from == to
            for _, a := range allowed[from] {
                if a == to {
                    want = true
                }
            }
            got := estadoTransitionAllowed(from, to)
            assert.Equal(t, want, got, "%s -> %s", from, to)
        }
    }
}

func TestEstadoTransitionAllowed_SoldOnlyLeavesViaVoid(t *testing.T) {
    // A sold seat must never silently become available or reserved again;
    // the only way back on sale is an explicit operator void first.
    assert.False(t, estadoTransitionAllowed(model.EstadoVendido, model.EstadoDisponible))
    assert.False(t, estadoTransitionAllowed(model.EstadoVendido, model.EstadoReservado))
    assert.True(t, estadoTransitionAllowed(model.EstadoVendido, model.EstadoAnulado))
    assert.True(t, estadoTransitionAllowed(model.EstadoAnulado, model.EstadoDisponible))
}

func TestEstadoTransitionAllowed_UnknownEstado(t *testing.T) {
    assert.False(t, estadoTransitionAllowed("PENDIENTE", model.EstadoVendido))
    assert.False(t, estadoTransitionAllowed(model.EstadoDisponible, "PENDIENTE"))
    // Identity holds even for values outside the lattice.
    assert.True(t, estadoTransitionAllowed("PENDIENTE", "PENDIENTE"))
}
