package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-registration/internal/model"
)

func TestReserveReplaceRestoresStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Dome 3", 3, 5)
	reg := e.draft(t, "SMA Negeri 1")

	_, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, 2, e.stock(t, tent.ID))

	summary, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, 4, e.stock(t, tent.ID))
	assert.Equal(t, 3, summary.ReleasedUnits)
	require.Len(t, summary.Reservations, 1)
	assert.Equal(t, 1, summary.Reservations[0].Quantity)

	held, err := e.repos.Reservations.ListByRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.Len(t, held, 1)

	got, err := e.repos.Registrations.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 500000, got.TentCost)
	assert.EqualValues(t, 500000, got.GrandTotal)
}

func TestReserveStockStaysWithinBounds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Dome 2", 2, 3)
	regs := []*model.Registration{e.draft(t, "SD 1"), e.draft(t, "SD 2"), e.draft(t, "SD 3")}

	steps := []struct {
		reg int
		qty int
	}{{0, 2}, {1, 1}, {2, 1}, {0, 0}, {2, 3}, {1, 0}, {2, 3}, {0, 1}}
	for _, s := range steps {
		_, err := e.ledger.Reserve(ctx, admin, regs[s.reg].ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: s.qty}})
		if err != nil {
			assert.ErrorIs(t, err, ErrInsufficientStock)
		}
		avail := e.stock(t, tent.ID)
		assert.GreaterOrEqual(t, avail, 0)
		assert.LessOrEqual(t, avail, 3)
	}

	for _, r := range regs {
		_, err := e.ledger.Release(ctx, r.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, e.stock(t, tent.ID))
}

func TestReserveFailureKeepsPreviousHolds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	small := e.tentType(t, "Dome 2", 2, 2)
	big := e.tentType(t, "Dome 3", 3, 1)
	reg := e.draft(t, "SMP 5")

	_, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: small.ID, Quantity: 1}})
	require.NoError(t, err)

	_, err = e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{
		{TentTypeID: small.ID, Quantity: 1},
		{TentTypeID: big.ID, Quantity: 2},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 1, e.stock(t, small.ID))
	assert.Equal(t, 1, e.stock(t, big.ID))
	held, err := e.repos.Reservations.ListByRegistration(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, small.ID, held[0].TentTypeID)
}

func TestReserveCapacityViolationDoesNotTouchStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Family 6", 6, 10)
	reg := e.draft(t, "SMA 3")
	e.withRoster(t, reg, []string{"", ""}, 0)

	// 2 participants + 10 slack = 12 places; 3 tents of 6 is 18.
	_, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 3}})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 10, e.stock(t, tent.ID))

	_, err = e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, 8, e.stock(t, tent.ID))
}

func TestReserveMergesDuplicateLines(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Dome 2", 2, 5)
	reg := e.draft(t, "SD 9")

	summary, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{
		{TentTypeID: tent.ID, Quantity: 1},
		{TentTypeID: tent.ID, Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, summary.Reservations, 1)
	assert.Equal(t, 3, summary.Reservations[0].Quantity)
	assert.Equal(t, 2, e.stock(t, tent.ID))
}

func TestReserveRejectsBadInput(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Dome 2", 2, 5)
	reg := e.draft(t, "SD 10")

	_, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: 999, Quantity: 1}})
	assert.True(t, IsValidation(err))

	_, err = e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: -1}})
	assert.True(t, IsValidation(err))

	_, err = e.ledger.Reserve(ctx, admin, 12345, []model.TentLine{{TentTypeID: tent.ID, Quantity: 1}})
	assert.ErrorIs(t, err, ErrNotFound)

	sub := e.submitted(t, "SMA 77", []string{""})
	_, err = e.ledger.Reserve(ctx, admin, sub.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 1}})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 5, e.stock(t, tent.ID))
}

func TestConcurrentReservationOfLastUnit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Dome 4", 4, 1)
	a := e.draft(t, "SD Alpha")
	b := e.draft(t, "SD Beta")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, reg := range []*model.Registration{a, b} {
		i, reg := i, reg
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 1}})
		}()
	}
	wg.Wait()

	successes, shortages := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInsufficientStock):
			shortages++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, shortages)
	assert.Equal(t, 0, e.stock(t, tent.ID))
}
