package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-registration/internal/model"
)

type fakeLease struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLease) Acquire(context.Context, string, time.Duration) (bool, error) {
	if l.held {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *fakeLease) Release(context.Context, string) error {
	l.released++
	return nil
}

func TestSweeperReleasesExpiredOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Dome 2", 2, 4)
	reg := e.draft(t, "SMP 2")

	_, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, 1, e.stock(t, tent.ID))

	// Nothing has expired yet.
	res, err := e.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Released)
	assert.Equal(t, 1, e.stock(t, tent.ID))

	e.sweeper.now = func() time.Time { return time.Now().UTC().Add(2 * reservationTTL) }
	res, err = e.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Released: 1}, res)
	assert.Equal(t, 4, e.stock(t, tent.ID))

	res, err = e.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
	assert.Equal(t, 0, res.Released)
	assert.Equal(t, 4, e.stock(t, tent.ID))

	held, err := e.repos.Reservations.ListByRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestSweeperSkipsExtendedReservations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Dome 2", 2, 4)
	reg := e.draft(t, "SMP 4")
	e.withRoster(t, reg, []string{""}, 0)
	_, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 2}})
	require.NoError(t, err)
	_, err = e.registrations.UploadAsset(ctx, admin, reg.ID, model.AssetPaymentProof, "p.png", []byte("x"), "image/png")
	require.NoError(t, err)
	_, err = e.registrations.Submit(ctx, admin, reg.ID, "")
	require.NoError(t, err)

	// Past the draft TTL but inside the review window.
	e.sweeper.now = func() time.Time { return time.Now().UTC().Add(2 * reservationTTL) }
	res, err := e.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Released)
	assert.Equal(t, 2, e.stock(t, tent.ID))
}

func TestSweeperHonoursLease(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lease := &fakeLease{held: true}
	e.sweeper.lease = lease

	res, err := e.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	lease.held = false
	res, err = e.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, lease.acquired)
	assert.Equal(t, 1, lease.released)
}

func TestSweeperReleaseSkipsHoldExtendedAfterSelection(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Dome 2", 2, 4)
	reg := e.draft(t, "SMP 6")
	_, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 2}})
	require.NoError(t, err)

	later := time.Now().UTC().Add(2 * reservationTTL)
	ids, err := e.repos.Reservations.ListExpiredIDs(ctx, later, 0, 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// Submitted between selection and release: the review window applies.
	tx, err := e.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = e.repos.Reservations.ExtendTx(ctx, tx, reg.ID, later.Add(72*time.Hour))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	released, err := e.sweeper.releaseOne(ctx, ids[0], later)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, 2, e.stock(t, tent.ID))
	held, err := e.repos.Reservations.ListByRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestSweeperContinuesPastFailedRelease(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	broken := e.tentType(t, "Dome 2", 2, 4)
	healthy := e.tentType(t, "Dome 4", 4, 4)
	regs := []*model.Registration{e.draft(t, "SD 1"), e.draft(t, "SD 2"), e.draft(t, "SD 3")}
	_, err := e.ledger.Reserve(ctx, admin, regs[0].ID, []model.TentLine{{TentTypeID: broken.ID, Quantity: 1}})
	require.NoError(t, err)
	for _, reg := range regs[1:] {
		_, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: healthy.ID, Quantity: 1}})
		require.NoError(t, err)
	}

	// Releasing the first hold would overflow its tent type.
	_, err = e.db.ExecContext(ctx, `UPDATE tent_types SET stock_available = stock_initial WHERE id = ?`, broken.ID)
	require.NoError(t, err)

	e.sweeper.batch = 1
	e.sweeper.now = func() time.Time { return time.Now().UTC().Add(2 * reservationTTL) }
	res, err := e.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 3, Released: 2, Failed: 1}, res)
	assert.Equal(t, 4, e.stock(t, healthy.ID))

	held, err := e.repos.Reservations.ListByRegistration(ctx, regs[0].ID)
	require.NoError(t, err)
	assert.Len(t, held, 1)
	for _, reg := range regs[1:] {
		held, err := e.repos.Reservations.ListByRegistration(ctx, reg.ID)
		require.NoError(t, err)
		assert.Empty(t, held)
	}
}
