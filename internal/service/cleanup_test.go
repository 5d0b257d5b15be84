package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/repository"
	"github.com/iliyamo/camp-registration/internal/storage"
)

func TestDeleteRegistrationRestoresStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Dome 4", 4, 5)
	reg := e.draft(t, "SD Harapan")
	e.withRoster(t, reg, []string{"a.jpg"}, 0)
	_, err := e.ledger.Reserve(ctx, admin, reg.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, e.stock(t, tent.ID))

	res, err := e.cleaner.DeleteRegistration(ctx, admin, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ReleasedUnits)
	assert.Equal(t, "sd-harapan", res.Folder)
	assert.NotEmpty(t, res.PurgeJobID)
	assert.Equal(t, 5, e.stock(t, tent.ID))

	_, err = e.repos.Registrations.GetByID(ctx, reg.ID)
	assert.ErrorIs(t, err, repository.ErrRegistrationNotFound)
	people, err := e.repos.People.ListParticipants(ctx, reg.ID)
	require.NoError(t, err)
	assert.Empty(t, people)
	held, err := e.repos.Reservations.ListByRegistration(ctx, reg.ID)
	require.NoError(t, err)
	assert.Empty(t, held)

	trail, err := e.registrations.AuditTrail(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionRegistrationDeleted, trail[len(trail)-1].Action)

	jobs := e.jobs.named(JobStoragePurge)
	require.Len(t, jobs, 1)
	assert.Equal(t, PurgePayload{Folder: "sd-harapan"}, jobs[0].Payload)

	_, err = e.cleaner.DeleteRegistration(ctx, admin, reg.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePurgesInlineWhenQueueIsDown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sub := e.submitted(t, "SMA Bakti", []string{"a.jpg"})
	_, err := e.finalizer.Confirm(ctx, admin, sub.ID)
	require.NoError(t, err)
	require.NotEmpty(t, e.store.Keys())

	e.jobs.err = errors.New("broker unreachable")
	res, err := e.cleaner.DeleteRegistration(ctx, admin, sub.ID)
	require.NoError(t, err)
	assert.True(t, res.PurgedInline)
	assert.Empty(t, e.store.Keys())
}

func TestDeleteOnlyPurgesItsOwnFolder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.draft(t, "SMP Nusantara")
	second := e.draft(t, "smp  nusantara")
	assert.Equal(t, "smp-nusantara", first.Folder)
	assert.Equal(t, fmt.Sprintf("smp-nusantara-%d", second.ID), second.Folder)
	_, err := e.registrations.UploadAsset(ctx, admin, first.ID, model.AssetPhotos, "x.jpg", []byte("x"), "")
	require.NoError(t, err)
	_, err = e.registrations.UploadAsset(ctx, admin, second.ID, model.AssetPhotos, "x.jpg", []byte("y"), "")
	require.NoError(t, err)

	e.jobs.err = errors.New("broker unreachable")
	res, err := e.cleaner.DeleteRegistration(ctx, admin, first.ID)
	require.NoError(t, err)
	assert.True(t, res.PurgedInline)
	assert.Equal(t, []string{"temp/" + second.Folder + "/photos/x.jpg"}, e.store.Keys())
}

func TestDeleteKeepsFilesOfSchoolWithSameSlug(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	kept := e.submitted(t, "SMA 1 Bandung", []string{"a.jpg"})
	gone := e.draft(t, "SMA-1 Bandung")
	require.NotEqual(t, kept.NormalizedName, gone.NormalizedName)
	require.NotEqual(t, kept.Folder, gone.Folder)
	e.withRoster(t, gone, []string{"a.jpg"}, 0)
	before := e.store.Keys()

	e.jobs.err = errors.New("broker unreachable")
	_, err := e.cleaner.DeleteRegistration(ctx, admin, gone.ID)
	require.NoError(t, err)

	var left []string
	for _, k := range before {
		if strings.HasPrefix(k, "temp/sma-1-bandung/") {
			left = append(left, k)
		}
	}
	assert.Equal(t, left, e.store.Keys())
	assert.Contains(t, left, "temp/sma-1-bandung/photos/a.jpg")

	res, err := e.finalizer.Confirm(ctx, admin, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.MoveFailures)
}

func TestPurgeStorageContinuesPastFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, k := range []string{
		"temp/sd-1/excel/a.xlsx",
		"temp/sd-1/photos/a.jpg",
		"permanent/sd-1/receipts/r.pdf",
		"permanent/sd-1/photos/b.jpg",
	} {
		require.NoError(t, e.store.Upload(ctx, k, []byte("x"), ""))
	}
	e.store.FailOn(storage.OpList, "temp/sd-1/photos/")

	res := e.cleaner.PurgeStorage(ctx, "sd-1")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, res.Removed)
	assert.Equal(t, []string{"temp/sd-1/photos/a.jpg"}, e.store.Keys())
}

func TestCleanupStaleDrafts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tent := e.tentType(t, "Dome 2", 2, 4)

	stale := e.draft(t, "SD Lama")
	e.withRoster(t, stale, []string{"a.jpg"}, 0)
	_, err := e.ledger.Reserve(ctx, admin, stale.ID, []model.TentLine{{TentTypeID: tent.ID, Quantity: 1}})
	require.NoError(t, err)
	sub := e.submitted(t, "SMA Aktif", []string{""})

	// Nothing is old enough yet.
	res, err := e.cleaner.CleanupStaleDrafts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found)

	e.cleaner.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	res, err = e.cleaner.CleanupStaleDrafts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Found)
	assert.EqualValues(t, 1, res.Deleted)
	assert.Equal(t, 2, res.ObjectsRemoved)
	assert.Equal(t, 1, res.ReleasedUnits)
	assert.Equal(t, 4, e.stock(t, tent.ID))

	_, err = e.repos.Registrations.GetByID(ctx, stale.ID)
	assert.ErrorIs(t, err, repository.ErrRegistrationNotFound)
	_, err = e.repos.Registrations.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	for _, k := range e.store.Keys() {
		assert.NotContains(t, k, "sd-lama")
	}
}
