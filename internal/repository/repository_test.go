package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/repository"
	"github.com/iliyamo/camp-registration/internal/testutil"
)

func newRegistration(t *testing.T, repo *repository.RegistrationRepo, name string) *model.Registration {
	t.Helper()
	reg := &model.Registration{SchoolName: name, NormalizedName: name}
	require.NoError(t, repo.Create(context.Background(), reg))
	return reg
}

func withTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func TestTentTypeGuardedUpdates(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	tents := repository.NewTentTypeRepo(db)

	tt := &model.TentType{Label: "Dome 4", Capacity: 4, Price: 150000, StockInitial: 3}
	require.NoError(t, tents.Create(ctx, tt))
	assert.Equal(t, 3, tt.StockAvailable)

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return tents.DecrementTx(ctx, tx, tt.ID, 2) }))

	err := withTx(t, db, func(tx *sql.Tx) error { return tents.DecrementTx(ctx, tx, tt.ID, 2) })
	assert.ErrorIs(t, err, repository.ErrInsufficientStock)

	err = withTx(t, db, func(tx *sql.Tx) error { return tents.IncrementTx(ctx, tx, tt.ID, 3) })
	assert.ErrorIs(t, err, repository.ErrStockOverflow)

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return tents.IncrementTx(ctx, tx, tt.ID, 2) }))

	got, err := tents.GetByID(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.StockAvailable)

	_, err = tents.GetByID(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrTentTypeNotFound)
}

func TestRegistrationStateGuards(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	regs := repository.NewRegistrationRepo(db)
	reg := newRegistration(t, regs, "sman 1")

	err := withTx(t, db, func(tx *sql.Tx) error { return regs.RejectTx(ctx, tx, reg.ID, "late", time.Now()) })
	assert.ErrorIs(t, err, repository.ErrStateGuard)

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		return regs.SubmitTx(ctx, tx, reg.ID, "REG-20260101-00001", "temp/sman-1/payment_proofs/p.jpg", time.Now())
	}))
	require.NoError(t, regs.SetTempPath(ctx, reg.ID, model.AssetExcel, "temp/sman-1/excel/list.xlsx"))

	excel := "permanent/sman-1/excel/REG-20260101-00001_sman-1.xlsx"
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		return regs.ConfirmTx(ctx, tx, reg.ID, repository.PermanentPaths{Excel: &excel}, time.Now())
	}))

	got, err := regs.GetByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Nil(t, got.TempExcelPath)
	assert.Nil(t, got.TempPaymentProofPath)
	require.NotNil(t, got.ExcelPath)
	assert.Equal(t, excel, *got.ExcelPath)
	assert.Nil(t, got.PaymentProofPath)
	require.NotNil(t, got.ConfirmedAt)

	err = withTx(t, db, func(tx *sql.Tx) error {
		return regs.ConfirmTx(ctx, tx, reg.ID, repository.PermanentPaths{}, time.Now())
	})
	assert.ErrorIs(t, err, repository.ErrStateGuard)

	assert.ErrorIs(t, regs.SetTempPath(ctx, reg.ID, model.AssetPhotos, "temp/x"), repository.ErrStateGuard)

	ok, err := regs.SetTempReceiptPathIfSubmitted(ctx, reg.ID, "temp/sman-1/receipts/r.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistrationListFilters(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	regs := repository.NewRegistrationRepo(db)

	a := newRegistration(t, regs, "sma harapan")
	newRegistration(t, regs, "smp nusantara")
	newRegistration(t, regs, "sma bakti")
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		return regs.SubmitTx(ctx, tx, a.ID, "REG-1", "p", time.Now())
	}))

	list, total, err := regs.List(ctx, repository.ListQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, list, 3)

	list, total, err = regs.List(ctx, repository.ListQuery{Filters: []repository.Filter{repository.NameContains("SMA")}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, list, 2)

	list, total, err = regs.List(ctx, repository.ListQuery{Filters: []repository.Filter{
		repository.NameContains("sma"),
		repository.StatusIs(model.StatusSubmitted),
	}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	_, total, err = regs.List(ctx, repository.ListQuery{Filters: []repository.Filter{
		repository.CreatedAfter(time.Now().Add(time.Hour)),
	}})
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)

	list, total, err = regs.List(ctx, repository.ListQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, list, 1)
}

func TestReservationsAndBookings(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	regs := repository.NewRegistrationRepo(db)
	tents := repository.NewTentTypeRepo(db)
	reservations := repository.NewTentReservationRepo(db)
	bookings := repository.NewTentBookingRepo(db)

	reg := newRegistration(t, regs, "sd merdeka")
	tt := &model.TentType{Label: "Family", Capacity: 6, StockInitial: 10}
	require.NoError(t, tents.Create(ctx, tt))

	past := time.Now().Add(-time.Minute)
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		return reservations.CreateBulkTx(ctx, tx, reg.ID, []model.TentLine{{TentTypeID: tt.ID, Quantity: 2}}, past)
	}))

	ids, err := reservations.ListExpiredIDs(ctx, time.Now(), 0, 100)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	after, err := reservations.ListExpiredIDs(ctx, time.Now(), ids[0], 100)
	require.NoError(t, err)
	assert.Empty(t, after)

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		_, err := reservations.ExtendTx(ctx, tx, reg.ID, time.Now().Add(time.Hour))
		return err
	}))
	ids, err = reservations.ListExpiredIDs(ctx, time.Now(), 0, 100)
	require.NoError(t, err)
	assert.Empty(t, ids)

	list, err := reservations.ListByRegistration(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// The extended hold is no longer expired, so the guarded delete skips it.
	err = withTx(t, db, func(tx *sql.Tx) error { return reservations.DeleteExpiredByIDTx(ctx, tx, list[0].ID, time.Now()) })
	assert.ErrorIs(t, err, repository.ErrReservationNotFound)
	list, err = reservations.ListByRegistration(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		if err := bookings.CreateFromReservationsTx(ctx, tx, list); err != nil {
			return err
		}
		return reservations.DeleteByIDTx(ctx, tx, list[0].ID)
	}))
	err = withTx(t, db, func(tx *sql.Tx) error { return reservations.DeleteByIDTx(ctx, tx, list[0].ID) })
	assert.ErrorIs(t, err, repository.ErrReservationNotFound)

	booked, err := bookings.ListByRegistration(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, 2, booked[0].Quantity)
}

func TestPeopleReplaceAndPhotoRewrite(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	regs := repository.NewRegistrationRepo(db)
	people := repository.NewPersonRepo(db)
	reg := newRegistration(t, regs, "mts al ikhlas")

	photo := "temp/mts-al-ikhlas/photos/a.jpg"
	born := time.Date(2010, 5, 17, 0, 0, 0, 0, time.UTC)
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		if err := people.ReplaceParticipantsTx(ctx, tx, reg.ID, []model.Participant{
			{Person: model.Person{Name: "Ani", BirthDate: &born, EntryYear: 2023}, PhotoPath: &photo},
			{Person: model.Person{Name: "Budi"}},
		}); err != nil {
			return err
		}
		return people.ReplaceCompanionsTx(ctx, tx, reg.ID, []model.Companion{{Person: model.Person{Name: "Bu Sri"}}})
	}))

	var hc model.HeadCount
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		var err error
		hc, err = people.HeadCountTx(ctx, tx, reg.ID)
		return err
	}))
	assert.Equal(t, model.HeadCount{Participants: 2, Companions: 1}, hc)

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		n, err := people.RewritePhotoPathTx(ctx, tx, reg.ID, photo, "permanent/mts-al-ikhlas/photos/a.jpg")
		assert.EqualValues(t, 1, n)
		return err
	}))

	list, err := people.ListParticipants(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].PhotoPath)
	assert.Equal(t, "permanent/mts-al-ikhlas/photos/a.jpg", *list[0].PhotoPath)
	require.NotNil(t, list[0].BirthDate)
	assert.True(t, born.Equal(*list[0].BirthDate))
	assert.Nil(t, list[1].PhotoPath)
}

func TestCheckpointAndAudit(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	regs := repository.NewRegistrationRepo(db)
	checkpoints := repository.NewCheckpointRepo(db)
	audits := repository.NewAuditRepo(db)
	reg := newRegistration(t, regs, "sd pelita")

	_, err := checkpoints.Get(ctx, reg.ID)
	assert.ErrorIs(t, err, repository.ErrCheckpointNotFound)

	require.NoError(t, checkpoints.Save(ctx, reg.ID, []byte(`[{"asset":"excel"}]`)))
	require.NoError(t, checkpoints.Save(ctx, reg.ID, []byte(`[{"asset":"photos"}]`)))
	got, err := checkpoints.Get(ctx, reg.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"asset":"photos"}]`, string(got))

	regID := reg.ID
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error {
		if err := checkpoints.DeleteTx(ctx, tx, reg.ID); err != nil {
			return err
		}
		return audits.CreateTx(ctx, tx, &model.AuditLog{
			ActorID: "admin-1", ActorIP: "10.0.0.1", Action: model.ActionRegistrationDeleted,
			RegistrationID: &regID, Detail: []byte(`{"school":"x"}`),
		})
	}))
	_, err = checkpoints.Get(ctx, reg.ID)
	assert.ErrorIs(t, err, repository.ErrCheckpointNotFound)

	entries, err := audits.ListByRegistration(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionRegistrationDeleted, entries[0].Action)
	assert.JSONEq(t, `{"school":"x"}`, string(entries[0].Detail))
}

func TestCheckpointRequiresRegistrationAndCascades(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	regs := repository.NewRegistrationRepo(db)
	checkpoints := repository.NewCheckpointRepo(db)

	assert.Error(t, checkpoints.Save(ctx, 404, []byte(`[]`)))

	reg := newRegistration(t, regs, "sd cahaya")
	require.NoError(t, checkpoints.Save(ctx, reg.ID, []byte(`[{"asset":"excel"}]`)))
	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return regs.DeleteTx(ctx, tx, reg.ID) }))

	_, err := checkpoints.Get(ctx, reg.ID)
	assert.ErrorIs(t, err, repository.ErrCheckpointNotFound)
}

func TestRegistrationFolderAssignment(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	regs := repository.NewRegistrationRepo(db)

	first := &model.Registration{SchoolName: "SMA 1 Bandung", NormalizedName: "sma 1 bandung", Folder: "sma-1-bandung"}
	require.NoError(t, regs.Create(ctx, first))
	assert.Equal(t, "sma-1-bandung", first.Folder)

	second := &model.Registration{SchoolName: "SMA-1 Bandung", NormalizedName: "sma-1 bandung", Folder: "sma-1-bandung"}
	require.NoError(t, regs.Create(ctx, second))
	assert.Equal(t, fmt.Sprintf("sma-1-bandung-%d", second.ID), second.Folder)

	got, err := regs.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Folder, got.Folder)

	unnamed := newRegistration(t, regs, "x")
	assert.Equal(t, "registration", unnamed.Folder)
}

func TestActiveNameIsUnique(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	regs := repository.NewRegistrationRepo(db)

	// Drafts of the same school may coexist.
	a := newRegistration(t, regs, "smp harapan")
	b := newRegistration(t, regs, "smp harapan")

	submit := func(id uint64, order string) error {
		return withTx(t, db, func(tx *sql.Tx) error {
			return regs.SubmitTx(ctx, tx, id, order, "temp/p.jpg", time.Now())
		})
	}
	require.NoError(t, submit(a.ID, "REG-20260101-00001"))
	assert.ErrorIs(t, submit(b.ID, "REG-20260101-00002"), repository.ErrNameTaken)

	got, err := regs.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, got.Status)

	require.NoError(t, withTx(t, db, func(tx *sql.Tx) error { return regs.DeleteTx(ctx, tx, a.ID) }))
	require.NoError(t, submit(b.ID, "REG-20260101-00002"))
}
