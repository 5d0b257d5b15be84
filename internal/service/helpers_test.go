package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/iliyamo/camp-registration/internal/metrics"
	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/storage"
	"github.com/iliyamo/camp-registration/internal/testutil"
)

var admin = Actor{ID: "admin-1", IP: "10.0.0.7"}

type recordedJob struct {
	Name    string
	Payload any
}

type recordingJobs struct {
	mu   sync.Mutex
	jobs []recordedJob
	err  error
}

func (r *recordingJobs) Enqueue(_ context.Context, name string, payload any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.jobs = append(r.jobs, recordedJob{Name: name, Payload: payload})
	return fmt.Sprintf("job-%d", len(r.jobs)), nil
}

func (r *recordingJobs) named(name string) []recordedJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedJob
	for _, j := range r.jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

type env struct {
	db            *sql.DB
	repos         Repos
	store         *storage.MemoryGateway
	jobs          *recordingJobs
	ledger        *Ledger
	sweeper       *Sweeper
	finalizer     *Finalizer
	cleaner       *Cleaner
	registrations *Registrations
}

const (
	participantFee = 250000
	companionFee   = 100000
	reservationTTL = 30 * time.Minute
)

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.OpenDB(t)
	repos := NewRepos(db)
	store := storage.NewMemoryGateway()
	jobs := &recordingJobs{}
	m := metrics.New(prometheus.NewRegistry())
	log := zerolog.New(zerolog.NewTestWriter(t))

	ledger := NewLedger(db, repos, reservationTTL, m, log)
	return &env{
		db:        db,
		repos:     repos,
		store:     store,
		jobs:      jobs,
		ledger:    ledger,
		sweeper:   NewSweeper(db, repos, nil, m, log),
		finalizer: NewFinalizer(db, repos, store, jobs, FinalizerConfig{}, m, log),
		cleaner:   NewCleaner(db, repos, ledger, store, jobs, m, log),
		registrations: NewRegistrations(db, repos, ledger, store, jobs, RegistrationConfig{
			Pricing:   Pricing{ParticipantFee: participantFee, CompanionFee: companionFee},
			ReviewTTL: 72 * time.Hour,
		}, log),
	}
}

func (e *env) tentType(t *testing.T, label string, capacity, stock int) *model.TentType {
	t.Helper()
	tt := &model.TentType{Label: label, Capacity: capacity, Price: 500000, StockInitial: stock}
	require.NoError(t, e.ledger.CreateTentType(context.Background(), tt))
	return tt
}

func (e *env) stock(t *testing.T, id uint64) int {
	t.Helper()
	tt, err := e.repos.TentTypes.GetByID(context.Background(), id)
	require.NoError(t, err)
	return tt.StockAvailable
}

func (e *env) draft(t *testing.T, school string) *model.Registration {
	t.Helper()
	reg, err := e.registrations.Create(context.Background(), admin, CreateInput{
		SchoolName:   school,
		ContactName:  "Pak Budi",
		ContactEmail: "budi@example.org",
	})
	require.NoError(t, err)
	return reg
}

// rosterXLSX builds a workbook with the given participant photo names (one
// participant per entry, "" for no photo) and companion count.
func rosterXLSX(t *testing.T, photos []string, companions int) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	header := []any{"Name", "Birth place", "Birth date", "Address", "Blood type", "Entry year", "Phone", "Gender", "Photo"}
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	for i, photo := range photos {
		row := []any{fmt.Sprintf("Student %d", i+1), "Bandung", "2011-03-0" + fmt.Sprint(i%9+1), "Jl. Merdeka", "o", "2023", "0812", "F", photo}
		require.NoError(t, f.SetSheetRow("Sheet1", fmt.Sprintf("A%d", i+2), &row))
	}
	if companions > 0 {
		_, err := f.NewSheet("Companions")
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Companions", "A1", &header))
		for i := 0; i < companions; i++ {
			row := []any{fmt.Sprintf("Teacher %d", i+1), "Bandung", "", "", "A", "", "0813", "M"}
			require.NoError(t, f.SetSheetRow("Companions", fmt.Sprintf("A%d", i+2), &row))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// withRoster uploads and processes a roster with photos for every named
// participant photo.
func (e *env) withRoster(t *testing.T, reg *model.Registration, photos []string, companions int) {
	t.Helper()
	ctx := context.Background()
	key, err := e.registrations.UploadAsset(ctx, admin, reg.ID, model.AssetExcel, "roster.xlsx", rosterXLSX(t, photos, companions), "")
	require.NoError(t, err)
	for _, p := range photos {
		if p == "" {
			continue
		}
		_, err := e.registrations.UploadAsset(ctx, admin, reg.ID, model.AssetPhotos, p, []byte("jpeg:"+p), "image/jpeg")
		require.NoError(t, err)
	}
	_, err = e.registrations.ProcessSpreadsheet(ctx, admin, reg.ID, key)
	require.NoError(t, err)
}

// submitted drives a registration to SUBMITTED with a payment proof.
func (e *env) submitted(t *testing.T, school string, photos []string) *model.Registration {
	t.Helper()
	ctx := context.Background()
	reg := e.draft(t, school)
	e.withRoster(t, reg, photos, 1)
	_, err := e.registrations.UploadAsset(ctx, admin, reg.ID, model.AssetPaymentProof, "transfer.jpg", []byte("proof"), "image/jpeg")
	require.NoError(t, err)
	out, err := e.registrations.Submit(ctx, admin, reg.ID, "")
	require.NoError(t, err)
	return out
}
