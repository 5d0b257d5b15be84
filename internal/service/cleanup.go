package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/camp-registration/internal/metrics"
	"github.com/iliyamo/camp-registration/internal/model"
	"github.com/iliyamo/camp-registration/internal/repository"
	"github.com/iliyamo/camp-registration/internal/storage"
)

// DeleteResult reports what DeleteRegistration did.
type DeleteResult struct {
	RegistrationID uint64 `json:"registration_id"`
	Folder         string `json:"folder"`
	ReleasedUnits  int    `json:"released_units"`
	PurgeJobID     string `json:"purge_job_id,omitempty"`
	PurgedInline   bool   `json:"purged_inline"`
}

// PurgeResult reports a storage purge.
type PurgeResult struct {
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// StaleDraftResult reports a stale-draft cleanup run.
type StaleDraftResult struct {
	Found          int   `json:"found"`
	Deleted        int64 `json:"deleted"`
	ObjectsRemoved int   `json:"objects_removed"`
	ReleasedUnits  int   `json:"released_units"`
}

const staleDraftBatch = 200

// Cleaner deletes registrations and their stored files.  The database is
// authoritative: storage cleanup runs after (deletion) or before (stale
// drafts) the transaction and its failures are logged, never returned.
type Cleaner struct {
	db      *sql.DB
	repos   Repos
	ledger  *Ledger
	store   storage.Gateway
	jobs    Enqueuer
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     Clock
}

// NewCleaner builds the cleanup workflow.  jobs may be nil, in which case
// purges run inline.
func NewCleaner(db *sql.DB, repos Repos, ledger *Ledger, store storage.Gateway, jobs Enqueuer, m *metrics.Metrics, log zerolog.Logger) *Cleaner {
	return &Cleaner{
		db:      db,
		repos:   repos,
		ledger:  ledger,
		store:   store,
		jobs:    jobs,
		metrics: m,
		log:     log.With().Str("component", "cleanup").Logger(),
		now:     systemClock,
	}
}

// DeleteRegistration removes a registration in any status.  Its
// reservations go back to stock in the same transaction.
func (c *Cleaner) DeleteRegistration(ctx context.Context, actor Actor, id uint64) (*DeleteResult, error) {
	fail := func(err error) error { return &TransactionFailure{Op: "delete registration", Err: err} }

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fail(err)
	}
	committed := false
	defer rollback(tx, &committed)

	reg, err := c.repos.Registrations.GetByIDTx(ctx, tx, id)
	if errors.Is(err, repository.ErrRegistrationNotFound) {
		return nil, fmt.Errorf("registration %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fail(err)
	}
	released, err := c.ledger.ReleaseTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := c.repos.Registrations.DeleteTx(ctx, tx, id); err != nil {
		return nil, fail(err)
	}
	if err := audit(ctx, c.repos.Audits, tx, actor, model.ActionRegistrationDeleted, id, map[string]any{
		"school_name":    reg.SchoolName,
		"status":         reg.Status,
		"order_id":       reg.OrderID,
		"released_units": released,
	}); err != nil {
		return nil, fail(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fail(err)
	}
	committed = true

	result := &DeleteResult{RegistrationID: id, Folder: reg.Folder, ReleasedUnits: released}
	c.log.Info().Uint64("registration_id", id).Int("released_units", released).Str("actor", actor.ID).Msg("registration deleted")
	if reg.Folder == "" {
		return result, nil
	}

	bg := context.WithoutCancel(ctx)
	if c.jobs != nil {
		jobID, err := c.jobs.Enqueue(bg, JobStoragePurge, PurgePayload{Folder: reg.Folder})
		if err == nil {
			result.PurgeJobID = jobID
			return result, nil
		}
		c.log.Warn().Err(err).Str("folder", reg.Folder).Msg("enqueue storage purge, purging inline")
	}
	c.PurgeStorage(bg, reg.Folder)
	result.PurgedInline = true
	return result, nil
}

// PurgeStorage removes every object in both trees of a registration
// folder.  A failing kind folder is logged and counted and the remaining
// ones are still visited.
func (c *Cleaner) PurgeStorage(ctx context.Context, folder string) PurgeResult {
	var result PurgeResult
	for _, ns := range []storage.Namespace{storage.Temp, storage.Permanent} {
		for _, kind := range model.AssetKinds {
			prefix := storage.Folder(ns, folder, kind)
			keys, err := c.store.List(ctx, prefix)
			if err == nil && len(keys) > 0 {
				err = c.store.Remove(ctx, keys)
			}
			if err != nil {
				result.Failed++
				if c.metrics != nil {
					c.metrics.PurgeFailures.Inc()
				}
				c.log.Error().Err(err).Str("folder", prefix).Msg("purge folder")
				continue
			}
			result.Removed += len(keys)
		}
	}
	c.log.Info().Str("folder", folder).Int("removed", result.Removed).Int("failed", result.Failed).Msg("storage purged")
	return result
}

// CleanupStaleDrafts deletes DRAFT registrations untouched for maxAge.
// Their temp files are removed first, in one batch; then one transaction
// releases their reservations and deletes the rows.  A draft whose
// folders cannot be listed is kept for the next run.
func (c *Cleaner) CleanupStaleDrafts(ctx context.Context, maxAge time.Duration) (StaleDraftResult, error) {
	var result StaleDraftResult
	drafts, err := c.repos.Registrations.ListStaleDrafts(ctx, c.now().Add(-maxAge), staleDraftBatch)
	if err != nil {
		return result, err
	}
	result.Found = len(drafts)
	if len(drafts) == 0 {
		return result, nil
	}

	ids := make([]uint64, 0, len(drafts))
	var keys []string
	for _, d := range drafts {
		listed := true
		if d.Folder != "" {
			for _, kind := range model.AssetKinds {
				k, err := c.store.List(ctx, storage.Folder(storage.Temp, d.Folder, kind))
				if err != nil {
					c.log.Warn().Err(err).Uint64("registration_id", d.ID).Msg("list draft folder, keeping draft")
					listed = false
					break
				}
				keys = append(keys, k...)
			}
		}
		if listed {
			ids = append(ids, d.ID)
		}
	}
	if len(keys) > 0 {
		if err := c.store.Remove(ctx, keys); err != nil {
			if c.metrics != nil {
				c.metrics.PurgeFailures.Inc()
			}
			c.log.Error().Err(err).Int("objects", len(keys)).Msg("remove stale draft files")
		} else {
			result.ObjectsRemoved = len(keys)
		}
	}
	if len(ids) == 0 {
		return result, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return result, &TransactionFailure{Op: "cleanup stale drafts", Err: err}
	}
	committed := false
	defer rollback(tx, &committed)

	still := make([]uint64, 0, len(ids))
	for _, id := range ids {
		reg, err := c.repos.Registrations.GetByIDTx(ctx, tx, id)
		if errors.Is(err, repository.ErrRegistrationNotFound) {
			continue
		}
		if err != nil {
			return result, &TransactionFailure{Op: "cleanup stale drafts", Err: err}
		}
		if reg.Status != model.StatusDraft {
			continue
		}
		units, err := c.ledger.ReleaseTx(ctx, tx, id)
		if err != nil {
			return result, err
		}
		result.ReleasedUnits += units
		still = append(still, id)
	}
	deleted, err := c.repos.Registrations.DeleteDraftsTx(ctx, tx, still)
	if err != nil {
		return result, &TransactionFailure{Op: "cleanup stale drafts", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return result, &TransactionFailure{Op: "cleanup stale drafts", Err: err}
	}
	committed = true
	result.Deleted = deleted
	if c.metrics != nil {
		c.metrics.DraftsCleaned.Add(float64(deleted))
	}
	c.log.Info().
		Int("found", result.Found).
		Int64("deleted", deleted).
		Int("objects_removed", result.ObjectsRemoved).
		Msg("stale drafts cleaned")
	return result, nil
}
