// Package worker holds the background maintenance loops: the inactivity
// sweeper that reaps expired transient projects and the reconciler that
// reclaims orphaned role blobs.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/netsblox/cloud/internal/blob"
	"github.com/netsblox/cloud/internal/metrics"
	"github.com/netsblox/cloud/internal/project"
)

// blobPrefix is where role content lives in the blob store.
const blobPrefix = "projects/"

// SweepStore lists projects whose inactivity deadline has passed.
type SweepStore interface {
	ListExpired(ctx context.Context, now time.Time) ([]project.Metadata, error)
}

// Deleter removes a project's metadata and blobs.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// Sweeper deletes transient and broken projects once their retention window
// runs out. Projects stay alive as long as a client occupies them; the
// deadline only starts when the last occupant leaves.
type Sweeper struct {
	store    SweepStore
	deleter  Deleter
	metrics  *metrics.Metrics
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewSweeper creates the inactivity sweeper.
func NewSweeper(store SweepStore, deleter Deleter, m *metrics.Metrics, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		deleter:  deleter,
		metrics:  m,
		interval: interval,
		now:      time.Now,
		log:      logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep deletes every expired project once, returning the number removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired, err := s.store.ListExpired(ctx, s.now())
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to list expired projects")
		return 0
	}

	deleted := 0
	for _, meta := range expired {
		if err := s.deleter.Delete(ctx, meta.ID); err != nil {
			s.log.Warn().Err(err).Str("project", meta.ID).Msg("Failed to sweep project")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.metrics.ProjectsSwept.Add(float64(deleted))
		s.log.Info().Int("count", deleted).Msg("Swept expired projects")
	}
	return deleted
}

// BlobIndex reports every blob key the metadata store still references.
type BlobIndex interface {
	ReferencedBlobKeys(ctx context.Context) (map[string]struct{}, error)
}

// Reconciler deletes blobs no project references anymore. Saves write the
// blob before committing metadata, so a freshly written blob can look
// orphaned mid-save; the grace window keeps those out of reach.
type Reconciler struct {
	blobs    blob.Store
	index    BlobIndex
	metrics  *metrics.Metrics
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewReconciler creates the orphaned-blob reconciler.
func NewReconciler(blobs blob.Store, index BlobIndex, m *metrics.Metrics, interval, grace time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		blobs:    blobs,
		index:    index,
		metrics:  m,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		log:      logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run reconciles on the configured interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.log.Warn().Err(err).Msg("Blob reconciliation failed")
			}
		}
	}
}

// Reconcile deletes unreferenced blobs older than the grace window once,
// returning the number reclaimed.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	stored, err := r.blobs.List(ctx, blobPrefix)
	if err != nil {
		return 0, err
	}
	referenced, err := r.index.ReferencedBlobKeys(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := r.now().Add(-r.grace)
	reclaimed := 0
	for key, modified := range stored {
		if _, ok := referenced[key]; ok {
			continue
		}
		if modified.After(cutoff) {
			continue
		}
		if err := r.blobs.Delete(ctx, key); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("Failed to delete orphaned blob")
			continue
		}
		reclaimed++
	}
	if reclaimed > 0 {
		r.metrics.BlobsReclaimed.Add(float64(reclaimed))
		r.log.Info().Int("count", reclaimed).Msg("Reclaimed orphaned blobs")
	}
	return reclaimed, nil
}
