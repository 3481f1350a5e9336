// Package pipeline sequences the phases of a sync run against injected
// engine and store collaborators.
//
// A run has two separable stages gated independently: the index stage
// (index photos, index albums, persist) and the materialize stage
// (download, link albums, reconcile deletions). Splitting them across
// invocations is the resumability contract: once the index is
// persisted, a later run with SkipIndex can download and link from
// stored data alone.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Phase marks one discrete, ordered unit of pipeline work.
type Phase string

const (
	PhaseIndexPhotos        Phase = "index_photos"
	PhaseIndexAlbums        Phase = "index_albums"
	PhasePersistIndex       Phase = "persist_index"
	PhaseDownloadPhotos     Phase = "download_photos"
	PhaseLinkAlbums         Phase = "link_albums"
	PhaseReconcileDeletions Phase = "reconcile_deletions"
)

// PhotosEngine indexes, downloads, and reconciles media items.
type PhotosEngine interface {
	// IndexMedia stages remote media metadata into the store.
	IndexMedia(ctx context.Context) error
	// DownloadMedia fetches media bytes not already present locally.
	DownloadMedia(ctx context.Context) error
	// CheckRemovedMedia removes local files whose remote counterpart
	// no longer exists.
	CheckRemovedMedia(ctx context.Context) error
}

// AlbumsEngine indexes album membership and materializes the local
// album structure.
type AlbumsEngine interface {
	IndexAlbumMedia(ctx context.Context) error
	CreateAlbumContentLinks(ctx context.Context) error
}

// Store is the durable index store as the orchestrator sees it: the
// persist phase flushes staged index rows into durable tables.
type Store interface {
	Flush(ctx context.Context) error
}

// Flags are the phase gates for one run.
type Flags struct {
	// SkipIndex skips the whole index stage, reusing the persisted
	// index from a previous run.
	SkipIndex bool
	// IndexOnly skips the whole materialize stage.
	IndexOnly bool
	// SkipFiles skips per-file work (photo indexing and downloads),
	// leaving only album work.
	SkipFiles bool
	// DoDelete enables deletion reconciliation.
	DoDelete bool
}

// Orchestrator runs the phases strictly sequentially. The first phase
// error aborts the remaining phases; retry, if any, belongs to the
// engines.
type Orchestrator struct {
	photos PhotosEngine
	albums AlbumsEngine
	store  Store
	log    *zap.Logger
}

func New(photos PhotosEngine, albums AlbumsEngine, store Store, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{photos: photos, albums: albums, store: store, log: log}
}

// Run executes the phase sequence selected by flags.
//
// Ordering invariants: photos are indexed before albums so album
// membership references assigned media IDs; persist runs only after
// both index sub-phases; reconciliation runs only after linking, since
// it judges deletions against the freshly linked local view.
func (o *Orchestrator) Run(ctx context.Context, flags Flags) error {
	if !flags.SkipIndex {
		if !flags.SkipFiles {
			if err := o.runPhase(ctx, PhaseIndexPhotos, o.photos.IndexMedia); err != nil {
				return err
			}
		}
		if err := o.runPhase(ctx, PhaseIndexAlbums, o.albums.IndexAlbumMedia); err != nil {
			return err
		}
		if err := o.runPhase(ctx, PhasePersistIndex, o.store.Flush); err != nil {
			return err
		}
	}

	if !flags.IndexOnly {
		if !flags.SkipFiles {
			if err := o.runPhase(ctx, PhaseDownloadPhotos, o.photos.DownloadMedia); err != nil {
				return err
			}
		}
		if err := o.runPhase(ctx, PhaseLinkAlbums, o.albums.CreateAlbumContentLinks); err != nil {
			return err
		}
		if flags.DoDelete {
			if err := o.runPhase(ctx, PhaseReconcileDeletions, o.photos.CheckRemovedMedia); err != nil {
				return err
			}
		}
	}

	return nil
}

func (o *Orchestrator) runPhase(ctx context.Context, phase Phase, fn func(context.Context) error) error {
	o.log.Info("phase started", zap.String("phase", string(phase)))
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", phase, err)
	}
	o.log.Info("phase completed", zap.String("phase", string(phase)))
	return nil
}
