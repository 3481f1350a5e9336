package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/gphotosync/internal/auth"
	"github.com/3leaps/gphotosync/internal/config"
	"github.com/3leaps/gphotosync/internal/diagnostics"
	"github.com/3leaps/gphotosync/internal/observability"
	"github.com/3leaps/gphotosync/pkg/gphotos"
	"github.com/3leaps/gphotosync/pkg/gsync"
	"github.com/3leaps/gphotosync/pkg/lockfile"
	"github.com/3leaps/gphotosync/pkg/localindex"
	"github.com/3leaps/gphotosync/pkg/pipeline"
)

// runSync is the whole CLI: resolve configuration, take the lock, arm
// the diagnostics recorder, run the pipeline, and report elapsed time.
//
// A failed sync normally still exits zero: the failure is logged and
// recorded in the trace file, and the next run resumes from the index.
// --strict-exit opts into a non-zero exit for scripting.
func runSync(cmd *cobra.Command, args []string) error {
	started := time.Now()

	if err := observability.InitCLILogger(viper.GetString("log-level"), viper.GetBool("brief")); err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid logging options", err)
	}
	defer func() { _ = observability.Sync() }()
	log := observability.CLILogger

	cfg, err := config.Resolve(viper.GetViper(), args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid configuration", err)
	}

	log.Info("gphotosync starting",
		zap.String("version", versionInfo.Version),
		zap.String("root", cfg.RootFolder))

	// Elapsed time is reported on every exit past this point, failed
	// and contended runs included; only usage errors skip it.
	defer func() {
		log.Info("done", zap.Duration("elapsed", time.Since(started).Round(time.Millisecond)))
	}()

	lock, err := lockfile.Acquire(cfg.LockPath())
	if errors.Is(err, lockfile.ErrLocked) {
		// Another invocation owns this index. Not an error: cron
		// overlap is expected, the other run is doing the work.
		log.Warn("EXITING: database is locked", zap.Error(err))
		return nil
	}
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "acquire lock", err)
	}
	defer func() { _ = lock.Release() }()

	recorder := diagnostics.NewRecorder(cfg.TracePath(), log)
	recorder.Install()

	if err := executeSync(cmd.Context(), cfg, log); err != nil {
		recorder.CaptureFailure(err)
		if cfg.StrictExit {
			return exitError(foundry.ExitExternalServiceUnavailable, "sync failed", err)
		}
		return nil
	}

	return nil
}

// executeSync opens the store, authenticates, and drives the pipeline.
// Panics from any layer surface as errors so the recorder can trace
// them instead of crashing with a bare stack dump.
func executeSync(ctx context.Context, cfg *config.RunConfig, log *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	store, err := localindex.Open(ctx, localindex.Config{
		Path:  cfg.DatabaseFile(),
		Reset: cfg.FlushIndex,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if cfg.SkipIndex {
		prev, err := store.LatestCompletedRun(ctx)
		if err != nil {
			return err
		}
		if prev == nil {
			return fmt.Errorf("skip-index: no persisted index in %s, run once without --skip-index first", cfg.DatabaseFile())
		}
		log.Debug("resuming from persisted index",
			zap.String("run_id", prev.RunID),
			zap.Time("started_at", prev.StartedAt))
	}

	authorizer, err := auth.NewAuthorizer(auth.Options{
		SecretFile:      cfg.SecretFile,
		CredentialsFile: cfg.CredentialsFile,
		NewToken:        cfg.NewToken,
		NoBrowser:       cfg.NoBrowser,
	})
	if err != nil {
		return err
	}
	httpClient, err := authorizer.Client(ctx)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	client := gphotos.NewClient(httpClient)

	run, err := store.CreateSyncRun(ctx)
	if err != nil {
		return err
	}
	log.Debug("sync run created", zap.String("run_id", run.RunID))

	// Soft-delete marking is only sound when this run indexed the
	// whole library; a filtered or skipped index does not see
	// out-of-scope items and must not mistake them for deletions.
	fullScan := !cfg.SkipIndex && !cfg.SkipFiles && !cfg.SkipVideo &&
		cfg.Album == "" && cfg.StartDate.IsZero() && cfg.EndDate.IsZero()

	photos := gsync.NewPhotosEngine(gsync.PhotosConfig{
		Client:      client,
		Store:       store,
		RootFolder:  cfg.RootFolder,
		RunID:       run.RunID,
		StartDate:   cfg.StartDate,
		EndDate:     cfg.EndDate,
		SkipVideo:   cfg.SkipVideo,
		AlbumTitle:  cfg.Album,
		Excludes:    cfg.Excludes,
		MarkNotSeen: fullScan,
		Log:         log,
	})
	albums := gsync.NewAlbumsEngine(gsync.AlbumsConfig{
		Client:      client,
		Store:       store,
		RootFolder:  cfg.RootFolder,
		RunID:       run.RunID,
		AlbumFilter: cfg.Album,
		Log:         log,
	})

	orchestrator := pipeline.New(photos, albums, store, log)
	err = orchestrator.Run(ctx, pipeline.Flags{
		SkipIndex: cfg.SkipIndex,
		IndexOnly: cfg.IndexOnly,
		SkipFiles: cfg.SkipFiles,
		DoDelete:  cfg.DoDelete,
	})

	if updateErr := store.UpdateSyncRunStatus(ctx, run.RunID, runStatus(err, cfg)); updateErr != nil {
		log.Warn("record run status", zap.Error(updateErr))
	}

	return err
}

// runStatus classifies a finished run. Gated runs that deliberately
// skipped the download or materialize stages persisted an index but
// did not fully sync, so they close as partial rather than success.
func runStatus(err error, cfg *config.RunConfig) localindex.RunStatus {
	switch {
	case err != nil:
		return localindex.RunStatusFailed
	case cfg.IndexOnly || cfg.SkipFiles:
		return localindex.RunStatusPartial
	default:
		return localindex.RunStatusSuccess
	}
}
