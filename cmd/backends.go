package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/database/mariadb"
	"github.com/kozaktomas/attendance-kiosk/internal/database/postgres"
	"github.com/kozaktomas/attendance-kiosk/internal/database/sqlite"
	"github.com/kozaktomas/attendance-kiosk/internal/ledger"
)

// backends holds the optional database connections shared by the commands.
type backends struct {
	sqlite   *sql.DB
	postgres *postgres.Pool
	mariadb  *mariadb.Pool
}

// openBackends connects to every configured database. Nothing configured is
// not an error: the CSV export and the local face file are always available.
func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	if cfg.Storage.SQLitePath != "" {
		db, err := sqlite.InitDB(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		b.sqlite = db
	}
	if cfg.Database.URL != "" {
		pool, err := postgres.Open(ctx, &cfg.Database, logger)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.postgres = pool
	}
	if cfg.MariaDB.DSN != "" {
		pool, err := mariadb.NewPool(ctx, cfg.MariaDB.DSN)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open mariadb: %w", err)
		}
		b.mariadb = pool
	}
	return b, nil
}

func (b *backends) Close() error {
	var errs []error
	if b.sqlite != nil {
		errs = append(errs, sqlite.CloseDB(b.sqlite))
	}
	if b.postgres != nil {
		errs = append(errs, b.postgres.Close())
	}
	if b.mariadb != nil {
		errs = append(errs, b.mariadb.Close())
	}
	return errors.Join(errs...)
}

// ledgerStore fans ledger snapshots out to every backend. Events are reloaded
// from all of them, with SQLite first so its exact commit times win over the
// minute-precision CSV export.
func (b *backends) ledgerStore(cfg *config.Config) (ledger.MultiStore, error) {
	var stores ledger.MultiStore
	if b.sqlite != nil {
		stores = append(stores, sqlite.NewAttendanceRepository(b.sqlite))
	}
	csvStore, err := ledger.NewCSVStore(cfg.Storage.LedgerDir)
	if err != nil {
		return nil, err
	}
	stores = append(stores, csvStore)
	if b.postgres != nil {
		stores = append(stores, postgres.NewAttendanceRepository(b.postgres))
	}
	if b.mariadb != nil {
		stores = append(stores, mariadb.NewAttendanceStore(b.mariadb))
	}
	return stores, nil
}

// faceStores returns PostgreSQL first when configured, then the local file
// next to the enrollment index.
func (b *backends) faceStores(cfg *config.Config) []database.EnrolledFaceWriter {
	var stores []database.EnrolledFaceWriter
	if b.postgres != nil {
		stores = append(stores, postgres.NewEnrolledFaceRepository(b.postgres))
	}
	return append(stores, database.NewFileFaceStore(cfg.Roster.EnrollmentPath))
}

// loadFaceIndex opens the saved enrollment index, rebuilding it from the face
// store when the index files are missing or stale.
func (b *backends) loadFaceIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.FaceIndex, error) {
	index := database.NewFaceIndex()
	err := index.LoadWithFaceMetadata(cfg.Roster.EnrollmentPath)
	if err == nil {
		logger.Info("loaded face index", "path", cfg.Roster.EnrollmentPath, "faces", index.Count(), "identities", index.Identities())
		return index, nil
	}
	logger.Warn("face index unavailable, rebuilding from enrolled faces", "path", cfg.Roster.EnrollmentPath, "error", err)

	faces, err := b.faceStores(cfg)[0].All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load enrolled faces: %w", err)
	}
	if err := index.BuildFromFaces(faces); err != nil {
		return nil, fmt.Errorf("build face index: %w", err)
	}
	if index.Count() == 0 {
		logger.Warn("no enrolled faces, run `attendance-kiosk roster enroll` first")
	}
	return index, nil
}

// loadLedger builds the ledger for the configured session and reloads persisted events.
func (b *backends) loadLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ledger.Ledger, error) {
	store, err := b.ledgerStore(cfg)
	if err != nil {
		return nil, err
	}
	l := ledger.New(store, cfg.Kiosk.SessionLabel, ledger.WithLogger(logger))
	n, err := l.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	logger.Info("loaded ledger", "events", n)
	return l, nil
}
