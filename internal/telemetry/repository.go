package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/undervoltd/internal/errors"
	"codeberg.org/mutker/undervoltd/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

type Repository interface {
	Store(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	logger.Debug().Msgf("Initializing telemetry repository at: %s", cfg.DBPath)

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &sqliteRepository{
		db: db,
	}, nil
}

func (r *sqliteRepository) Store(ctx context.Context, snapshot *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	load, err := json.Marshal(snapshot.Load)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	applied, err := json.Marshal(snapshot.Applied)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	var fanTemp, fanDuty, fanRPM any
	if snapshot.Fan != nil {
		fanTemp = snapshot.Fan.TempC
		fanDuty = snapshot.Fan.DutyPercent
		fanRPM = snapshot.Fan.RPM
	}

	_, err = r.db.ExecContext(ctx, `
        INSERT INTO undervolt_telemetry (
            timestamp, load, applied, strategy,
            fan_temp_c, fan_duty, fan_rpm
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(timestamp) DO UPDATE SET
            load = excluded.load,
            applied = excluded.applied,
            strategy = excluded.strategy,
            fan_temp_c = excluded.fan_temp_c,
            fan_duty = excluded.fan_duty,
            fan_rpm = excluded.fan_rpm
    `,
		snapshot.Timestamp.Unix(),
		string(load),
		string(applied),
		snapshot.Strategy,
		fanTemp,
		fanDuty,
		fanRPM,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}
