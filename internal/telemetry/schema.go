package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/undervoltd/internal/errors"
)

// initSchema initializes the database schema for telemetry data
func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS undervolt_telemetry (
            timestamp INTEGER PRIMARY KEY,
            load TEXT,
            applied TEXT,
            strategy TEXT,
            fan_temp_c INTEGER,
            fan_duty INTEGER,
            fan_rpm INTEGER
        )
    `)
	if err != nil {
		errFactory := errors.New()
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	return nil
}
