package tracked

import (
	"database/sql"

	"price-relay/src/helpers"
	"price-relay/src/logger"
	"price-relay/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------
// SQLiteTrackedStore reads the tracked-symbol list from a local SQLite file.
// Used for single-host deployments and tests.
// -----------------------------------------------------------------------------

type SQLiteTrackedStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteTrackedStore(cfg *models.MConfig, log *logger.Logger) (*SQLiteTrackedStore, error) {
	return &SQLiteTrackedStore{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteTrackedStore) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.Tracked.DBPath)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}

	query := `
		CREATE TABLE IF NOT EXISTS tracked_symbols (
			symbol TEXT PRIMARY KEY,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`
	if _, err := db.Exec(query); err != nil {
		return helpers.NewDatabaseError("failed to create tracked_symbols", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteTrackedStore) LoadSymbols() ([]string, error) {
	rows, err := d.DB.Query("SELECT symbol FROM tracked_symbols WHERE active = 1 ORDER BY symbol")
	if err != nil {
		return nil, helpers.NewDatabaseError("failed to query tracked symbols", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		symbols = append(symbols, symbol)
	}

	return symbols, rows.Err()
}

// -----------------------------------------------------------------------------

// UpsertSymbol marks a symbol as tracked (operational tooling and tests).
func (d *SQLiteTrackedStore) UpsertSymbol(symbol string) error {
	_, err := d.DB.Exec(
		"INSERT INTO tracked_symbols (symbol, active) VALUES (?, 1) ON CONFLICT(symbol) DO UPDATE SET active = 1",
		symbol)
	return err
}

// -----------------------------------------------------------------------------

// DeactivateSymbol removes a symbol from the tracked set without losing it.
func (d *SQLiteTrackedStore) DeactivateSymbol(symbol string) error {
	_, err := d.DB.Exec("UPDATE tracked_symbols SET active = 0 WHERE symbol = ?", symbol)
	return err
}

// -----------------------------------------------------------------------------

func (d *SQLiteTrackedStore) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
