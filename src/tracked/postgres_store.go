package tracked

import (
	"database/sql"
	"time"

	"price-relay/src/helpers"
	"price-relay/src/logger"
	"price-relay/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------
// PostgresTrackedStore reads the tracked-symbol list from a shared Postgres
// database so multiple relay instances see the same server-managed set.
// -----------------------------------------------------------------------------

type PostgresTrackedStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresTrackedStore(cfg *models.MConfig, log *logger.Logger) (*PostgresTrackedStore, error) {
	return &PostgresTrackedStore{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresTrackedStore) Initialize() error {
	db, err := sql.Open("postgres", d.Config.Tracked.DBConnectionString)
	if err != nil {
		return err
	}

	// The database may come up after the relay does.
	if err := helpers.RetryWithBackoff(d.Logger, "postgres ping", 5, time.Second, db.Ping); err != nil {
		return helpers.NewDatabaseError("failed to connect to postgres", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	d.DB = db

	query := `
		CREATE TABLE IF NOT EXISTS tracked_symbols (
			symbol TEXT PRIMARY KEY,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`
	if _, err := db.Exec(query); err != nil {
		return helpers.NewDatabaseError("failed to create tracked_symbols", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresTrackedStore) LoadSymbols() ([]string, error) {
	rows, err := d.DB.Query("SELECT symbol FROM tracked_symbols WHERE active = TRUE ORDER BY symbol")
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

func (d *PostgresTrackedStore) UpsertSymbol(symbol string) error {
	_, err := d.DB.Exec(
		"INSERT INTO tracked_symbols (symbol, active) VALUES ($1, TRUE) ON CONFLICT (symbol) DO UPDATE SET active = TRUE",
		symbol)
	return err
}

// -----------------------------------------------------------------------------

func (d *PostgresTrackedStore) DeactivateSymbol(symbol string) error {
	_, err := d.DB.Exec("UPDATE tracked_symbols SET active = FALSE WHERE symbol = $1", symbol)
	return err
}

// -----------------------------------------------------------------------------

func (d *PostgresTrackedStore) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
