package interfaces

// -----------------------------------------------------------------------------
// ITrackedStore defines the contract for reading the tracked-symbol list
// that seeds the relay's server-managed set.
// -----------------------------------------------------------------------------

type ITrackedStore interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the schema if it does not exist yet.
	Initialize() error

	// -----------------------------------------------------------------------------

	// LoadSymbols returns every active tracked identifier.
	LoadSymbols() ([]string, error)

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
