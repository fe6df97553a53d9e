package generator

// Config drives the demo data generator.
type Config struct {
	NumUsers   int
	NumGroups  int
	MinDeposit float64
	MaxDeposit float64
	Seed       int64
}

// DefaultConfig returns a dataset small enough for local development but
// large enough to exercise rotations.
func DefaultConfig() Config {
	return Config{
		NumUsers:   24,
		NumGroups:  5,
		MinDeposit: 100,
		MaxDeposit: 1000,
		Seed:       42,
	}
}
