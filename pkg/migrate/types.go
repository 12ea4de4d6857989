package migrate

import "time"

// Applied describes one migration that ran in a single direction.
type Applied struct {
	Version   int64
	Path      string
	Direction string
	Duration  time.Duration
}

type Status struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}
