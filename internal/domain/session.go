package domain

import "time"

// SessionStatusQueued is the only status this service assigns; later states belong to the
// execution backend.
const SessionStatusQueued = "queued"

// BuildSession describes one dispatched build.
type BuildSession struct {
	ID            string
	RepositoryURL string
	Status        string
	ArtifactURL   string
	Executor      string
	CreatedAt     time.Time
}
