// Package executor submits build jobs to a remote execution backend. Submission returns
// once the backend accepted the job; completion is only observable on the job's log channel.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Environment keys every build job receives.
const (
	EnvRepositoryURL = "GIT_REPOSITORY_URL"
	EnvProjectID     = "PROJECT_ID"
)

// ErrRejected is returned when a backend answered but refused to start the job.
var ErrRejected = errors.New("executor: job rejected")

// JobRequest describes one build to start.
type JobRequest struct {
	BuildID       string
	RepositoryURL string
	Env           map[string]string
}

// Executor starts build jobs.
type Executor interface {
	Submit(ctx context.Context, req JobRequest) error
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, req JobRequest) error

// Submit calls f.
func (f Func) Submit(ctx context.Context, req JobRequest) error { return f(ctx, req) }

// NewJobRequest builds a request whose environment holds extra plus the repository URL
// and build ID. The two reserved keys always win over extra.
func NewJobRequest(buildID, repositoryURL string, extra map[string]string) JobRequest {
	env := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		env[k] = v
	}
	env[EnvRepositoryURL] = repositoryURL
	env[EnvProjectID] = buildID
	return JobRequest{BuildID: buildID, RepositoryURL: repositoryURL, Env: env}
}

// Validate checks the fields every backend relies on.
func (r JobRequest) Validate() error {
	if strings.TrimSpace(r.BuildID) == "" {
		return fmt.Errorf("%w: build id required", ErrRejected)
	}
	if strings.TrimSpace(r.RepositoryURL) == "" {
		return fmt.Errorf("%w: repository url required", ErrRejected)
	}
	return nil
}

// EnvPairs returns the environment as sorted KEY=VALUE strings.
func (r JobRequest) EnvPairs() []string {
	keys := r.envKeys()
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+r.Env[k])
	}
	return pairs
}

// EachEnv calls fn for every environment entry in key order.
func (r JobRequest) EachEnv(fn func(key, value string)) {
	for _, k := range r.envKeys() {
		fn(k, r.Env[k])
	}
}

func (r JobRequest) envKeys() []string {
	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseEnv turns KEY=VALUE entries into a map, skipping malformed ones.
func ParseEnv(entries []string) map[string]string {
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}
