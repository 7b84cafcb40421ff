package builder

import (
	"context"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
)

// Clone fetches the default branch of repoURL into dest at depth 1, writing progress
// output to progress.
func Clone(ctx context.Context, repoURL, dest string, progress io.Writer) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:          repoURL,
		Depth:        1,
		SingleBranch: true,
		Progress:     progress,
	})
	if err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}
