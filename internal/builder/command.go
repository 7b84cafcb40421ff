package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// RunCommand runs command through sh -c in dir, streaming stdout and stderr lines to emit.
func RunCommand(ctx context.Context, dir, command string, env []string, emit func(string)) error {
	if command == "" {
		return fmt.Errorf("build command cannot be empty")
	}
	out := newLineWriter(emit)
	defer out.Close()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("build command: %w", ctx.Err())
		}
		return fmt.Errorf("build command: %w", err)
	}
	return nil
}
