package gitops

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/logger"
)

// Committer pushes changed state files to durable storage after a run that
// published at least one item.
type Committer interface {
	Commit(ctx context.Context, paths []string) error
}

// Noop skips the durable-commit step; used under -dry-run.
type Noop struct{}

func (Noop) Commit(ctx context.Context, paths []string) error {
	logger.Info("dry run: skipping durable commit", "paths", strings.Join(paths, ","))
	return nil
}

// Git commits and pushes the state files with a fixed robot identity.
type Git struct {
	AuthorName  string
	AuthorEmail string
	Message     string
}

var _ Committer = (*Git)(nil)

func (g *Git) Commit(ctx context.Context, paths []string) error {
	addArgs := append([]string{"add", "--"}, paths...)
	if err := g.run(ctx, addArgs...); err != nil {
		return fmt.Errorf("git add: %w", err)
	}

	commitArgs := []string{
		"-c", "user.name=" + g.AuthorName,
		"-c", "user.email=" + g.AuthorEmail,
		"commit", "-m", g.Message,
	}
	if err := g.run(ctx, commitArgs...); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}

	if err := g.run(ctx, "push"); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

func (g *Git) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
	}
	logger.Debug("git", "args", strings.Join(args, " "))
	return nil
}
