package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// SourceProvider turns a repository source (clone URL or local path)
// into a working tree on disk. The cleanup func removes any temporary
// checkout and is always non-nil.
type SourceProvider interface {
	Fetch(ctx context.Context, source, branch string) (dir string, cleanup func(), err error)
}

// LocalProvider serves sources that are already directories on disk.
type LocalProvider struct{}

func (LocalProvider) Fetch(_ context.Context, source, _ string) (string, func(), error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", func() {}, fmt.Errorf("source %s: %w", source, err)
	}
	if !info.IsDir() {
		return "", func() {}, fmt.Errorf("source %s is not a directory", source)
	}
	return source, func() {}, nil
}

// GitProvider clones a remote repository into a temporary directory
// using the git CLI. Shallow clones keep acquisition cheap; the
// checkout is discarded after the indexing run.
type GitProvider struct{}

func (GitProvider) Fetch(ctx context.Context, source, branch string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "codesearch-clone-*")
	if err != nil {
		return "", func() {}, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	args := []string{"clone", "--depth", "1", "--single-branch"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, source, dir)

	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("git clone %s: %w: %s", source, err, strings.TrimSpace(string(out)))
	}
	return dir, cleanup, nil
}

// ProviderFor picks a provider for a source string: URLs and SSH-style
// remotes go through git, everything else is treated as a local path.
func ProviderFor(source string) SourceProvider {
	if strings.Contains(source, "://") || strings.HasPrefix(source, "git@") {
		return GitProvider{}
	}
	return LocalProvider{}
}
