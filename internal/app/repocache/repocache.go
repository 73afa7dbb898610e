// Package repocache implements RepoCache: a content-addressed bare-clone
// cache with per-commit worktree checkout. Each process owns its own cache
// directory, so an in-process sync.Mutex per repo slug is sufficient
// cross-goroutine exclusion for repository mutation.
package repocache

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
)

// ErrCommitMissing is returned when a commit can't be resolved even after
// the fork-fallback fetch attempt.
var ErrCommitMissing = fmt.Errorf("commit not found in repository or fallback fork")

// Checkout is a worktree checked out for one (repo, commit) pair. Callers
// must call Remove when the scan using it has finished.
type Checkout struct {
	Path string

	cache    *RepoCache
	repoSlug string
}

// Remove tears down the worktree, freeing the disk space and the worktree
// slot in the bare clone's metadata.
func (c *Checkout) Remove(ctx context.Context) error {
	bare := c.cache.bareCloneDir(c.repoSlug)
	if err := runGit(ctx, bare, "worktree", "remove", "--force", c.Path); err != nil {
		return fmt.Errorf("removing worktree %s: %w", c.Path, err)
	}
	return nil
}

// RepoCache maintains one bare clone per repo slug under baseDir, checking
// out commits into short-lived worktrees.
type RepoCache struct {
	baseDir string
	logger  *logger.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
}

// New builds a RepoCache rooted at baseDir.
func New(baseDir string, log *logger.Logger) *RepoCache {
	return &RepoCache{baseDir: baseDir, logger: log, locks: make(map[string]*sync.Mutex)}
}

func (c *RepoCache) bareCloneDir(slug string) string {
	return filepath.Join(c.baseDir, strings.ReplaceAll(slug, "/", "__")+".git")
}

func (c *RepoCache) lockFor(slug string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[slug]
	if !ok {
		l = &sync.Mutex{}
		c.locks[slug] = l
	}
	return l
}

// Checkout ensures repoURL's bare clone exists and is up to date, then adds
// a detached worktree at commitSHA. If commitSHA can't be resolved and
// forkURL is non-empty, it retries once against forkURL before returning
// ErrCommitMissing, handling commits authored against a contributor's fork
// rather than upstream.
func (c *RepoCache) Checkout(ctx context.Context, repoSlug, repoURL, commitSHA, forkURL string) (*Checkout, error) {
	lock := c.lockFor(repoSlug)
	lock.Lock()
	defer lock.Unlock()

	bare := c.bareCloneDir(repoSlug)
	if err := c.ensureBareClone(ctx, bare, repoURL); err != nil {
		return nil, err
	}

	if err := c.ensureCommit(ctx, bare, commitSHA); err != nil {
		if forkURL == "" {
			return nil, fmt.Errorf("resolving commit %s in %s: %w", commitSHA, repoSlug, ErrCommitMissing)
		}
		if fetchErr := runGit(ctx, bare, "fetch", forkURL, "+refs/heads/*:refs/remotes/fork/*"); fetchErr != nil {
			return nil, fmt.Errorf("fetching fork fallback %s: %w", forkURL, ErrCommitMissing)
		}
		if err := c.ensureCommit(ctx, bare, commitSHA); err != nil {
			return nil, fmt.Errorf("resolving commit %s in fork fallback: %w", commitSHA, ErrCommitMissing)
		}
	}

	worktreePath := filepath.Join(c.baseDir, "worktrees", strings.ReplaceAll(repoSlug, "/", "__"), commitSHA)
	if err := runGit(ctx, bare, "worktree", "add", "--detach", "--force", worktreePath, commitSHA); err != nil {
		return nil, fmt.Errorf("adding worktree for %s@%s: %w", repoSlug, commitSHA, err)
	}

	return &Checkout{Path: worktreePath, cache: c, repoSlug: repoSlug}, nil
}

func (c *RepoCache) ensureBareClone(ctx context.Context, bare, repoURL string) error {
	if err := runGit(ctx, bare, "rev-parse", "--git-dir"); err == nil {
		return runGit(ctx, bare, "fetch", "--all", "--prune")
	}
	if err := runGit(ctx, "", "clone", "--bare", repoURL, bare); err != nil {
		return fmt.Errorf("bare cloning %s: %w", repoURL, err)
	}
	return nil
}

func (c *RepoCache) ensureCommit(ctx context.Context, bare, commitSHA string) error {
	return runGit(ctx, bare, "cat-file", "-e", commitSHA+"^{commit}")
}

func runGit(ctx context.Context, dir string, args ...string) error {
	full := args
	if dir != "" {
		full = append([]string{"--git-dir", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
