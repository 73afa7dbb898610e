package repocache

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logger.Logger { return logger.New(discard{}, logger.LevelError, "TEST", nil) }

func runIn(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.CommandContext(context.Background(), "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return string(out)
}

// newSourceRepo creates a non-bare repo with one commit and returns its
// working directory and that commit's SHA.
func newSourceRepo(t *testing.T) (dir, sha string) {
	t.Helper()
	dir = t.TempDir()
	runIn(t, dir, "init", "-q", "-b", "main")
	runIn(t, dir, "config", "user.email", "test@example.com")
	runIn(t, dir, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	runIn(t, dir, "add", ".")
	runIn(t, dir, "commit", "-q", "-m", "initial")
	return dir, strings.TrimSpace(runIn(t, dir, "rev-parse", "HEAD"))
}

func TestRepoCache_Checkout_ClonesAndChecksOutCommit(t *testing.T) {
	source, sha := newSourceRepo(t)
	cache := New(t.TempDir(), testLogger())

	checkout, err := cache.Checkout(context.Background(), "acme/widgets", source, sha, "")
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(checkout.Path, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(contents))

	require.NoError(t, checkout.Remove(context.Background()))
	_, err = os.Stat(checkout.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestRepoCache_Checkout_ReusesBareCloneOnSecondCommit(t *testing.T) {
	source, sha := newSourceRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(source, "second.txt"), []byte("two"), 0o644))
	runIn(t, source, "add", ".")
	runIn(t, source, "commit", "-q", "-m", "second")
	secondSHA := strings.TrimSpace(runIn(t, source, "rev-parse", "HEAD"))

	cache := New(t.TempDir(), testLogger())

	first, err := cache.Checkout(context.Background(), "acme/widgets", source, sha, "")
	require.NoError(t, err)
	require.NoError(t, first.Remove(context.Background()))

	second, err := cache.Checkout(context.Background(), "acme/widgets", source, secondSHA, "")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(second.Path, "second.txt"))
	require.NoError(t, err)
	require.NoError(t, second.Remove(context.Background()))
}

func TestRepoCache_Checkout_MissingCommitWithoutFork(t *testing.T) {
	source, _ := newSourceRepo(t)
	cache := New(t.TempDir(), testLogger())

	_, err := cache.Checkout(context.Background(), "acme/widgets", source, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", "")
	assert.ErrorIs(t, err, ErrCommitMissing)
}

func TestRepoCache_Checkout_FallsBackToFork(t *testing.T) {
	source, _ := newSourceRepo(t)

	forkDir := t.TempDir()
	runIn(t, forkDir, "clone", "-q", source, ".")
	require.NoError(t, os.WriteFile(filepath.Join(forkDir, "fork-only.txt"), []byte("fork"), 0o644))
	runIn(t, forkDir, "add", ".")
	runIn(t, forkDir, "commit", "-q", "-m", "fork commit")
	forkSHA := strings.TrimSpace(runIn(t, forkDir, "rev-parse", "HEAD"))

	cache := New(t.TempDir(), testLogger())
	checkout, err := cache.Checkout(context.Background(), "acme/widgets", source, forkSHA, forkDir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(checkout.Path, "fork-only.txt"))
	require.NoError(t, err)
}
