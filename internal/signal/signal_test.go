package signal

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/session"
)

func newSession(t *testing.T) string {
	t.Helper()
	t.Setenv(session.EnvTraceID, "")
	s, err := session.Create(t.TempDir())
	require.NoError(t, err)
	return s.Dir
}

func TestWriteAndRead(t *testing.T) {
	dir := newSession(t)
	artifact := filepath.Join(dir, "research", "security.md")
	require.NoError(t, os.WriteFile(artifact, []byte("findings"), 0644))

	path, err := Write(dir, Params{
		Layer:    "research",
		Name:     "security",
		Status:   StatusSuccess,
		Artifact: artifact,
		Size:     -1,
		TraceID:  "t-1",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".signals", "research-security.done"), path)

	sig, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "research-security", sig.Name)
	assert.Equal(t, artifact, sig.Artifact)
	assert.Equal(t, int64(8), sig.Size)
	assert.Equal(t, StatusSuccess, sig.Status)
	assert.Equal(t, "t-1", sig.TraceID)
	assert.False(t, sig.CreatedAt.IsZero())
	assert.False(t, sig.Failed())
}

func TestWriteFailure(t *testing.T) {
	dir := newSession(t)
	path, err := Write(dir, Params{Layer: "stage", Name: "review", Status: StatusFail, Error: "exit 1:\nboom"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "stage-review.fail"))

	sig, err := Read(path)
	require.NoError(t, err)
	assert.True(t, sig.Failed())
	assert.Equal(t, "", sig.Artifact)
	assert.Equal(t, "exit 1: boom", sig.Error)
}

func TestWriteNeverReplaces(t *testing.T) {
	dir := newSession(t)
	_, err := Write(dir, Params{Layer: "phase", Name: "a", Status: StatusFail})
	require.NoError(t, err)

	_, err = Write(dir, Params{Layer: "phase", Name: "a", Status: StatusSuccess})
	assert.ErrorIs(t, err, errors.ErrSignalExists)
}

// Writers racing on one name: exactly one commits, under exactly one suffix.
func TestWriteConcurrentSameName(t *testing.T) {
	statuses := []Status{StatusSuccess, StatusFail, StatusSuccess, StatusFail}
	for iter := 0; iter < 20; iter++ {
		dir := newSession(t)
		sigDir := filepath.Join(dir, session.DirSignals)

		var (
			wg      sync.WaitGroup
			won     atomic.Int32
			existed atomic.Int32
		)
		for _, st := range statuses {
			wg.Add(1)
			go func(st Status) {
				defer wg.Done()
				_, err := Write(dir, Params{Layer: "l", Name: "x", Status: st})
				switch {
				case err == nil:
					won.Add(1)
				case errors.Is(err, errors.ErrSignalExists):
					existed.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(st)
		}
		wg.Wait()

		assert.Equal(t, int32(1), won.Load())
		assert.Equal(t, int32(len(statuses)-1), existed.Load())

		var found []string
		for _, ext := range []string{ExtDone, ExtFail} {
			if _, err := os.Stat(filepath.Join(sigDir, "l-x"+ext)); err == nil {
				found = append(found, ext)
			}
		}
		assert.Len(t, found, 1, "signal l-x committed under %v", found)
	}
}

func TestWriteValidation(t *testing.T) {
	dir := newSession(t)
	_, err := Write(dir, Params{Layer: "x", Status: StatusSuccess})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	_, err = Write(dir, Params{Layer: "x", Name: "y", Status: "maybe"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestReadMalformed(t *testing.T) {
	dir := t.TempDir()

	badFail := filepath.Join(dir, "worker-a.fail")
	require.NoError(t, os.WriteFile(badFail, []byte("this is not a signal"), 0644))
	sig, err := Read(badFail)
	require.NoError(t, err)
	assert.True(t, sig.Failed())
	assert.Contains(t, sig.Error, "unparseable")

	badDone := filepath.Join(dir, "worker-b.done")
	require.NoError(t, os.WriteFile(badDone, []byte("path: /x\nstatus: success\n"), 0644))
	_, err = Read(badDone)
	assert.ErrorIs(t, err, errors.ErrSignalMalformed)
}

// A reader racing the writer must either miss the file or see all of it.
func TestWriteIsAtomic(t *testing.T) {
	dir := newSession(t)
	sigDir := filepath.Join(dir, session.DirSignals)

	var (
		wg      sync.WaitGroup
		stop    atomic.Bool
		partial atomic.Int32
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			entries, _ := os.ReadDir(sigDir)
			for _, e := range entries {
				if !isSignalFile(e.Name()) {
					continue
				}
				data, err := os.ReadFile(filepath.Join(sigDir, e.Name()))
				if err != nil {
					continue
				}
				if _, err := Parse(e.Name(), data); err != nil {
					partial.Add(1)
				}
			}
		}
	}()

	for i := 0; i < 200; i++ {
		_, err := Write(dir, Params{
			Layer:    "w",
			Name:     "n" + strings.Repeat("x", i%7) + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			Status:   StatusSuccess,
			Artifact: "/tmp/artifact",
			Size:     int64(i),
		})
		require.NoError(t, err)
	}
	stop.Store(true)
	wg.Wait()
	assert.Zero(t, partial.Load())
}

func TestChain(t *testing.T) {
	dir := newSession(t)
	v1, err := Write(dir, Params{Layer: "plan", Name: "v1", Status: StatusSuccess, Artifact: "/p/plan-v1.md", Version: 1})
	require.NoError(t, err)
	v2, err := Write(dir, Params{Layer: "plan", Name: "v2", Status: StatusSuccess, Artifact: "/p/plan-v2.md", Version: 2, Previous: v1})
	require.NoError(t, err)

	chain, err := Chain(v2)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "/p/plan-v2.md", chain[0].Artifact)
	assert.Equal(t, 2, chain[0].Version)
	assert.Equal(t, "/p/plan-v1.md", chain[1].Artifact)

	latest, err := NewStore(dir, nil).Latest("plan-")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Version)
}
