package signal

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/session"
)

// Store answers queries over one session's signals.
type Store struct {
	dir    string
	logger *logging.Logger
}

// NewStore returns a Store for the session at dir. logger may be nil.
func NewStore(dir string, logger *logging.Logger) *Store {
	return &Store{dir: dir, logger: logging.OrNop(logger)}
}

// Dir returns the session directory.
func (s *Store) Dir() string {
	return s.dir
}

// Write writes a signal into this session. See Write.
func (s *Store) Write(p Params) (string, error) {
	return Write(s.dir, p)
}

// Discover returns the paths of every signal file in the session. The
// .signals directory is authoritative; the rest of the tree is also scanned
// for signals left by misconfigured workers, skipping bookkeeping
// directories, and a warning is logged when any are found.
func (s *Store) Discover() ([]string, error) {
	preferred := filepath.Join(s.dir, session.DirSignals)
	var paths []string

	entries, err := os.ReadDir(preferred)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.NewSignalError("read signals dir", err).WithPath(preferred)
	}
	for _, e := range entries {
		if !e.IsDir() && isSignalFile(e.Name()) {
			paths = append(paths, filepath.Join(preferred, e.Name()))
		}
	}

	skip := map[string]bool{session.DirSignals: true}
	for _, d := range session.BookkeepingDirs() {
		skip[d] = true
	}
	var stray []string
	walkErr := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped rather than failing discovery.
			if d != nil && d.IsDir() && path != s.dir {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != s.dir && skip[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if isSignalFile(d.Name()) {
			stray = append(stray, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, errors.NewSignalError("scan session", walkErr).WithPath(s.dir)
	}
	if len(stray) > 0 {
		s.logger.Warn("signals found outside preferred location",
			"dir", preferred,
			"count", len(stray),
			"first", stray[0],
		)
		paths = append(paths, stray...)
	}
	sort.Strings(paths)
	return paths, nil
}

// match returns discovered signal paths whose file name matches pattern.
// An empty pattern matches everything.
func (s *Store) match(pattern string) ([]string, error) {
	paths, err := s.Discover()
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return paths, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.NewSignalError("invalid pattern "+pattern, errors.ErrInvalidInput)
	}
	out := paths[:0]
	for _, p := range paths {
		if g.Match(filepath.Base(p)) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Count returns how many signal files match a glob over file names, for
// example "research-round-1-*.done". Counting never reads file contents.
func (s *Store) Count(pattern string) (int, error) {
	paths, err := s.match(pattern)
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

// Counts splits matching signals by outcome. pattern is matched against
// the name without suffix.
func (s *Store) Counts(pattern string) (done, failed int, err error) {
	if done, err = s.Count(pattern + ExtDone); err != nil {
		return 0, 0, err
	}
	if failed, err = s.Count(pattern + ExtFail); err != nil {
		return 0, 0, err
	}
	return done, failed, nil
}

// List reads every signal matching pattern. Malformed success signals are
// logged and skipped.
func (s *Store) List(pattern string) ([]*Signal, error) {
	paths, err := s.match(pattern)
	if err != nil {
		return nil, err
	}
	return s.readAll(context.Background(), paths)
}

func (s *Store) readAll(ctx context.Context, paths []string) ([]*Signal, error) {
	sigs := make([]*Signal, len(paths))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range paths {
		g.Go(func() error {
			sig, err := Read(p)
			if err != nil {
				s.logger.Warn("skipping unreadable signal", "path", p, "error", err)
				return nil
			}
			sigs[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := sigs[:0]
	for _, sig := range sigs {
		if sig != nil {
			out = append(out, sig)
		}
	}
	return out, nil
}

// Failure describes one failed signal.
type Failure struct {
	Signal string `json:"signal"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// ListFailures returns every .fail signal with its error. Malformed files
// are reported as unparseable rather than dropped.
func (s *Store) ListFailures() ([]Failure, error) {
	sigs, err := s.List("*" + ExtFail)
	if err != nil {
		return nil, err
	}
	out := make([]Failure, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, Failure{Signal: sig.Name, Path: sig.Artifact, Error: sig.Error})
	}
	return out, nil
}

// TotalSize sums the artifact sizes recorded by successful signals.
func (s *Store) TotalSize() (int64, error) {
	sigs, err := s.List("*" + ExtDone)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, sig := range sigs {
		total += sig.Size
	}
	return total, nil
}

// Latest returns the highest-version success signal whose name starts
// with prefix, or nil when none exists.
func (s *Store) Latest(prefix string) (*Signal, error) {
	sigs, err := s.List(prefix + "*" + ExtDone)
	if err != nil {
		return nil, err
	}
	var best *Signal
	for _, sig := range sigs {
		if !strings.HasPrefix(sig.Name, prefix) {
			continue
		}
		if best == nil || sig.Version > best.Version {
			best = sig
		}
	}
	return best, nil
}

// Chain walks previous links from the signal at path back to the first
// version and returns the chain newest first.
func Chain(path string) ([]*Signal, error) {
	var chain []*Signal
	seen := map[string]bool{}
	for path != "" && !seen[path] {
		seen[path] = true
		sig, err := Read(path)
		if err != nil {
			return chain, err
		}
		chain = append(chain, sig)
		path = sig.Previous
	}
	return chain, nil
}
