// Package session manages the on-disk workspace shared by every layer of a
// workflow: its directory layout, trace id, key/value state files and the
// process lock held by a running campaign.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/util"
)

// Directory and file names inside a session.
const (
	DirResearch    = "research"
	DirPhases      = "phases"
	DirRefinements = "refinements"
	DirResolutions = "resolutions"
	DirCheckpoints = "checkpoints"
	DirReports     = "reports"
	DirSignals     = ".signals"
	DirCircuits    = ".circuits"

	TraceFile         = ".trace"
	CampaignStateFile = ".campaign-state"
	SessionStateFile  = ".session-state"
)

// EnvTraceID carries the trace id to every descendant process.
const EnvTraceID = "CONDUCTOR_TRACE_ID"

var layout = []string{
	DirResearch,
	DirPhases,
	DirRefinements,
	DirResolutions,
	DirCheckpoints,
	DirReports,
	DirSignals,
	DirCircuits,
}

// BookkeepingDirs lists directories that never contain worker signals.
func BookkeepingDirs() []string {
	return []string{DirCircuits, DirCheckpoints, ".git"}
}

// Session is an opened session directory.
type Session struct {
	Dir     string
	TraceID string
}

// Create builds the session layout under dir. It is idempotent: an existing
// trace id is kept, otherwise one is taken from the environment or
// generated.
func Create(dir string) (*Session, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve session dir: %w", err)
	}
	for _, sub := range layout {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}

	s := &Session{Dir: abs}
	tracePath := s.Path(TraceFile)
	if id, err := readTrace(tracePath); err == nil && id != "" {
		s.TraceID = id
		return s, nil
	}

	s.TraceID = os.Getenv(EnvTraceID)
	if s.TraceID == "" {
		s.TraceID = NewTraceID()
	}
	if err := util.WriteFileAtomic(tracePath, []byte(s.TraceID+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("write trace: %w", err)
	}
	return s, nil
}

// Open loads an existing session without creating anything.
func Open(dir string) (*Session, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve session dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", errors.ErrSessionNotFound, dir)
	}
	s := &Session{Dir: abs}
	if id, err := readTrace(s.Path(TraceFile)); err == nil {
		s.TraceID = id
	}
	return s, nil
}

// NewTraceID returns a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}

func readTrace(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Path joins elements onto the session directory.
func (s *Session) Path(elem ...string) string {
	return filepath.Join(append([]string{s.Dir}, elem...)...)
}

func (s *Session) SignalsDir() string     { return s.Path(DirSignals) }
func (s *Session) CircuitsDir() string    { return s.Path(DirCircuits) }
func (s *Session) CheckpointsDir() string { return s.Path(DirCheckpoints) }
func (s *Session) ReportsDir() string     { return s.Path(DirReports) }
func (s *Session) ResolutionsDir() string { return s.Path(DirResolutions) }

// ResearchRoundDir returns research/round-N.
func (s *Session) ResearchRoundDir(round int) string {
	return s.Path(DirResearch, fmt.Sprintf("round-%d", round))
}

// PhaseDir returns the working directory for a phase.
func (s *Session) PhaseDir(name string) string {
	return s.Path(DirPhases, util.Slug(name))
}

// RefinementPath returns a file path under refinements/.
func (s *Session) RefinementPath(name string) string {
	return s.Path(DirRefinements, name)
}

// CampaignStatePath returns the path of the campaign FSM state file.
func (s *Session) CampaignStatePath() string {
	return s.Path(CampaignStateFile)
}
