// Package checkpoint writes point-in-time snapshots of coordinator progress.
//
// Checkpoints exist for people and for resume tooling to inspect. Nothing
// in the engine replays them; resume re-derives state from the campaign
// state file and signals. Each snapshot is a new timestamp-named JSON file
// and existing files are never overwritten.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/conductor/internal/util"
)

// Checkpoint is one snapshot.
type Checkpoint struct {
	StateName       string    `json:"state_name"`
	CompletedPhases []string  `json:"completed_phases"`
	PendingPhases   []string  `json:"pending_phases"`
	FailedPhases    []string  `json:"failed_phases,omitempty"`
	DepthUsed       int       `json:"depth_used"`
	DepthMax        int       `json:"depth_max"`
	TraceID         string    `json:"trace_id,omitempty"`
	HealCycle       int       `json:"heal_cycle,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

const timeLayout = "20060102T150405.000000000Z"

// Write stores cp in dir under a new timestamp-named file and returns its
// path. CreatedAt is set when zero.
func Write(dir string, cp Checkpoint) (string, error) {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.CompletedPhases == nil {
		cp.CompletedPhases = []string{}
	}
	if cp.PendingPhases == nil {
		cp.PendingPhases = []string{}
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	base := cp.CreatedAt.UTC().Format(timeLayout) + "-" + util.Slug(cp.StateName)
	for n := 0; n < 100; n++ {
		name := base + ".json"
		if n > 0 {
			name = fmt.Sprintf("%s-%d.json", base, n)
		}
		path := filepath.Join(dir, name)
		err := util.WriteFileExclusive(path, data, 0644)
		if err == nil {
			return path, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("write checkpoint: %w", err)
		}
	}
	return "", fmt.Errorf("write checkpoint: too many checkpoints named %s", base)
}

// List returns checkpoint paths in dir, oldest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Read loads one checkpoint.
func Read(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// Latest returns the newest checkpoint in dir, or nil when there is none.
func Latest(dir string) (*Checkpoint, string, error) {
	paths, err := List(dir)
	if err != nil || len(paths) == 0 {
		return nil, "", err
	}
	path := paths[len(paths)-1]
	cp, err := Read(path)
	return cp, path, err
}
