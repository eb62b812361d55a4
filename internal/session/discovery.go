package session

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Info summarizes a session for listing.
type Info struct {
	ID          string    `json:"id"`
	Dir         string    `json:"dir"`
	TraceID     string    `json:"trace_id,omitempty"`
	State       string    `json:"state,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	HealCycle   int       `json:"heal_cycle"`
	Round       int       `json:"research_round"`
	IsLocked    bool      `json:"is_locked"`
	LockInfo    *Lock     `json:"lock_info,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// ListSessionsIn returns every session directly under root, most recently
// updated first. Unreadable sessions are skipped and a missing root yields
// no sessions.
func ListSessionsIn(root string) ([]*Info, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := Describe(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out, nil
}

// Describe summarizes the session at dir.
func Describe(dir string) (*Info, error) {
	s, err := Open(dir)
	if err != nil {
		return nil, err
	}
	info := &Info{
		ID:      filepath.Base(s.Dir),
		Dir:     s.Dir,
		TraceID: s.TraceID,
	}

	statePath := s.CampaignStatePath()
	if rec, err := ReadState(statePath); err == nil {
		info.State = rec.Get("state")
		info.Outcome = rec.Get("outcome")
		info.Round, _ = strconv.Atoi(rec.Get("research_round"))
		info.HealCycle, _ = strconv.Atoi(rec.Get("heal_cycle"))
	}
	if st, err := os.Stat(statePath); err == nil {
		info.LastUpdated = st.ModTime()
	} else if st, err := os.Stat(s.Dir); err == nil {
		info.LastUpdated = st.ModTime()
	}

	info.LockInfo, info.IsLocked = IsLocked(s.Dir)
	if !info.IsLocked {
		info.LockInfo = nil
	}
	return info, nil
}
