package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSessionsInMissingRoot(t *testing.T) {
	got, err := ListSessionsIn(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListSessionsIn(t *testing.T) {
	root := t.TempDir()

	older, err := Create(filepath.Join(root, "older"))
	require.NoError(t, err)
	require.NoError(t, WriteState(older.CampaignStatePath(), Record{"state": "COMPLETE", "outcome": "success"}))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older.CampaignStatePath(), past, past))

	newer, err := Create(filepath.Join(root, "newer"))
	require.NoError(t, err)
	require.NoError(t, WriteState(newer.CampaignStatePath(), Record{"state": "HEAL", "heal_cycle": "2", "research_round": "3"}))

	// Stray files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0644))

	got, err := ListSessionsIn(root)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "newer", got[0].ID)
	assert.Equal(t, "HEAL", got[0].State)
	assert.Equal(t, 2, got[0].HealCycle)
	assert.Equal(t, 3, got[0].Round)
	assert.Equal(t, "older", got[1].ID)
	assert.Equal(t, "success", got[1].Outcome)
	assert.False(t, got[1].IsLocked)
}
