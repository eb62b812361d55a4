package session

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStateMissing(t *testing.T) {
	rec, err := ReadState(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, rec)
}

func TestWriteAndReadState(t *testing.T) {
	path := filepath.Join(t.TempDir(), CampaignStateFile)
	require.NoError(t, WriteState(path, Record{"state": "EXECUTE", "heal_cycle": "1"}, "state"))

	rec, err := ReadState(path)
	require.NoError(t, err)
	assert.Equal(t, "EXECUTE", rec.Get("state"))
	assert.Equal(t, "1", rec.Get("heal_cycle"))
}

func TestUpdateStateSerializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), SessionStateFile)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := UpdateState(ctx, path, func(r Record) {
				n, _ := strconv.Atoi(r.Get("count"))
				r["count"] = strconv.Itoa(n + 1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := ReadState(path)
	require.NoError(t, err)
	assert.Equal(t, "10", rec.Get("count"))
}
