package manifest

import (
	"bytes"
	"testing"

	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinishCountsPartialAsPassed(t *testing.T) {
	m := New(KindPhases)
	m.Add(Entry{Name: "a"}, exitcode.Success)
	m.Add(Entry{Name: "b"}, exitcode.PartialSuccess)
	m.Add(Entry{Name: "c", Status: StatusSkipped, Error: "unmet dependency"}, exitcode.Failure)
	m.Finish(exitcode.PartialSuccess)

	assert.Equal(t, 3, m.Summary.Total)
	assert.Equal(t, 2, m.Summary.Passed)
	assert.Equal(t, 1, m.Summary.Failed)
	assert.Equal(t, exitcode.StatusPartialSuccess, m.Summary.ExitCode)
	assert.Equal(t, StatusSkipped, m.Phases[2].Status)
	assert.Empty(t, m.Stages)
}

func TestWriteUsesKindArray(t *testing.T) {
	m := New(KindWorkers)
	m.Add(Entry{Name: "security", Artifact: "/tmp/security.md"}, exitcode.Success)
	m.Finish(exitcode.Success)

	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf))
	assert.Contains(t, buf.String(), `"workers"`)
	assert.NotContains(t, buf.String(), `"stages"`)

	parsed, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, KindWorkers, parsed.Kind())
	assert.Equal(t, "/tmp/security.md", parsed.Entries()[0].Artifact)
	assert.Equal(t, exitcode.Success, parsed.Summary.Code)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not json"))
	require.Error(t, err)
}

func TestEmptyManifestKeepsItsArray(t *testing.T) {
	for _, kind := range []Kind{KindStages, KindWorkers, KindPhases} {
		t.Run(string(kind), func(t *testing.T) {
			m := New(kind).Finish(exitcode.Failure)

			var buf bytes.Buffer
			require.NoError(t, m.Write(&buf))
			assert.Contains(t, buf.String(), `"`+string(kind)+`": []`)
			for _, other := range []Kind{KindStages, KindWorkers, KindPhases} {
				if other != kind {
					assert.NotContains(t, buf.String(), `"`+string(other)+`"`)
				}
			}

			parsed, err := Parse(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, kind, parsed.Kind())
			assert.Empty(t, parsed.Entries())
			assert.Equal(t, exitcode.Failure, parsed.Summary.Code)
		})
	}
}
