package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/errors"
)

func TestCreate(t *testing.T) {
	t.Setenv(EnvTraceID, "")
	dir := filepath.Join(t.TempDir(), "s1")

	s, err := Create(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, s.TraceID)

	for _, sub := range layout {
		st, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err, sub)
		assert.True(t, st.IsDir())
	}

	again, err := Create(dir)
	require.NoError(t, err)
	assert.Equal(t, s.TraceID, again.TraceID, "trace id must be stable")
}

func TestCreateInheritsTraceFromEnv(t *testing.T) {
	t.Setenv(EnvTraceID, "parent-trace")
	s, err := Create(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "parent-trace", s.TraceID)
}

func TestOpen(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	t.Setenv(EnvTraceID, "abc")
	dir := t.TempDir()
	_, err = Create(dir)
	require.NoError(t, err)

	s, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, "abc", s.TraceID)
	assert.Equal(t, filepath.Join(s.Dir, "research", "round-2"), s.ResearchRoundDir(2))
	assert.Equal(t, filepath.Join(s.Dir, "phases", "auth-module"), s.PhaseDir("Auth Module"))
}

func TestParseKV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Record
		wantErr bool
	}{
		{
			name:  "basic",
			input: "path: /tmp/a.md\nsize: 12\nstatus: success\n",
			want:  Record{"path": "/tmp/a.md", "size": "12", "status": "success"},
		},
		{
			name:  "value with colons",
			input: "created_at: 2026-01-02T03:04:05Z\nerror: exit status 1: boom\n",
			want:  Record{"created_at": "2026-01-02T03:04:05Z", "error": "exit status 1: boom"},
		},
		{
			name:  "blank lines",
			input: "\nstate: EXECUTE\n\n",
			want:  Record{"state": "EXECUTE"},
		},
		{
			name:    "no colon",
			input:   "state: EXECUTE\ngarbage\n",
			wantErr: true,
		},
		{
			name:    "empty key",
			input:   ": value\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKV([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrSignalMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatKV(t *testing.T) {
	rec := Record{"zeta": "z", "status": "fail", "path": "/a", "error": "line one\nline two", "empty": ""}
	out := string(FormatKV(rec, "path", "status"))
	assert.Equal(t, "path: /a\nstatus: fail\nerror: line one line two\nzeta: z\n", out)

	back, err := ParseKV([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "line one line two", back.Get("error"))
}

func TestRecordInt(t *testing.T) {
	rec := Record{"round": " 3", "bad": "x"}
	assert.Equal(t, 3, rec.Int("round"))
	assert.Zero(t, rec.Int("bad"))
	assert.Zero(t, rec.Int("missing"))
	rec.SetInt("cycle", 2)
	assert.Equal(t, "2", rec.Get("cycle"))
}
