package retry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/exitcode"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		codes      []exitcode.Code
		want       bool
	}{
		{name: "no attempts", maxRetries: 2, want: false},
		{name: "failure with retries left", maxRetries: 2, codes: []exitcode.Code{exitcode.Failure}, want: true},
		{name: "retries exhausted", maxRetries: 1, codes: []exitcode.Code{exitcode.Failure, exitcode.Failure}, want: false},
		{name: "zero retries", maxRetries: 0, codes: []exitcode.Code{exitcode.Failure}, want: false},
		{name: "success", maxRetries: 2, codes: []exitcode.Code{exitcode.Success}, want: false},
		{name: "timeout never retried", maxRetries: 2, codes: []exitcode.Code{exitcode.Timeout}, want: false},
		{name: "escalation is final", maxRetries: 2, codes: []exitcode.Code{exitcode.NeedsEscalation}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager()
			m.Begin("u", tt.maxRetries)
			for _, c := range tt.codes {
				m.Record("u", c, "")
			}
			assert.Equal(t, tt.want, m.ShouldRetry("u"))
		})
	}
}

func TestStateAndFailed(t *testing.T) {
	m := NewManager()
	m.Begin("a", 1)
	m.Begin("b", 1)
	m.Begin("idle", 1)
	m.Record("a", exitcode.Failure, "boom")
	m.Record("a", exitcode.Success, "")
	m.Record("b", exitcode.Failure, "bad")
	m.Record("missing", exitcode.Failure, "ignored")

	a := m.State("a")
	require.NotNil(t, a)
	assert.Equal(t, 2, a.Attempts)
	assert.True(t, a.Succeeded())
	assert.Equal(t, "boom", a.LastError)

	a.Codes[0] = exitcode.Timeout
	assert.Equal(t, exitcode.Failure, m.State("a").Codes[0], "State returns a copy")

	assert.Equal(t, []string{"b"}, m.Failed())
	assert.Nil(t, m.State("missing"))

	m.Reset("b")
	assert.Empty(t, m.Failed())
}

func TestConcurrentRecord(t *testing.T) {
	m := NewManager()
	m.Begin("u", 100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record("u", exitcode.Failure, "")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, m.State("u").Attempts)
}
