package session

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Iron-Ham/conductor/internal/errors"
)

// Record is a flat set of "key: value" pairs as stored in signal and state
// files.
type Record map[string]string

// Get returns the value for key, or "" when absent.
func (r Record) Get(key string) string {
	return r[key]
}

// Int returns key as an integer, or 0 when missing or not a number.
func (r Record) Int(key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r[key]))
	if err != nil {
		return 0
	}
	return n
}

// SetInt stores n under key.
func (r Record) SetInt(key string, n int) {
	r[key] = strconv.Itoa(n)
}

// ParseKV parses newline separated "key: value" lines. Each line is split
// at its first colon, so values may contain colons. Blank lines are
// ignored; any other line without a colon is an error.
func ParseKV(data []byte) (Record, error) {
	rec := Record{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		key, value, ok := strings.Cut(text, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return rec, fmt.Errorf("%w: line %d: %q", errors.ErrSignalMalformed, line, text)
		}
		rec[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return rec, err
	}
	return rec, nil
}

// FormatKV renders rec with the keys in order first, then the remaining
// keys sorted. Empty values are omitted and newlines in values are folded
// into spaces so every pair stays on one line.
func FormatKV(rec Record, order ...string) []byte {
	var b bytes.Buffer
	seen := make(map[string]bool, len(rec))
	write := func(k string) {
		if seen[k] {
			return
		}
		seen[k] = true
		v, ok := rec[k]
		if !ok || v == "" {
			return
		}
		v = strings.Join(strings.Fields(strings.ReplaceAll(v, "\n", " ")), " ")
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	for _, k := range order {
		write(k)
	}
	rest := make([]string, 0, len(rec))
	for k := range rec {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		write(k)
	}
	return b.Bytes()
}
