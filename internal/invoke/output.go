package invoke

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/exitcode"
)

// Structured is the decoded JSON document from a worker's stdout. The
// schema belongs to the worker, so the raw map is kept next to the few
// fields the engine interprets.
type Structured struct {
	Raw    map[string]any
	Status string
	Result string
	Error  string
}

// parseStructured decodes the last JSON object on stdout. Workers that
// stream progress lines before the final document are tolerated.
func parseStructured(stdout []byte) (*Structured, error) {
	data := bytes.TrimSpace(stdout)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty output", errors.ErrMalformedOutput)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		lines := bytes.Split(data, []byte("\n"))
		parsed := false
		for i := len(lines) - 1; i >= 0; i-- {
			if json.Unmarshal(bytes.TrimSpace(lines[i]), &raw) == nil && raw != nil {
				parsed = true
				break
			}
		}
		if !parsed {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedOutput, err)
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", errors.ErrMalformedOutput)
	}

	s := &Structured{Raw: raw}
	s.Status, _ = raw["status"].(string)
	switch v := raw["result"].(type) {
	case string:
		s.Result = v
	case nil:
	default:
		b, _ := json.Marshal(v)
		s.Result = string(b)
	}
	switch v := raw["error"].(type) {
	case string:
		s.Error = v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			s.Error = msg
		} else {
			b, _ := json.Marshal(v)
			s.Error = string(b)
		}
	}
	return s, nil
}

// code maps the document to an outcome. An explicit status wins; otherwise
// the is_error and subtype fields emitted by agent CLIs are consulted.
func (s *Structured) code() exitcode.Code {
	switch strings.ToLower(s.Status) {
	case "success", "ok", "done", "completed":
		return exitcode.Success
	case "fail", "failed", "failure", "error":
		return exitcode.Failure
	case "":
	default:
		if c, err := exitcode.Parse(s.Status); err == nil {
			return c
		}
		return exitcode.Failure
	}
	if isErr, ok := s.Raw["is_error"].(bool); ok && isErr {
		return exitcode.Failure
	}
	if s.Error != "" {
		return exitcode.Failure
	}
	if sub, ok := s.Raw["subtype"].(string); ok && sub != "" && sub != "success" {
		return exitcode.Failure
	}
	return exitcode.Success
}
