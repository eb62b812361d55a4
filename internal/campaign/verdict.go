package campaign

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/invoke"
	"github.com/Iron-Ham/conductor/internal/pipeline"
	"github.com/Iron-Ham/conductor/internal/util"
)

// Sufficiency is the research evaluator's answer. Inputs records the
// research artifacts that were judged.
type Sufficiency struct {
	Sufficient bool     `json:"sufficient"`
	Gaps       []string `json:"gaps,omitempty"`
	Inputs     []string `json:"inputs,omitempty"`
}

// Evaluation is the execution evaluator's answer.
type Evaluation struct {
	Verdict string   `json:"verdict"`
	Issues  []string `json:"issues,omitempty"`
}

const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// Passed reports whether the verdict is a pass.
func (e Evaluation) Passed() bool { return e.Verdict == VerdictPass }

// payload finds the JSON object carrying key: the worker's document itself,
// or an object embedded in its result text.
func payload(res invoke.Result, key string) (map[string]any, error) {
	if res.Structured == nil {
		return nil, fmt.Errorf("%w: no structured output", errors.ErrMalformedOutput)
	}
	if _, ok := res.Structured.Raw[key]; ok {
		return res.Structured.Raw, nil
	}
	if obj := embeddedObject(res.Structured.Result); obj != nil {
		if _, ok := obj[key]; ok {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("%w: missing %q", errors.ErrMalformedOutput, key)
}

// embeddedObject extracts the outermost {...} from text, tolerating code
// fences and prose around it.
func embeddedObject(text string) map[string]any {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil
	}
	return obj
}

func remarshal(obj map[string]any, v any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func parseSufficiency(res invoke.Result) (Sufficiency, error) {
	obj, err := payload(res, "sufficient")
	if err != nil {
		return Sufficiency{}, err
	}
	if _, ok := obj["sufficient"].(bool); !ok {
		return Sufficiency{}, fmt.Errorf("%w: sufficient is not a boolean", errors.ErrMalformedOutput)
	}
	var s Sufficiency
	if err := remarshal(obj, &s); err != nil {
		return Sufficiency{}, fmt.Errorf("%w: %v", errors.ErrMalformedOutput, err)
	}
	s.Inputs = nil
	return s, nil
}

func parseEvaluation(res invoke.Result) (Evaluation, error) {
	obj, err := payload(res, "verdict")
	if err != nil {
		return Evaluation{}, err
	}
	var e Evaluation
	if err := remarshal(obj, &e); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", errors.ErrMalformedOutput, err)
	}
	e.Verdict = strings.ToLower(strings.TrimSpace(e.Verdict))
	if e.Verdict != VerdictPass && e.Verdict != VerdictFail {
		return Evaluation{}, fmt.Errorf("%w: verdict %q", errors.ErrMalformedOutput, e.Verdict)
	}
	return e, nil
}

func parsePhases(res invoke.Result) ([]pipeline.Phase, error) {
	obj, err := payload(res, "phases")
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(map[string]any{"phases": obj["phases"]})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedOutput, err)
	}
	phases, err := pipeline.ParsePhases(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedOutput, err)
	}
	return phases, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, data, 0644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
