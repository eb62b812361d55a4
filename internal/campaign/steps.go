package campaign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/invoke"
	"github.com/Iron-Ham/conductor/internal/manifest"
	"github.com/Iron-Ham/conductor/internal/orchestrator/fanout"
	"github.com/Iron-Ham/conductor/internal/orchestrator/phase"
	"github.com/Iron-Ham/conductor/internal/orchestrator/prompt"
	"github.com/Iron-Ham/conductor/internal/pipeline"
	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/signal"
	"github.com/Iron-Ham/conductor/internal/util"
)

const sufficiencyFile = "sufficiency.json"

// research runs one research round and judges its sufficiency.
func (c *Controller) research(ctx context.Context, rec session.Record) (State, exitcode.Code) {
	round := rec.Int(KeyResearchRound) + 1
	log := c.logger.With("round", round)
	if round > c.cfg.MaxResearchRounds {
		log.Warn("research rounds exhausted", "max", c.cfg.MaxResearchRounds)
		return "", exitcode.NeedsRefinement
	}
	if c.cfg.Research == nil {
		log.Error("no research worker set configured")
		return "", exitcode.Failure
	}

	var notes []string
	if round > 1 {
		gaps := c.gapsPath(round - 1)
		if _, err := os.Stat(gaps); err == nil {
			notes = append(notes, gaps)
		}
	}
	dir := c.session.ResearchRoundDir(round)
	code, m := c.researcher.Run(ctx, fanout.Run{
		WorkerSet: c.cfg.Research,
		Topic:     c.cfg.Topic,
		Notes:     notes,
		OutputDir: dir,
		RunID:     fmt.Sprintf("round-%d", round),
		WorkDir:   c.cfg.WorkDir,
		Depth:     c.cfg.Depth,
	})
	rec.SetInt(KeyResearchRound, round)
	if code.IsNonAbsorbable() {
		return "", code
	}
	if !code.IsSuccess() {
		log.Warn("research round failed", "code", code)
		return "", exitcode.Failure
	}

	inputs := researchArtifacts(m)
	text, err := prompt.Build(&prompt.Context{
		Kind:   prompt.KindSufficiency,
		Topic:  c.cfg.Topic,
		Inputs: inputs,
		Round:  round,
	})
	if err != nil {
		log.Error("build sufficiency prompt", "error", err)
		return "", exitcode.Failure
	}
	res := c.invoke(ctx, text, c.cfg.ResearchTier, invoke.FormatJSON, "sufficiency")
	if res.Code.IsNonAbsorbable() {
		return "", res.Code
	}
	if !res.Code.IsSuccess() {
		log.Warn("sufficiency check failed", "code", res.Code, "error", res.Err)
		return "", exitcode.Failure
	}

	verdict, err := parseSufficiency(res)
	if err != nil {
		log.Warn("unparseable sufficiency verdict, treating research as sufficient", "error", err)
		verdict = Sufficiency{Sufficient: true}
	}
	verdict.Inputs = inputs
	if err := writeJSON(filepath.Join(dir, sufficiencyFile), verdict); err != nil {
		log.Warn("failed to save sufficiency verdict", "error", err)
	}

	switch {
	case verdict.Sufficient:
		log.Info("research sufficient")
		return StatePlanConsolidate, ""
	case round >= c.cfg.MaxResearchRounds:
		log.Warn("research still insufficient after final round", "gaps", len(verdict.Gaps))
		return "", exitcode.NeedsRefinement
	default:
		log.Info("research insufficient", "gaps", len(verdict.Gaps))
		return StatePlanRefine, ""
	}
}

// researchArtifacts prefers the consolidated finding over the individual
// ones.
func researchArtifacts(m *manifest.Manifest) []string {
	if m == nil {
		return nil
	}
	if m.Consolidation != nil && m.Consolidation.Artifact != "" {
		return []string{m.Consolidation.Artifact}
	}
	var out []string
	for _, e := range m.Workers {
		if e.Artifact != "" {
			out = append(out, e.Artifact)
		}
	}
	return out
}

func (c *Controller) gapsPath(round int) string {
	return c.session.RefinementPath(fmt.Sprintf("round-%d-gaps.md", round))
}

// refine writes the gap document the next round reads.
func (c *Controller) refine(rec session.Record) (State, exitcode.Code) {
	round := rec.Int(KeyResearchRound)
	log := c.logger.With("round", round)

	var verdict Sufficiency
	if err := readJSON(filepath.Join(c.session.ResearchRoundDir(round), sufficiencyFile), &verdict); err != nil {
		log.Warn("no saved sufficiency verdict", "error", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Research gaps after round %d\n\nTopic: %s\n\n", round, c.cfg.Topic)
	if len(verdict.Gaps) == 0 {
		b.WriteString("The evaluator found the research insufficient without naming gaps. Broaden coverage.\n")
	} else {
		b.WriteString("## Gaps\n\n")
		for _, g := range verdict.Gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if len(verdict.Inputs) > 0 {
		b.WriteString("\n## Findings so far\n\n")
		for _, in := range verdict.Inputs {
			fmt.Fprintf(&b, "- %s\n", in)
		}
	}

	path := c.gapsPath(round)
	if err := util.WriteFileAtomic(path, []byte(b.String()), 0644); err != nil {
		log.Error("failed to write gap document", "error", err)
		return "", exitcode.Failure
	}
	c.writeSignal("refine", fmt.Sprintf("round-%d-gaps", round), path, 0, "")
	return StatePlanResearch, ""
}

// consolidate writes the next plan version.
func (c *Controller) consolidate(ctx context.Context, rec session.Record) (State, exitcode.Code) {
	version := rec.Int(KeyPlanVersion) + 1
	log := c.logger.With("plan_version", version)
	path := c.session.Path(fmt.Sprintf("plan-v%d.md", version))

	var notes []string
	if prev := rec[KeyPlan]; prev != "" {
		notes = append(notes, prev)
	}
	if fb := rec[KeyFeedback]; fb != "" {
		notes = append(notes, fb)
	}
	text, err := prompt.Build(&prompt.Context{
		Kind:         prompt.KindPlan,
		Topic:        c.cfg.Topic,
		Inputs:       c.allResearch(rec.Int(KeyResearchRound)),
		Notes:        notes,
		ArtifactPath: path,
	})
	if err != nil {
		log.Error("build plan prompt", "error", err)
		return "", exitcode.Failure
	}
	res := c.invoke(ctx, text, c.cfg.PlanTier, invoke.FormatText, "plan")
	if res.Code.IsNonAbsorbable() {
		return "", res.Code
	}
	if !res.Code.IsSuccess() {
		log.Warn("plan consolidation failed", "code", res.Code, "error", res.Err)
		return "", exitcode.Failure
	}
	c.persistOutput(path, res.Output)
	if _, err := os.Stat(path); err != nil {
		log.Error("plan was not written", "path", path)
		return "", exitcode.Failure
	}

	sig := c.writeSignal("plan", fmt.Sprintf("v%d", version), path, version, rec[KeyPlanSignal])
	rec[KeyPlan] = path
	rec.SetInt(KeyPlanVersion, version)
	if sig != "" {
		rec[KeyPlanSignal] = sig
	}
	delete(rec, KeyFeedback)
	log.Info("plan written", "path", path)
	return StatePlanDecompose, ""
}

// allResearch lists the judged research artifacts of every round so far.
func (c *Controller) allResearch(rounds int) []string {
	var out []string
	seen := map[string]bool{}
	for r := 1; r <= rounds; r++ {
		var v Sufficiency
		if err := readJSON(filepath.Join(c.session.ResearchRoundDir(r), sufficiencyFile), &v); err != nil {
			continue
		}
		for _, in := range v.Inputs {
			if !seen[in] {
				seen[in] = true
				out = append(out, in)
			}
		}
	}
	return out
}

// decompose turns the current plan into a phase list.
func (c *Controller) decompose(ctx context.Context, rec session.Record) (State, exitcode.Code) {
	plan := rec[KeyPlan]
	version := rec.Int(KeyPlanVersion)
	log := c.logger.With("plan", plan)
	if plan == "" {
		log.Error("no plan to decompose")
		return "", exitcode.Failure
	}

	text, err := prompt.Build(&prompt.Context{
		Kind:   prompt.KindDecompose,
		Topic:  c.cfg.Topic,
		Inputs: []string{plan},
	})
	if err != nil {
		log.Error("build decompose prompt", "error", err)
		return "", exitcode.Failure
	}
	res := c.invoke(ctx, text, c.cfg.PlanTier, invoke.FormatJSON, "decompose")
	if res.Code.IsNonAbsorbable() {
		return "", res.Code
	}
	if !res.Code.IsSuccess() {
		log.Warn("decomposition failed", "code", res.Code, "error", res.Err)
		return "", exitcode.Failure
	}

	phases, err := parsePhases(res)
	if err != nil {
		log.Error("unparseable phase list", "error", err, "artifact", res.Artifact)
		return "", exitcode.Failure
	}
	if c.cfg.Definitions != nil {
		if err := c.cfg.Definitions.CheckRefs(phases); err != nil {
			log.Error("phase list references unknown orchestrators", "error", err)
			return "", exitcode.Failure
		}
	}

	path := c.session.Path(session.DirPhases, fmt.Sprintf("plan-v%d.json", version))
	if err := writeJSON(path, map[string][]pipeline.Phase{"phases": phases}); err != nil {
		log.Error("failed to save phase list", "error", err)
		return "", exitcode.Failure
	}
	rec[KeyPhases] = path
	log.Info("plan decomposed", "phases", len(phases), "path", path)
	return StateCEOReview, ""
}

// review consumes a reviewer's resolution, or stops for one.
func (c *Controller) review(rec session.Record) (State, exitcode.Code) {
	log := c.logger.With("plan", rec[KeyPlan])
	text, err := readResolution(c.session)
	if err != nil {
		log.Warn("unreadable resolution", "error", err)
	}
	if text == "" {
		log.Info("plan awaiting review", "resolution", ResolutionPath(c.session))
		return "", exitcode.HumanInputRequired
	}

	consumed := filepath.Join(c.session.ResolutionsDir(), fmt.Sprintf("ceo-review-v%d.md", rec.Int(KeyPlanVersion)))
	if err := os.Rename(ResolutionPath(c.session), consumed); err != nil {
		log.Warn("failed to archive resolution", "error", err)
		consumed = ResolutionPath(c.session)
	}

	if IsApproval(text) {
		log.Info("plan approved")
		return StateExecute, ""
	}
	log.Info("plan returned with feedback", "feedback", consumed)
	rec[KeyFeedback] = consumed
	return StatePlanConsolidate, ""
}

func (c *Controller) executionManifestPath(cycle int) string {
	return filepath.Join(c.session.ReportsDir(), fmt.Sprintf("execute-c%d.json", cycle))
}

func (c *Controller) evaluationPath(cycle int) string {
	return filepath.Join(c.session.ReportsDir(), fmt.Sprintf("evaluation-c%d.json", cycle))
}

func (c *Controller) healPath(cycle int) string {
	return c.session.RefinementPath(fmt.Sprintf("heal-%d.md", cycle))
}

// execute runs the phase list for the current heal cycle.
func (c *Controller) execute(ctx context.Context, rec session.Record) (State, exitcode.Code) {
	cycle := rec.Int(KeyHealCycle)
	log := c.logger.With("cycle", cycle)
	phases, err := pipeline.LoadPhases(rec[KeyPhases])
	if err != nil {
		log.Error("cannot load phase list", "error", err)
		return "", exitcode.Failure
	}

	var notes []string
	if cycle > 0 {
		notes = append(notes, c.healPath(cycle))
	}
	code, m := c.executor.Run(ctx, phase.Run{
		Phases:    phases,
		Cycle:     cycle,
		Topic:     c.cfg.Topic,
		Notes:     notes,
		WorkDir:   c.cfg.WorkDir,
		Depth:     c.cfg.Depth,
		StateName: string(StateExecute),
	})
	rec[KeyExecuteOutcome] = string(code)
	if m != nil {
		if err := writeJSON(c.executionManifestPath(cycle), m); err != nil {
			log.Warn("failed to save execution manifest", "error", err)
		}
	}
	if code.IsNonAbsorbable() {
		return "", code
	}
	log.Info("execution finished", "code", code)
	return StateEvaluate, ""
}

// evaluate judges the execution against the plan.
func (c *Controller) evaluate(ctx context.Context, rec session.Record) (State, exitcode.Code) {
	cycle := rec.Int(KeyHealCycle)
	log := c.logger.With("cycle", cycle)

	inputs := []string{rec[KeyPlan]}
	if p := c.executionManifestPath(cycle); fileExists(p) {
		inputs = append(inputs, p)
	}
	var notes []string
	for i := 1; i <= cycle; i++ {
		notes = append(notes, c.healPath(i))
	}
	text, err := prompt.Build(&prompt.Context{
		Kind:   prompt.KindEvaluate,
		Topic:  c.cfg.Topic,
		Inputs: inputs,
		Notes:  notes,
	})
	if err != nil {
		log.Error("build evaluate prompt", "error", err)
		return "", exitcode.Failure
	}
	res := c.invoke(ctx, text, c.cfg.EvaluateTier, invoke.FormatJSON, "evaluate")
	if res.Code.IsNonAbsorbable() {
		return "", res.Code
	}
	if !res.Code.IsSuccess() {
		log.Warn("evaluation failed", "code", res.Code, "error", res.Err)
		return "", exitcode.Failure
	}

	eval, err := parseEvaluation(res)
	if err != nil {
		log.Warn("unparseable evaluation, treating as pass", "error", err)
		eval = Evaluation{Verdict: VerdictPass}
	}
	if err := writeJSON(c.evaluationPath(cycle), eval); err != nil {
		log.Warn("failed to save evaluation", "error", err)
	}

	switch {
	case eval.Passed():
		log.Info("evaluation passed")
		rec[KeyResult] = string(exitcode.Success)
		return StateReport, ""
	case cycle < c.cfg.MaxHealCycles:
		log.Info("evaluation failed, healing", "issues", len(eval.Issues))
		return StateHeal, ""
	default:
		log.Warn("evaluation failed with heal cycles exhausted", "max", c.cfg.MaxHealCycles)
		rec[KeyResult] = string(exitcode.PartialSuccess)
		return StateReport, ""
	}
}

// heal writes the context for the next execution pass.
func (c *Controller) heal(rec session.Record) (State, exitcode.Code) {
	prev := rec.Int(KeyHealCycle)
	cycle := prev + 1

	var eval Evaluation
	if err := readJSON(c.evaluationPath(prev), &eval); err != nil {
		c.logger.Warn("no saved evaluation", "error", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Heal cycle %d\n\nThe previous execution did not satisfy the plan (%s).\n", cycle, rec[KeyPlan])
	if len(eval.Issues) > 0 {
		b.WriteString("\n## Issues to fix\n\n")
		for _, issue := range eval.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	if p := c.executionManifestPath(prev); fileExists(p) {
		fmt.Fprintf(&b, "\nPrevious execution manifest: %s\n", p)
	}

	path := c.healPath(cycle)
	if err := util.WriteFileAtomic(path, []byte(b.String()), 0644); err != nil {
		c.logger.Error("failed to write heal context", "error", err)
		return "", exitcode.Failure
	}
	rec.SetInt(KeyHealCycle, cycle)
	c.logger.Info("heal cycle started", "cycle", cycle, "context", path)
	return StateExecute, ""
}

// report writes the final report. Failing to write it does not fail the
// campaign.
func (c *Controller) report(ctx context.Context, rec session.Record) (State, exitcode.Code) {
	cycle := rec.Int(KeyHealCycle)
	result := outcome(rec)
	path := filepath.Join(c.session.ReportsDir(), fmt.Sprintf("report-c%d.md", cycle))

	inputs := []string{rec[KeyPlan]}
	for i := 0; i <= cycle; i++ {
		for _, p := range []string{c.executionManifestPath(i), c.evaluationPath(i)} {
			if fileExists(p) {
				inputs = append(inputs, p)
			}
		}
	}
	text, err := prompt.Build(&prompt.Context{
		Kind:         prompt.KindReport,
		Topic:        c.cfg.Topic,
		Inputs:       inputs,
		Outcome:      string(result),
		ArtifactPath: path,
	})
	if err != nil {
		c.logger.Warn("build report prompt", "error", err)
		return StateComplete, ""
	}
	res := c.invoke(ctx, text, c.cfg.PlanTier, invoke.FormatText, "report")
	if res.Code.IsNonAbsorbable() {
		return "", res.Code
	}
	if !res.Code.IsSuccess() {
		c.logger.Warn("report writing failed", "code", res.Code, "error", res.Err)
		return StateComplete, ""
	}
	c.persistOutput(path, res.Output)
	c.writeSignal("report", fmt.Sprintf("c%d", cycle), path, 0, "")
	return StateComplete, ""
}

func (c *Controller) invoke(ctx context.Context, text, tier string, format invoke.OutputFormat, agent string) invoke.Result {
	t, err := invoke.ParseTier(tier)
	if err != nil {
		return invoke.Result{Code: exitcode.Failure, Err: err}
	}
	req := invoke.NewRequest(text)
	req.Tier = t
	req.Format = format
	req.WorkDir = c.cfg.WorkDir
	req.Depth = c.cfg.Depth
	req.Timeout = c.cfg.Timeout
	req.AgentType = Layer + "-" + agent
	return c.invoker.Invoke(ctx, req)
}

// writeSignal returns the signal path, or "" when it could not be written.
func (c *Controller) writeSignal(layer, name, artifact string, version int, previous string) string {
	path, err := signal.Write(c.session.Dir, signal.Params{
		Layer:    layer,
		Name:     name,
		Status:   signal.StatusSuccess,
		Artifact: artifact,
		Size:     -1,
		TraceID:  c.session.TraceID,
		Version:  version,
		Previous: previous,
	})
	if err != nil {
		c.logger.Warn("failed to write signal", "layer", layer, "name", name, "error", err)
		return ""
	}
	return path
}

func (c *Controller) persistOutput(path, output string) {
	if fileExists(path) || output == "" {
		return
	}
	if err := util.WriteFileAtomic(path, []byte(output), 0644); err != nil {
		c.logger.Warn("failed to persist worker output", "path", path, "error", err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
