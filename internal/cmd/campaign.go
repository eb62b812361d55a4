package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/campaign"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/orchestrator/fanout"
	"github.com/Iron-Ham/conductor/internal/pipeline"
	"github.com/Iron-Ham/conductor/internal/session"
)

// researchSet is the worker set a campaign researches with when
// campaign.domains is empty.
const researchSet = "research"

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Run or resume a research-plan-execute campaign",
	Long: `Advance the session's campaign: research until sufficient, write and
decompose a plan, wait for review, execute the phases, then evaluate and
heal until the evaluation passes or the heal cycles run out.

The campaign stops with human-input-required while the plan awaits review.
Write a resolution with --resolution ("approve", or feedback for a revised
plan) and run the command again on the same session to continue.`,
	Args: cobra.NoArgs,
	RunE: runCampaign,
}

func init() {
	rootCmd.AddCommand(campaignCmd)
	f := campaignCmd.Flags()
	f.String("topic", "", "what the campaign should achieve (remembered by the session)")
	f.String("resolution", "", "review resolution to record before resuming")
	f.String("start-state", "", "state to start from instead of the saved one")
	f.String("workdir", "", "worker working directory")
	f.Int("max-research-rounds", 0, "override campaign.max_research_rounds")
	f.Int("max-heal-cycles", -1, "override campaign.max_heal_cycles")
	addDepthFlag(campaignCmd)
}

// campaignResult is printed on stdout when the command returns.
type campaignResult struct {
	Session string        `json:"session"`
	State   string        `json:"state"`
	Code    exitcode.Code `json:"code"`
	Round   int           `json:"research_round"`
	Cycle   int           `json:"heal_cycle"`
	Plan    string        `json:"plan,omitempty"`
	Review  string        `json:"review,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func runCampaign(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	var start campaign.State
	if s, _ := f.GetString("start-state"); s != "" {
		st, err := campaign.ParseState(s)
		if err != nil {
			return err
		}
		start = st
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	defs, err := rt.definitions()
	if err != nil {
		return err
	}
	research, err := rt.researchSet(defs)
	if err != nil {
		return err
	}

	if text, _ := f.GetString("resolution"); text != "" {
		path, err := campaign.WriteResolution(rt.session, text)
		if err != nil {
			return fmt.Errorf("failed to record resolution: %w", err)
		}
		rt.logger.Info("resolution recorded", "path", path)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	c := rt.cfg.Campaign
	cfg := campaign.Config{
		MaxResearchRounds: c.MaxResearchRounds,
		MaxHealCycles:     c.MaxHealCycles,
		Research:          research,
		Definitions:       defs,
		ResearchTier:      c.ResearchTier,
		PlanTier:          c.PlanTier,
		EvaluateTier:      c.EvaluateTier,
		Timeout:           rt.cfg.Worker.Timeout,
		Depth:             resolveDepth(ctx, cmd),
		StartState:        start,
	}
	cfg.Topic, _ = f.GetString("topic")
	cfg.WorkDir, _ = f.GetString("workdir")
	if n, _ := f.GetInt("max-research-rounds"); n > 0 {
		cfg.MaxResearchRounds = n
	}
	if n, _ := f.GetInt("max-heal-cycles"); n >= 0 {
		cfg.MaxHealCycles = n
	}

	inv := rt.invoker()
	researcher := fanout.New(inv, rt.session, rt.fanoutConfig(),
		fanout.WithBus(rt.bus),
		fanout.WithLogger(rt.logger),
	)
	ctrl := campaign.New(rt.session, inv, researcher, rt.coordinator(), cfg,
		campaign.WithBus(rt.bus),
		campaign.WithLogger(rt.logger),
	)
	code := ctrl.Run(ctx)

	if err := printCampaignResult(cmd, rt.session, code); err != nil {
		return err
	}
	return codeError(code)
}

// researchSet builds the research worker set from campaign.domains, or
// falls back to the "research" definition.
func (rt *runtime) researchSet(defs *pipeline.Definitions) (*pipeline.WorkerSet, error) {
	domains := rt.cfg.Campaign.Domains
	if len(domains) == 0 {
		return defs.WorkerSet(researchSet)
	}
	set := &pipeline.WorkerSet{
		Name:              researchSet,
		ConsolidationTier: rt.cfg.Fanout.ConsolidationTier,
	}
	for _, d := range domains {
		set.Workers = append(set.Workers, pipeline.Worker{Domain: d, Tier: rt.cfg.Campaign.ResearchTier})
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("campaign.domains: %w", err)
	}
	return set, nil
}

func printCampaignResult(cmd *cobra.Command, sess *session.Session, code exitcode.Code) error {
	rec, err := campaign.ReadState(sess)
	if err != nil {
		rec = session.Record{}
	}
	res := campaignResult{
		Session: sess.Dir,
		State:   rec[campaign.KeyState],
		Code:    code,
		Round:   rec.Int(campaign.KeyResearchRound),
		Cycle:   rec.Int(campaign.KeyHealCycle),
		Plan:    rec[campaign.KeyPlan],
		Error:   rec[campaign.KeyError],
	}
	if code == exitcode.HumanInputRequired {
		res.Review = campaign.ResolutionPath(sess)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
