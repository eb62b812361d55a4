package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/conductor/internal/orchestrator/phase"
	"github.com/Iron-Ham/conductor/internal/pipeline"
)

var phasesCmd = &cobra.Command{
	Use:   "phases <phase-file>",
	Short: "Run a dependency-ordered phase list",
	Long: `Run the phases listed in a YAML or JSON file in order. Each phase is a
child conductor running the stage pipeline or worker set it references
(e.g. "stage:implement" or "fanout:research").

A phase whose dependencies did not complete is skipped. Phases that already
have a completion signal for the same cycle are not run again, so a failed
run can be resumed by running the same command against the same session.`,
	Args: cobra.ExactArgs(1),
	RunE: runPhases,
}

func init() {
	rootCmd.AddCommand(phasesCmd)
	f := phasesCmd.Flags()
	f.Int("cycle", 0, "heal cycle; resume honors completion signals of this cycle only")
	f.String("topic", "", "objective passed to every phase")
	f.StringArray("note", nil, "context document passed to every phase (repeatable)")
	f.String("workdir", "", "working directory for every phase's workers")
	f.String("state-name", phase.DefaultStateName, "label written into checkpoints")
	addDepthFlag(phasesCmd)
}

func runPhases(cmd *cobra.Command, args []string) error {
	phases, err := pipeline.LoadPhases(args[0])
	if err != nil {
		return err
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
	if err := defs.CheckRefs(phases); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	f := cmd.Flags()
	run := phase.Run{Phases: phases, Depth: resolveDepth(ctx, cmd)}
	run.Cycle, _ = f.GetInt("cycle")
	run.Topic, _ = f.GetString("topic")
	run.Notes, _ = f.GetStringArray("note")
	run.WorkDir, _ = f.GetString("workdir")
	run.StateName, _ = f.GetString("state-name")

	code, m := rt.coordinator().Run(ctx, run)
	return finish(cmd.OutOrStdout(), code, m)
}

// coordinator runs each phase as a child of this binary, forwarding the
// config file so children resolve the same definitions.
func (rt *runtime) coordinator() *phase.Coordinator {
	runner := phase.NewSubprocessRunner(rt.logger)
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		runner.ExtraArgs = []string{"--config", cfgFile}
	}
	if viper.GetBool("quiet") {
		runner.ExtraArgs = append(runner.ExtraArgs, "--quiet")
	}
	return phase.New(runner, rt.session,
		phase.WithRetries(rt.cfg.Phase.Retries),
		phase.WithTimeout(rt.cfg.Phase.Timeout),
		phase.WithMaxDepth(rt.cfg.Depth.Max),
		phase.WithBus(rt.bus),
		phase.WithLogger(rt.logger),
	)
}
