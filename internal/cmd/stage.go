package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/orchestrator/stage"
)

var stageCmd = &cobra.Command{
	Use:   "stage <pipeline>",
	Short: "Run a stage pipeline",
	Long: `Run the named pipeline's stages in order against a target. Each stage
receives the artifacts of the stages before it. Required stages that still
fail after their retries stop the pipeline; optional ones are recorded and
skipped.

The manifest is printed on stdout and the exit status encodes the outcome.`,
	Args: cobra.ExactArgs(1),
	RunE: runStage,
}

func init() {
	rootCmd.AddCommand(stageCmd)
	stageCmd.Flags().String("target", "", "document or path the stages work on")
	addRunFlags(stageCmd)
}

// addRunFlags registers the flags shared by the stage and fanout commands.
// The phase coordinator passes them when it runs a phase as a child.
func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("run-id", "", "id keeping this run's artifacts and signals apart (default: generated)")
	f.String("topic", "", "objective shared by every unit of work")
	f.String("modifier", "", "extra instructions appended to every unit")
	f.StringArray("note", nil, "context document to pass along (repeatable)")
	f.String("workdir", "", "worker working directory")
	addDepthFlag(cmd)
}

func runStage(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	defs, err := rt.definitions()
	if err != nil {
		return err
	}
	p, err := defs.Pipeline(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	f := cmd.Flags()
	run := stage.Run{Pipeline: p, Depth: resolveDepth(ctx, cmd)}
	run.Target, _ = f.GetString("target")
	run.RunID, _ = f.GetString("run-id")
	run.Topic, _ = f.GetString("topic")
	run.Modifier, _ = f.GetString("modifier")
	run.Notes, _ = f.GetStringArray("note")
	run.WorkDir, _ = f.GetString("workdir")

	orch := stage.New(rt.invoker(), rt.session,
		stage.WithDefaults(stage.Defaults{
			Retries: rt.cfg.Stage.Retries,
			Timeout: rt.cfg.Stage.Timeout,
			Tier:    rt.cfg.Stage.Tier,
		}),
		stage.WithBus(rt.bus),
		stage.WithLogger(rt.logger),
	)
	code, m := orch.Run(ctx, run)
	return finish(cmd.OutOrStdout(), code, m)
}
