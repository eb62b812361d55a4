package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/orchestrator/fanout"
)

var fanoutCmd = &cobra.Command{
	Use:   "fanout <worker-set>",
	Short: "Run a worker set in parallel and consolidate the results",
	Long: `Run every worker of the named set concurrently, each on its own domain,
then merge the successful artifacts with one consolidation worker.

Workers never see each other's output. A timed-out worker is recorded and
the rest continue; depth-exceeded or an interrupt aborts the whole run.`,
	Args: cobra.ExactArgs(1),
	RunE: runFanout,
}

func init() {
	rootCmd.AddCommand(fanoutCmd)
	fanoutCmd.Flags().String("output-dir", "", "directory for worker artifacts (default: the session's phase directory)")
	fanoutCmd.Flags().Int("concurrency", 0, "maximum concurrent workers (default: fanout.concurrency)")
	addRunFlags(fanoutCmd)
}

func runFanout(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	defs, err := rt.definitions()
	if err != nil {
		return err
	}
	set, err := defs.WorkerSet(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	f := cmd.Flags()
	run := fanout.Run{WorkerSet: set, Depth: resolveDepth(ctx, cmd)}
	run.OutputDir, _ = f.GetString("output-dir")
	run.RunID, _ = f.GetString("run-id")
	run.Topic, _ = f.GetString("topic")
	run.Modifier, _ = f.GetString("modifier")
	run.Notes, _ = f.GetStringArray("note")
	run.WorkDir, _ = f.GetString("workdir")

	cfg := rt.fanoutConfig()
	if n, _ := f.GetInt("concurrency"); n > 0 {
		cfg.Concurrency = n
	}
	orch := fanout.New(rt.invoker(), rt.session, cfg,
		fanout.WithBus(rt.bus),
		fanout.WithLogger(rt.logger),
	)
	code, m := orch.Run(ctx, run)
	return finish(cmd.OutOrStdout(), code, m)
}

func (rt *runtime) fanoutConfig() fanout.Config {
	c := rt.cfg.Fanout
	return fanout.Config{
		Concurrency:       c.Concurrency,
		OverallTimeout:    c.OverallTimeout,
		WorkerTimeout:     c.WorkerTimeout,
		ConsolidationTier: c.ConsolidationTier,
	}
}
