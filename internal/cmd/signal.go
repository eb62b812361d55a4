package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/signal"
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Write and query completion signals",
	Long: `Signals are small immutable files in the session's .signals directory
marking a unit of work as done or failed. Layers read signals instead of
worker output; these commands expose the same protocol to scripts and
workers.

Patterns are globs over signal names without the .done/.fail suffix.`,
}

var signalWriteCmd = &cobra.Command{
	Use:   "write <layer> <name>",
	Short: "Write a signal (fails if one with the same name exists)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSignalWrite,
}

var signalCountCmd = &cobra.Command{
	Use:   "count [pattern]",
	Short: "Count done and failed signals",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSignalCount,
}

var signalFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List failed signals with their errors",
	Args:  cobra.NoArgs,
	RunE:  runSignalFailures,
}

var signalSizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Print the total artifact size recorded by success signals",
	Args:  cobra.NoArgs,
	RunE:  runSignalSize,
}

var signalWaitCmd = &cobra.Command{
	Use:   "wait <pattern>",
	Short: "Block until N signals matching pattern exist",
	Long: `Block until the number of done plus failed signals matching pattern
reaches --expected. Exits with the timeout status when --timeout elapses
first, or the interrupted status on SIGINT.`,
	Args: cobra.ExactArgs(1),
	RunE: runSignalWait,
}

func init() {
	rootCmd.AddCommand(signalCmd)
	signalCmd.AddCommand(signalWriteCmd)
	signalCmd.AddCommand(signalCountCmd)
	signalCmd.AddCommand(signalFailuresCmd)
	signalCmd.AddCommand(signalSizeCmd)
	signalCmd.AddCommand(signalWaitCmd)

	f := signalWriteCmd.Flags()
	f.String("artifact", "", "path of the produced artifact")
	f.Bool("fail", false, "write a failure signal")
	f.String("error", "", "error message for a failure signal")
	f.Int("version", 0, "artifact version")
	f.String("previous", "", "signal of the previous version")

	signalWaitCmd.Flags().Int("expected", 1, "number of signals to wait for")
	signalWaitCmd.Flags().Duration("timeout", 0, "give up after this long (0 waits until interrupted)")
	signalWaitCmd.Flags().Duration("poll", 0, "poll interval (default: signals.poll_interval)")
}

func runSignalWrite(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	f := cmd.Flags()
	p := signal.Params{
		Layer:   args[0],
		Name:    args[1],
		Status:  signal.StatusSuccess,
		Size:    -1,
		TraceID: rt.session.TraceID,
	}
	p.Artifact, _ = f.GetString("artifact")
	p.Error, _ = f.GetString("error")
	p.Version, _ = f.GetInt("version")
	p.Previous, _ = f.GetString("previous")
	if failed, _ := f.GetBool("fail"); failed {
		p.Status = signal.StatusFail
	}

	path, err := signal.Write(rt.session.Dir, p)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runSignalCount(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	pattern := "*"
	if len(args) == 1 {
		pattern = args[0]
	}
	done, failed, err := store.Counts(pattern)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "done: %d\nfailed: %d\n", done, failed)
	return nil
}

func runSignalFailures(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	failures, err := store.ListFailures()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(failures)
}

func runSignalSize(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	total, err := store.TotalSize()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), total)
	return nil
}

func runSignalWait(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	f := cmd.Flags()
	expected, _ := f.GetInt("expected")
	timeout, _ := f.GetDuration("timeout")
	poll, _ := f.GetDuration("poll")
	if poll <= 0 {
		poll = rt.cfg.Signals.PollInterval
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	w := &signal.Waiter{
		Store:        signal.NewStore(rt.session.Dir, rt.logger),
		Pattern:      args[0],
		Expected:     expected,
		PollInterval: poll,
	}
	res, err := w.Wait(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "done: %d\nfailed: %d\nexpected: %d\n", res.Done, res.Failed, res.Expected)
	switch {
	case errors.Is(err, errors.ErrTimeout):
		return codeError(exitcode.Timeout)
	case errors.Is(err, errors.ErrCanceled):
		return codeError(exitcode.Interrupted)
	case err != nil:
		return err
	}
	return nil
}

// openStore opens an existing session's signals without creating anything.
func openStore() (*signal.Store, error) {
	sess, err := existingSession()
	if err != nil {
		return nil, err
	}
	return signal.NewStore(sess.Dir, nil), nil
}

// existingSession opens the session named by --session, which must exist.
func existingSession() (*session.Session, error) {
	dir := viper.GetString("session")
	if dir == "" {
		return nil, fmt.Errorf("--session is required")
	}
	return session.Open(dir)
}
