package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/circuit"
	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/exitcode"
)

var circuitCmd = &cobra.Command{
	Use:   "circuit",
	Short: "Inspect and drive per-agent-type circuit breakers",
	Long: `Each agent type has a breaker persisted in the session's .circuits
directory. Repeated failures open it; after the reset timeout one probe is
let through and its outcome closes or reopens it.

"check" exits with the failure status when the circuit denies a call, so
scripts can gate their own workers on it.`,
}

var circuitCheckCmd = &cobra.Command{
	Use:   "check <agent-type>",
	Short: "Exit 0 if an invocation is allowed",
	Args:  cobra.ExactArgs(1),
	RunE:  runCircuitCheck,
}

var circuitSuccessCmd = &cobra.Command{
	Use:   "success <agent-type>",
	Short: "Record a successful invocation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBreaker(func(ctx context.Context, b *circuit.Breaker) error {
			return b.RecordSuccess(ctx, args[0])
		})
	},
}

var circuitFailureCmd = &cobra.Command{
	Use:   "failure <agent-type>",
	Short: "Record a failed invocation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBreaker(func(ctx context.Context, b *circuit.Breaker) error {
			return b.RecordFailure(ctx, args[0])
		})
	},
}

var circuitResetCmd = &cobra.Command{
	Use:   "reset <agent-type>",
	Short: "Close a circuit and clear its counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBreaker(func(ctx context.Context, b *circuit.Breaker) error {
			return b.Reset(ctx, args[0])
		})
	},
}

var circuitShowCmd = &cobra.Command{
	Use:   "show [agent-type]",
	Short: "Print breaker records as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCircuitShow,
}

func init() {
	rootCmd.AddCommand(circuitCmd)
	circuitCmd.AddCommand(circuitCheckCmd)
	circuitCmd.AddCommand(circuitSuccessCmd)
	circuitCmd.AddCommand(circuitFailureCmd)
	circuitCmd.AddCommand(circuitResetCmd)
	circuitCmd.AddCommand(circuitShowCmd)
}

// withBreaker opens the breaker of the existing session and runs fn.
func withBreaker(fn func(ctx context.Context, b *circuit.Breaker) error) error {
	b, err := openBreaker()
	if err != nil {
		return err
	}
	return fn(context.Background(), b)
}

func openBreaker() (*circuit.Breaker, error) {
	sess, err := existingSession()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return circuit.New(sess.Dir, cfg.Circuit), nil
}

func runCircuitCheck(cmd *cobra.Command, args []string) error {
	b, err := openBreaker()
	if err != nil {
		return err
	}
	err = b.Check(cmd.Context(), args[0])
	var cerr *errors.CircuitError
	switch {
	case errors.As(err, &cerr):
		fmt.Fprintf(cmd.OutOrStdout(), "denied: retry after %s\n", cerr.RetryAfter.Format("15:04:05"))
		return codeError(exitcode.Failure)
	case err != nil:
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "allowed")
	return nil
}

func runCircuitShow(cmd *cobra.Command, args []string) error {
	b, err := openBreaker()
	if err != nil {
		return err
	}
	agents := args
	if len(agents) == 0 {
		if agents, err = b.AgentTypes(); err != nil {
			return err
		}
	}
	records := make(map[string]circuit.Record, len(agents))
	for _, a := range agents {
		rec, err := b.Get(cmd.Context(), a)
		if err != nil {
			return err
		}
		records[a] = rec
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
