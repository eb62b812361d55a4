package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/conductor/internal/invoke"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke [prompt...]",
	Short: "Run a single worker invocation",
	Long: `Run one worker process with depth limiting, model tier selection and
the session's circuit breaker.

The prompt is taken from the arguments, from --prompt-file, or from stdin
when the only argument is "-". In --json mode the worker's structured
document is printed; otherwise its text output.`,
	RunE: runInvoke,
}

func init() {
	rootCmd.AddCommand(invokeCmd)

	f := invokeCmd.Flags()
	f.String("prompt-file", "", "read the prompt from a file")
	f.String("system-prompt", "", "system prompt text")
	f.String("tier", string(invoke.TierMedium), "model tier (low, medium, high)")
	f.Bool("json", false, "request and print structured JSON output")
	f.String("agent-type", "", "circuit breaker key (empty skips the breaker)")
	f.String("workdir", "", "worker working directory")
	f.StringSlice("allowed-tool", nil, "tool the worker may use (repeatable)")
	f.Duration("timeout", 0, "per-invocation timeout (default: worker.timeout)")
	f.Int("max-depth", 0, "override depth.max for this invocation")
	addDepthFlag(invokeCmd)
}

func readPrompt(cmd *cobra.Command, args []string) (string, error) {
	if path, _ := cmd.Flags().GetString("prompt-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		return string(data), nil
	}
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		return string(data), nil
	}
	prompt := strings.Join(args, " ")
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("no prompt given")
	}
	return prompt, nil
}

func runInvoke(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd, args)
	if err != nil {
		return err
	}
	tierName, _ := cmd.Flags().GetString("tier")
	tier, err := invoke.ParseTier(tierName)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	f := cmd.Flags()
	req := invoke.NewRequest(prompt)
	req.Tier = tier
	req.Depth = resolveDepth(ctx, cmd)
	req.SystemPrompt, _ = f.GetString("system-prompt")
	req.AgentType, _ = f.GetString("agent-type")
	req.WorkDir, _ = f.GetString("workdir")
	req.AllowedTools, _ = f.GetStringSlice("allowed-tool")
	req.Timeout, _ = f.GetDuration("timeout")
	req.MaxDepth, _ = f.GetInt("max-depth")
	if asJSON, _ := f.GetBool("json"); asJSON {
		req.Format = invoke.FormatJSON
	}

	res := rt.invoker().Invoke(ctx, req)
	if res.Err != nil {
		rt.logger.Warn("invocation error", "error", res.Err)
		fmt.Fprintln(cmd.ErrOrStderr(), res.Err)
	}

	out := cmd.OutOrStdout()
	switch {
	case req.Format == invoke.FormatJSON && res.Structured != nil:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Structured.Raw); err != nil {
			return err
		}
	case res.Output != "":
		fmt.Fprintln(out, strings.TrimRight(res.Output, "\n"))
	}
	return codeError(res.Code)
}
