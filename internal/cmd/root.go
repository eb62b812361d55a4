package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/exitcode"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Layered orchestrator for LLM worker processes",
	Long: `Conductor drives external LLM worker processes through nested layers:
stage pipelines, parallel fan-out, dependency-ordered phases and a
resumable campaign state machine.

Every layer communicates through files in a session directory and exits
with a fixed status per outcome, so a conductor can itself run as a worker
of another.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries a layer outcome to the process exit status.
type ExitError struct {
	Code exitcode.Code
}

func (e *ExitError) Error() string {
	return "finished with " + string(e.Code)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExitStatus maps the error returned by Execute to a process exit status.
// Errors that do not carry a code are printed and exit as failure.
func ExitStatus(err error) int {
	if err == nil {
		return exitcode.Success.ExitStatus()
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code.ExitStatus()
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitcode.Failure.ExitStatus()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/conductor/config.yaml)")
	rootCmd.PersistentFlags().StringP("session", "s", "", "session directory (default: a new session under paths.sessions_dir)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output on stderr")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("session", rootCmd.PersistentFlags().Lookup("session"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/conductor")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CONDUCTOR")
	// e.g. CONDUCTOR_FANOUT_CONCURRENCY for fanout.concurrency
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
