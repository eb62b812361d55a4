package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/conductor/internal/circuit"
	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/invoke"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/manifest"
	"github.com/Iron-Ham/conductor/internal/pipeline"
	"github.com/Iron-Ham/conductor/internal/session"
)

// invocationsDir holds raw structured worker output inside a session.
const invocationsDir = "invocations"

// runtime bundles what every layer command needs: configuration, the
// session, its logger and the progress bus.
type runtime struct {
	cfg     *config.Config
	session *session.Session
	logger  *logging.Logger
	bus     *event.Bus
}

// newRuntime loads configuration and opens the session named by --session,
// creating a fresh one under the sessions directory when none is given.
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dir := viper.GetString("session")
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = filepath.Join(cfg.Paths.ResolveSessionsDir(cwd), newSessionID())
	}
	sess, err := session.Create(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLoggerWithRotation(sess.Dir, cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	logger = logger.WithSession(filepath.Base(sess.Dir)).WithTrace(sess.TraceID)

	rt := &runtime{
		cfg:     cfg,
		session: sess,
		logger:  logger,
		bus:     event.NewBus(logger),
	}
	if !viper.GetBool("quiet") {
		subscribeProgress(rt.bus, cmd.ErrOrStderr())
	}
	return rt, nil
}

func (rt *runtime) Close() {
	_ = rt.logger.Close()
}

func newSessionID() string {
	return time.Now().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// invoker builds the invocation primitive with the session's breaker.
func (rt *runtime) invoker() *invoke.Invoker {
	w := rt.cfg.Worker
	breaker := circuit.New(rt.session.Dir, rt.cfg.Circuit, circuit.WithLogger(rt.logger))
	return invoke.New(invoke.Config{
		Command:      w.Command,
		ExtraArgs:    w.ExtraArgs,
		Models:       invoke.ModelsFromConfig(w.Models),
		AllowedTools: w.AllowedTools,
		MaxDepth:     rt.cfg.Depth.Max,
		Timeout:      w.Timeout,
		ArtifactDir:  rt.session.Path(session.DirReports, invocationsDir),
		TraceID:      rt.session.TraceID,
	},
		invoke.WithBreaker(breaker),
		invoke.WithBus(rt.bus),
		invoke.WithLogger(rt.logger),
	)
}

// definitions returns the built-in pipelines merged with paths.pipelines.
func (rt *runtime) definitions() (*pipeline.Definitions, error) {
	defs, err := pipeline.Load(rt.cfg.Paths.Pipelines)
	if err != nil {
		return nil, err
	}
	if err := defs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline definitions: %w", err)
	}
	return defs, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM. The
// cancellation surfaces as the interrupted code.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ossignal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// resolveDepth applies the --depth flag, falling back to the inherited
// CONDUCTOR_DEPTH.
func resolveDepth(ctx context.Context, cmd *cobra.Command) int {
	d, _ := cmd.Flags().GetInt("depth")
	return invoke.ResolveDepth(ctx, d)
}

func addDepthFlag(cmd *cobra.Command) {
	cmd.Flags().Int("depth", invoke.DepthUnset, "caller depth (default: inherited from "+invoke.EnvDepth+")")
}

// finish prints the manifest and turns code into the command's error.
func finish(w io.Writer, code exitcode.Code, m *manifest.Manifest) error {
	if m != nil {
		if err := m.Write(w); err != nil {
			return err
		}
	}
	return codeError(code)
}

// codeError is nil for success and an *ExitError otherwise.
func codeError(code exitcode.Code) error {
	if code == exitcode.Success || code == "" {
		return nil
	}
	return &ExitError{Code: code}
}
