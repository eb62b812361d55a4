package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Iron-Ham/conductor/internal/campaign"
	"github.com/Iron-Ham/conductor/internal/checkpoint"
	"github.com/Iron-Ham/conductor/internal/circuit"
	"github.com/Iron-Ham/conductor/internal/config"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/signal"
	"github.com/Iron-Ham/conductor/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Long: `Display the campaign state, latest checkpoint, signal counts, failures
and circuit states of the session given by --session.

Without --session, lists the sessions under paths.sessions_dir.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("json", false, "print the report as JSON")
}

// statusReport is everything status knows about one session.
type statusReport struct {
	Session    string                    `json:"session"`
	TraceID    string                    `json:"trace_id,omitempty"`
	LockedBy   int                       `json:"locked_by,omitempty"`
	Campaign   session.Record            `json:"campaign,omitempty"`
	Checkpoint *checkpoint.Checkpoint    `json:"checkpoint,omitempty"`
	Done       int                       `json:"signals_done"`
	Failed     int                       `json:"signals_failed"`
	TotalSize  int64                     `json:"artifact_bytes"`
	Failures   []signal.Failure          `json:"failures,omitempty"`
	Circuits   map[string]circuit.Record `json:"circuits,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	if viper.GetString("session") == "" {
		return listSessions(out, asJSON)
	}
	sess, err := existingSession()
	if err != nil {
		return err
	}
	report, err := collectStatus(cmd.Context(), sess)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	renderStatus(out, report, terminalWidth(out))
	return nil
}

func collectStatus(ctx context.Context, sess *session.Session) (*statusReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &statusReport{Session: sess.Dir, TraceID: sess.TraceID}
	if lock, held := session.IsLocked(sess.Dir); held && lock != nil {
		r.LockedBy = lock.PID
	}
	if rec, err := campaign.ReadState(sess); err == nil && len(rec) > 0 {
		r.Campaign = rec
	}
	if cp, _, err := checkpoint.Latest(sess.CheckpointsDir()); err == nil {
		r.Checkpoint = cp
	}

	store := signal.NewStore(sess.Dir, nil)
	var err error
	if r.Done, r.Failed, err = store.Counts("*"); err != nil {
		return nil, err
	}
	if r.TotalSize, err = store.TotalSize(); err != nil {
		return nil, err
	}
	if r.Failures, err = store.ListFailures(); err != nil {
		return nil, err
	}

	cfg := config.Get()
	b := circuit.New(sess.Dir, cfg.Circuit)
	agents, err := b.AgentTypes()
	if err != nil {
		return nil, err
	}
	if len(agents) > 0 {
		r.Circuits = make(map[string]circuit.Record, len(agents))
		for _, a := range agents {
			if rec, err := b.Get(ctx, a); err == nil {
				r.Circuits[a] = rec
			}
		}
	}
	return r, nil
}

// terminalWidth returns the width of w when it is a terminal, else 0.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func renderStatus(w io.Writer, r *statusReport, width int) {
	st := newStyles(w)
	var b strings.Builder
	line := func(label, value string) {
		row := st.Label.Render(label) + value
		if width > 0 {
			row = util.TruncateANSI(row, width)
		}
		b.WriteString(row + "\n")
	}

	b.WriteString(st.Title.Render("Session") + "\n")
	line("Dir", r.Session)
	line("Trace", r.TraceID)
	if r.LockedBy > 0 {
		line("Controller", fmt.Sprintf("pid %d", r.LockedBy))
	}

	if r.Campaign != nil {
		b.WriteString("\n" + st.Title.Render("Campaign") + "\n")
		line("State", r.Campaign[campaign.KeyState])
		line("Topic", r.Campaign[campaign.KeyTopic])
		line("Round", r.Campaign[campaign.KeyResearchRound])
		line("Heal cycle", r.Campaign[campaign.KeyHealCycle])
		if plan := r.Campaign[campaign.KeyPlan]; plan != "" {
			line("Plan", plan)
		}
		line("Outcome", st.code(exitcode.Code(r.Campaign[campaign.KeyOutcome])))
	}

	if cp := r.Checkpoint; cp != nil {
		b.WriteString("\n" + st.Title.Render("Checkpoint") + "\n")
		line("State", cp.StateName)
		line("Completed", strings.Join(cp.CompletedPhases, ", "))
		line("Pending", strings.Join(cp.PendingPhases, ", "))
		if len(cp.FailedPhases) > 0 {
			line("Failed", st.Error.Render(strings.Join(cp.FailedPhases, ", ")))
		}
		line("Depth", fmt.Sprintf("%d/%d", cp.DepthUsed, cp.DepthMax))
		line("Written", cp.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	b.WriteString("\n" + st.Title.Render("Signals") + "\n")
	line("Done", st.Success.Render(fmt.Sprint(r.Done)))
	failed := fmt.Sprint(r.Failed)
	if r.Failed > 0 {
		failed = st.Error.Render(failed)
	}
	line("Failed", failed)
	line("Artifacts", fmt.Sprintf("%d bytes", r.TotalSize))
	for _, f := range r.Failures {
		msg := f.Error
		if msg == "" {
			msg = st.Muted.Render("(no error recorded)")
		}
		line("  "+f.Signal, msg)
	}

	if len(r.Circuits) > 0 {
		b.WriteString("\n" + st.Title.Render("Circuits") + "\n")
		for _, agent := range slices.Sorted(maps.Keys(r.Circuits)) {
			rec := r.Circuits[agent]
			state := string(rec.State)
			switch rec.State {
			case circuit.StateOpen:
				state = st.Error.Render(state)
			case circuit.StateHalfOpen:
				state = st.Warning.Render(state)
			default:
				state = st.Success.Render(state)
			}
			line(agent, fmt.Sprintf("%s (failures: %d)", state, rec.FailureCount))
		}
	}

	fmt.Fprint(w, st.Box.Render(strings.TrimRight(b.String(), "\n"))+"\n")
}

func listSessions(w io.Writer, asJSON bool) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	root := config.Get().Paths.ResolveSessionsDir(cwd)
	infos, err := session.ListSessionsIn(root)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintf(w, "No sessions in %s\n", root)
		return nil
	}

	st := newStyles(w)
	for _, info := range infos {
		state := info.State
		if state == "" {
			state = "-"
		}
		lock := ""
		if info.IsLocked {
			lock = st.Warning.Render(" (running)")
		}
		fmt.Fprintf(w, "%s  %s  %s%s\n",
			st.Title.Render(info.ID),
			state,
			st.code(exitcode.Code(info.Outcome)),
			lock,
		)
	}
	return nil
}
