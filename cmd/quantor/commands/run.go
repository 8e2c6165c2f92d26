package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quantor/quantor/cmd/quantor/internal/bind"
	"github.com/quantor/quantor/pkg/config"
	"github.com/quantor/quantor/pkg/coordinator"
	"github.com/quantor/quantor/pkg/jobkind"
	"github.com/quantor/quantor/pkg/supervisor"
	"github.com/quantor/quantor/pkg/task"
)

// RunCmd defines the 'run' command: a one-shot foreground job run.
var RunCmd = &cobra.Command{
	Use:   "run <kind>",
	Short: "Run a job of the given kind in the foreground and wait for it",
	Long: `Spawns the configured worker for the kind, streams its progress and
blocks until the job reaches a terminal state. Interrupting the command
kills the worker and records the job as cancelled.`,
	GroupID: "jobs",
	Args:    cobra.ExactArgs(1),
	RunE:    runRunCommand,
}

func runRunCommand(cmd *cobra.Command, args []string) error {
	opts, err := bind.BindRunOptions(cmd, args[0])
	if err != nil {
		return err
	}

	manager, ok := config.ManagerFrom(cmd.Context())
	if !ok {
		return fmt.Errorf("configuration missing from context")
	}
	cfg := manager.Get()

	kinds, err := jobkind.NewRegistry(cfg.Jobs.Kinds)
	if err != nil {
		return fmt.Errorf("job kinds: %w", err)
	}

	logger := log.With().Str("command", "run").Logger()
	store := task.NewStore(cfg.Jobs.LogCapacity)

	sup := supervisor.NewSupervisor(store)
	if opts.Progress {
		sup = sup.WithSink(&progressLogger{logger: logger})
	}
	coord := coordinator.NewCoordinator(kinds, store, sup)
	if cfg.Jobs.LockFile != "" {
		coord = coord.WithSlotLock(coordinator.NewSlotLock(cfg.Jobs.LockFile))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("kind", opts.Kind).Msg("Starting foreground job")
	accepted, err := coord.TryStart(ctx, opts.Kind, localOwner(), opts.JobID, opts.Params)
	if err != nil {
		return err
	}
	coord.Wait()

	snap, ok := store.Snapshot(accepted.JobID)
	if !ok {
		return fmt.Errorf("job %s left no record", accepted.JobID)
	}

	if err := renderRunOutput(cmd, opts.OutputFormat, snap); err != nil {
		return err
	}
	if snap.State != task.StateCompleted {
		if snap.Error != "" {
			return fmt.Errorf("job %s: %s", snap.State, snap.Error)
		}
		return fmt.Errorf("job %s", snap.State)
	}
	return nil
}

// localOwner identifies the job owner for CLI runs.
func localOwner() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

// Lipgloss styles for the text report
var (
	jobHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("105")). // Purple
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Light gray

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")). // Green
			Bold(true)

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")). // Red
			Bold(true)

	cancelledStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")). // Yellow
			Bold(true)
)

func stateStyle(state task.State) lipgloss.Style {
	switch state {
	case task.StateCompleted:
		return completedStyle
	case task.StateFailed:
		return failedStyle
	default:
		return cancelledStyle
	}
}

func renderRunOutput(cmd *cobra.Command, format string, snap task.Snapshot) error {
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Fprint(out, string(data))
	default:
		renderText(out, snap)
	}
	return nil
}

func renderText(out io.Writer, snap task.Snapshot) {
	fmt.Fprintln(out, jobHeaderStyle.Render("## Job "+snap.ID))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(label, value string) {
		fmt.Fprintf(w, "%s\t%s\n", labelStyle.Render(label), value)
	}
	row("Kind", snap.Kind)
	row("State", stateStyle(snap.State).Render(string(snap.State)))
	row("Progress", fmt.Sprintf("%.1f%%", snap.Progress))
	if !snap.EndedAt.IsZero() {
		row("Duration", snap.EndedAt.Sub(snap.StartedAt).Round(10*time.Millisecond).String())
	}
	names := make([]string, 0, len(snap.Metrics))
	for name := range snap.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		row(name, strconv.FormatInt(snap.Metrics[name], 10))
	}
	if snap.Error != "" {
		row("Error", failedStyle.Render(snap.Error))
	}
	_ = w.Flush()

	if len(snap.Result) > 0 {
		if data, err := json.MarshalIndent(snap.Result, "", "  "); err == nil {
			fmt.Fprintf(out, "%s\n%s\n", labelStyle.Render("Result"), data)
		}
	}
}

func init() {
	RunCmd.Flags().String("job-id", "", "Pin the job id instead of generating one")
	RunCmd.Flags().StringToString("param", map[string]string{}, "Extra worker flags as key=value (repeatable)")
	RunCmd.Flags().StringP("output", "o", "text", "Output format: text, json, yaml")
	RunCmd.Flags().Bool("progress", false, "Print live progress updates during the run")
}

// progressLogger logs every status update the supervisor reports.
type progressLogger struct {
	logger zerolog.Logger
}

func (p *progressLogger) OnStatus(snap task.Snapshot) {
	p.logger.Info().
		Str("job_id", snap.ID).
		Str("state", string(snap.State)).
		Float64("progress", snap.Progress).
		Msg("job progress")
}
