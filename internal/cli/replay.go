package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/ppiankov/dxmap/internal/display"
	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/model"
	"github.com/ppiankov/dxmap/internal/parse"
	"github.com/ppiankov/dxmap/internal/session"
	"github.com/ppiankov/dxmap/internal/worker"
	"github.com/spf13/cobra"
)

var (
	replayJSON   bool
	replayOnline bool
	replayWait   time.Duration
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay <file|->",
	Short: "Feed a captured cluster log through the pipeline and print the result",
	Long: `Replay reads cluster output from a file (or stdin with "-"), runs every line
through the parser, the lookups, the filters and the display exactly as a
live session would, and prints the displayed spots. Blank lines and lines
starting with # are skipped. Lookups use the built-in prefix table unless
--online is given.

Example:
  dxmap replay session.log
  dxmap replay session.log --json > spots.json`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print the display snapshot as JSON")
	replayCmd.Flags().BoolVar(&replayOnline, "online", false, "use the configured lookup service")
	replayCmd.Flags().DurationVar(&replayWait, "wait", 30*time.Second, "how long to wait for outstanding lookups")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lines, err := worker.ReadLinesFromFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	a, err := newApp(cfg, !replayOnline)
	if err != nil {
		return err
	}
	defer a.close()

	snap, err := replay(cmd.Context(), a, lines, replayWait)
	if err != nil {
		return err
	}
	return printSnapshot(cmd.OutOrStdout(), snap, replayJSON)
}

// replay runs lines through the app and returns the final display state
func replay(ctx context.Context, a *app, lines []string, wait time.Duration) (*display.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = a.pipe.Run(ctx) }()

	for _, line := range lines {
		ev := session.Classify(line, session.StateLoggedIn, a.cfg.Station.Callsign)
		if strings.HasPrefix(line, parse.HTMLMarker) {
			ev.Source = model.SourceHTML
		}
		a.pipe.HandleEvent(ev)
	}

	deadline := time.Now().Add(wait)
	for !a.engine.Drained() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	if n := a.engine.Pending(); n > 0 {
		logging.Warn().Int("pending", n).Msg("lookups still outstanding; printing what completed")
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 5*time.Second)
	defer flushCancel()
	if err := a.pipe.Flush(flushCtx); err != nil {
		return nil, fmt.Errorf("flush pipeline: %w", err)
	}
	return a.pipe.Snapshot(), nil
}

func printSnapshot(w io.Writer, snap *display.Snapshot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	shown := 0
	for _, v := range snap.Spots {
		if !v.Visible {
			continue
		}
		rec := v.Record
		fmt.Fprintln(w, FormatSpot(&rec))
		shown++
	}
	fmt.Fprintf(w, "\n%d spots shown, %d suppressed, %d lines, %d pins\n",
		shown, len(snap.Spots)-shown, len(snap.Lines), len(snap.Pins))
	return nil
}
