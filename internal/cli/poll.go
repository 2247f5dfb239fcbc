package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/session"
	"github.com/ppiankov/dxmap/internal/supervisor"
	"github.com/spf13/cobra"
)

// pollCmd represents the poll command
var pollCmd = &cobra.Command{
	Use:   "poll [url]",
	Short: "Poll a spot web page instead of connecting to a cluster",
	Long: `Poll fetches a web page that lists spots inside a <pre> block on a fixed
interval and feeds every new row through the same parser, lookup and display
as a cluster connection. robots.txt is honoured unless disabled.

Example:
  dxmap poll https://spots.example.org/dx.html --interval 30s`,
	Args: cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, pollFlagKeys)
	},
	RunE: runPoll,
}

var pollFlagKeys = map[string]string{
	"interval":       "html.interval",
	"respect-robots": "html.respect_robots",
	"max":            "display.max_spots",
	"metrics":        "metrics.listen",
	"mqtt":           "mqtt.broker",
}

func init() {
	rootCmd.AddCommand(pollCmd)

	f := pollCmd.Flags()
	f.Duration("interval", 60*time.Second, "time between fetches")
	f.Bool("respect-robots", true, "honour robots.txt")
	addCommonFlags(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.HTML.URL = args[0]
	}
	if cfg.HTML.URL == "" {
		return errors.New("no spot page; pass a URL or set html.url")
	}

	a, err := newApp(cfg, offline)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	poller := session.NewPoller(session.PollerConfig{
		URL:           cfg.HTML.URL,
		Interval:      cfg.HTML.Interval,
		RespectRobots: cfg.HTML.RespectRobots,
		HTTP:          cfg.HTTP,
		RateLimit:     cfg.RateLimiting,
	}, a.pipe.HandleEvent)

	tree := supervisor.New(logging.Component("supervisor"), supervisor.Config{})
	tree.AddIngest(supervisor.Func("poller", poller.Run))
	if err := a.supervise(tree, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
		return err
	}

	console := NewConsole(a.pipe, nil, cmd.ErrOrStderr(), cancel)
	go func() { _ = console.Run(ctx, cmd.InOrStdin()) }()

	logging.Info().Str("url", cfg.HTML.URL).Dur("interval", cfg.HTML.Interval).Msg("polling")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
