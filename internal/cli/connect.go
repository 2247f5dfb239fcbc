package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/session"
	"github.com/ppiankov/dxmap/internal/supervisor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thejerf/suture/v4"
)

var (
	offline   bool
	noConsole bool
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [host:port]",
	Short: "Connect to a DX cluster and show spots as they arrive",
	Long: `Connect logs in to a DX cluster over telnet with the configured station
identity, parses every spot, resolves both stations and prints the spots that
pass the filters. The connection is re-established after failures and after
long quiet periods.

Type /help for console commands. Anything not starting with "/" is sent to
the cluster.

Example:
  dxmap connect dxc.example.org:7300 --call W1AW
  DXMAP_STATION_CALLSIGN=W1AW dxmap connect --addr dxc.example.org:7300 --mqtt tcp://localhost:1883`,
	Args: cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, connectFlagKeys)
	},
	RunE: runConnect,
}

// connectFlagKeys maps flags to config keys. Flags are bound when the command
// runs because connect and poll share flag names.
var connectFlagKeys = map[string]string{
	"call":    "station.callsign",
	"addr":    "cluster.address",
	"tls":     "cluster.tls",
	"ft8":     "cluster.ft8",
	"prefill": "cluster.prefill",
	"max":     "display.max_spots",
	"metrics": "metrics.listen",
	"mqtt":    "mqtt.broker",
}

func init() {
	rootCmd.AddCommand(connectCmd)

	f := connectCmd.Flags()
	f.String("call", "", "station callsign used to log in")
	f.String("addr", "", "cluster address (host:port)")
	f.Bool("tls", false, "connect with TLS")
	f.Bool("ft8", false, "request FT8 spots after login")
	f.Int("prefill", 50, "request the last N spots after login (0, 20 or 50)")
	addCommonFlags(connectCmd)
	f.BoolVar(&noConsole, "no-console", false, "do not read commands from stdin")
}

// addCommonFlags registers the flags shared by connect and poll
func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("max", 100, "maximum spots kept on display")
	f.String("metrics", "", "serve Prometheus metrics on this address (e.g. :9108)")
	f.String("mqtt", "", "publish display changes to this MQTT broker (e.g. tcp://localhost:1883)")
	f.BoolVar(&offline, "offline", false, "resolve callsigns from the built-in prefix table only")
}

func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	return nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Cluster.Address = args[0]
	}
	if cfg.Cluster.Address == "" {
		return errors.New("no cluster address; pass host:port or set cluster.address")
	}
	if cfg.Station.Callsign == "" {
		return session.ErrMissingIdentity
	}

	a, err := newApp(cfg, offline)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess := session.New(session.ConfigFromModel(cfg.Cluster, cfg.Station), a.pipe.HandleEvent)

	tree := supervisor.New(logging.Component("supervisor"), supervisor.Config{})
	var (
		fatalMu sync.Mutex
		fatal   error
	)
	tree.AddIngest(supervisor.Func("session", func(ctx context.Context) error {
		err := sess.Run(ctx)
		switch {
		case err != nil:
			fatalMu.Lock()
			fatal = err
			fatalMu.Unlock()
			return fmt.Errorf("%w: %w", suture.ErrTerminateSupervisorTree, err)
		case ctx.Err() != nil:
			return nil
		default:
			// Disconnected on request
			cancel()
			return suture.ErrDoNotRestart
		}
	}))
	if err := a.supervise(tree, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
		return err
	}

	if !noConsole {
		console := NewConsole(a.pipe, sess, cmd.ErrOrStderr(), cancel)
		go func() {
			if err := console.Run(ctx, cmd.InOrStdin()); err != nil {
				logging.Warn().Err(err).Msg("console input closed")
			}
		}()
	}

	logging.Info().Str("addr", cfg.Cluster.Address).Str("call", cfg.Station.Callsign).Msg("starting")
	err = tree.Serve(ctx)

	fatalMu.Lock()
	defer fatalMu.Unlock()
	if fatal != nil {
		return fatal
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
