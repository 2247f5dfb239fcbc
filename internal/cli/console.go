package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ppiankov/dxmap/internal/display"
	"github.com/ppiankov/dxmap/internal/model"
	"github.com/ppiankov/dxmap/internal/session"
)

var (
	errNoSession  = errors.New("no cluster session (poll and replay are read-only)")
	errBadCommand = errors.New("bad command")
)

// Controller is the pipeline surface the console drives
type Controller interface {
	SetBandFilter(b model.Band, on bool) error
	SetCallFilter(call string, exact bool) error
	SetDigitalFilter(on bool) error
	SetHighlights(list []string) error
	SetCapacity(max int) error
	Clear() error
	Snapshot() *display.Snapshot
}

// Sender is the cluster session surface the console drives
type Sender interface {
	Send(cmd string) error
	SendNamed(name string) error
	Connect(addr string) error
	Disconnect()
}

// Console interprets operator input. Lines starting with "/" are local
// commands; anything else is sent to the cluster verbatim.
type Console struct {
	ctl    Controller
	sender Sender // nil without a session
	out    io.Writer
	quit   func()
}

// NewConsole creates a console. sender may be nil.
func NewConsole(ctl Controller, sender Sender, out io.Writer, quit func()) *Console {
	if quit == nil {
		quit = func() {}
	}
	return &Console{ctl: ctl, sender: sender, out: out, quit: quit}
}

const consoleHelp = `/band <band|all> on|off   suppress or restore a band
/call [prefixes]          show only DX starting with one of the prefixes
/exact <call>             show only DX starting with exactly this text
/digital on|off           show only digital sub-bands
/hl [calls]               highlight calls (PREFIX* matches a prefix)
/max <n>                  keep at most n spots
/clear                    remove every spot
/list                     print the displayed spots
/send <name>              send a named command (` + "%s" + `)
/connect <host:port>      switch to another cluster
/quit, /disconnect        disconnect and exit
anything else is sent to the cluster`

// Run reads commands from in until ctx ends or input is exhausted
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.Exec(sc.Text()); err != nil {
			fmt.Fprintf(c.out, "! %v\n", err)
		}
	}
	return sc.Err()
}

// Exec runs one line of input
func (c *Console) Exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if c.sender == nil {
			return errNoSession
		}
		return c.sender.Send(line)
	}

	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch cmd {
	case "/band":
		if len(args) != 2 {
			return fmt.Errorf("%w: usage /band <band|all> on|off", errBadCommand)
		}
		b, ok := model.ParseBand(args[0])
		if !ok {
			return fmt.Errorf("%w: unknown band %q", errBadCommand, args[0])
		}
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		return c.ctl.SetBandFilter(b, on)
	case "/call":
		return c.ctl.SetCallFilter(rest, false)
	case "/exact":
		if rest == "" {
			return fmt.Errorf("%w: usage /exact <call>", errBadCommand)
		}
		return c.ctl.SetCallFilter(rest, true)
	case "/digital":
		if len(args) != 1 {
			return fmt.Errorf("%w: usage /digital on|off", errBadCommand)
		}
		on, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return c.ctl.SetDigitalFilter(on)
	case "/hl":
		return c.ctl.SetHighlights(args)
	case "/max":
		if len(args) != 1 {
			return fmt.Errorf("%w: usage /max <n>", errBadCommand)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", errBadCommand, args[0])
		}
		return c.ctl.SetCapacity(n)
	case "/clear":
		return c.ctl.Clear()
	case "/list":
		c.list()
		return nil
	case "/send":
		if c.sender == nil {
			return errNoSession
		}
		if len(args) != 1 {
			return fmt.Errorf("%w: usage /send <name>", errBadCommand)
		}
		return c.sender.SendNamed(args[0])
	case "/connect":
		if c.sender == nil {
			return errNoSession
		}
		if len(args) != 1 {
			return fmt.Errorf("%w: usage /connect <host:port>", errBadCommand)
		}
		return c.sender.Connect(args[0])
	case "/quit", "/bye", "/disconnect":
		if c.sender != nil {
			c.sender.Disconnect()
		}
		c.quit()
		return nil
	case "/help", "/?":
		fmt.Fprintf(c.out, consoleHelp+"\n", strings.Join(session.CommandNames(), ", "))
		return nil
	default:
		return fmt.Errorf("%w: %s (try /help)", errBadCommand, cmd)
	}
}

func (c *Console) list() {
	snap := c.ctl.Snapshot()
	shown := 0
	for _, v := range snap.Spots {
		if !v.Visible {
			continue
		}
		rec := v.Record
		fmt.Fprintln(c.out, FormatSpot(&rec))
		shown++
	}
	fmt.Fprintf(c.out, "%d shown, %d suppressed, %d lines, %d pins\n",
		shown, len(snap.Spots)-shown, len(snap.Lines), len(snap.Pins))
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected on or off, got %q", errBadCommand, s)
}
