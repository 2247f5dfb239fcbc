// Package session owns one connection to a DX cluster. It classifies incoming
// lines, drives the login dialogue and keeps the connection alive, handing
// every classified line to a Handler.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/model"
	"github.com/rs/zerolog"
)

// KeepAliveCommand is a harmless command that makes the cluster answer
const KeepAliveCommand = "show/time"

const defaultCheckInterval = 30 * time.Second

// Dialer opens the transport connection
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config controls one session
type Config struct {
	Address        string
	TLS            bool
	DialTimeout    time.Duration
	WriteTimeout   time.Duration // Bounds each outbound command
	ReconnectDelay time.Duration
	KeepAliveAfter time.Duration
	ReconnectAfter time.Duration
	CheckInterval  time.Duration // How often staleness is evaluated
	Station        model.StationConfig
	FT8            bool
	Prefill        int
}

// ConfigFromModel converts the cluster section of the app config
func ConfigFromModel(c model.ClusterConfig, st model.StationConfig) Config {
	return Config{
		Address:        c.Address,
		TLS:            c.TLS,
		DialTimeout:    c.DialTimeout,
		ReconnectDelay: c.ReconnectDelay,
		KeepAliveAfter: c.KeepAliveAfter,
		ReconnectAfter: c.ReconnectAfter,
		Station:        st,
		FT8:            c.FT8,
		Prefill:        c.Prefill,
	}
}

// Session is one telnet connection with automatic reconnect
type Session struct {
	cfg     Config
	dialer  Dialer
	handler Handler
	log     zerolog.Logger
	now     func() time.Time

	mu            sync.Mutex
	addr          string
	retarget      bool
	state         State
	step          CredentialStep
	dialect       Dialect
	conn          net.Conn
	connID        string
	lastSpot      time.Time
	keepAliveSent bool
	dropReason    error
	dropConn      context.CancelFunc
	stop          context.CancelFunc

	writeMu sync.Mutex
}

// New creates a session. handler may be nil.
func New(cfg Config, handler Handler) *Session {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 10 * time.Second
	}
	if cfg.KeepAliveAfter <= 0 {
		cfg.KeepAliveAfter = 5 * time.Minute
	}
	if cfg.ReconnectAfter <= 0 {
		cfg.ReconnectAfter = 15 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if handler == nil {
		handler = func(Event) {}
	}

	var dialer Dialer = &net.Dialer{Timeout: cfg.DialTimeout}
	if cfg.TLS {
		dialer = &tls.Dialer{NetDialer: &net.Dialer{Timeout: cfg.DialTimeout}}
	}

	return &Session{
		cfg:     cfg,
		addr:    cfg.Address,
		dialer:  dialer,
		handler: handler,
		log:     logging.Component("session"),
		now:     time.Now,
	}
}

// SetDialer replaces the transport dialer
func (s *Session) SetDialer(d Dialer) {
	s.dialer = d
}

// State returns the current state machine position
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dialect returns the cluster dialect detected so far
func (s *Session) Dialect() Dialect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialect
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("session state")
	}
}

// Run connects and keeps reconnecting until ctx is cancelled, Disconnect is
// called, or a fatal error occurs.
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.Station.Callsign == "" {
		s.status(ErrMissingIdentity.Error(), ErrMissingIdentity)
		return &TransportError{Op: "connect", Class: Fatal, Err: ErrMissingIdentity}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()

	for {
		err := s.runOnce(runCtx)
		if runCtx.Err() != nil {
			s.setState(StateDisconnected)
			return nil
		}

		s.mu.Lock()
		retarget := s.retarget
		s.retarget = false
		s.mu.Unlock()
		if retarget {
			continue
		}

		terr := wrapTransport("session", err)
		if ClassifyError(terr) == Fatal {
			s.setState(StateDisconnected)
			s.status(fmt.Sprintf("connection to %s abandoned: %v", s.Address(), err), terr)
			return terr
		}

		s.setState(StateAwaitingReconnect)
		s.emit(Event{Kind: EventConnectionLost, Line: fmt.Sprintf("connection to %s lost: %v; retrying in %s", s.Address(), err, s.cfg.ReconnectDelay), Err: terr})

		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-runCtx.Done():
			timer.Stop()
			s.setState(StateDisconnected)
			return nil
		case <-timer.C:
		}
	}
}

// runOnce dials, reads until the connection ends, and returns why it ended
func (s *Session) runOnce(ctx context.Context) error {
	connCtx, drop := context.WithCancel(ctx)
	defer drop()
	defer func() {
		s.mu.Lock()
		s.dropConn = nil
		s.mu.Unlock()
	}()

	id := uuid.NewString()
	s.mu.Lock()
	s.state = StateConnecting
	s.step = StepNone
	s.dialect = DialectUnknown
	s.connID = id
	addr := s.addr
	s.dropReason = nil
	s.dropConn = drop
	s.mu.Unlock()

	log := s.log.With().Str("conn", id).Str("addr", addr).Logger()
	log.Info().Msg("connecting")
	s.status(fmt.Sprintf("connecting to %s", addr), nil)

	conn, err := s.dialer.DialContext(connCtx, "tcp", addr)
	if err != nil {
		log.Warn().Err(err).Msg("dial failed")
		return wrapTransport("dial", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.lastSpot = s.now()
	s.keepAliveSent = false
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer wg.Done()
		s.watchdog(connCtx)
	}()
	defer wg.Wait()
	defer drop()

	log.Info().Msg("connected")

	reader := newLineReader(func(partial string) bool {
		return isPrompt(Classify(partial, s.State(), s.cfg.Station.Callsign))
	})
	buf := make([]byte, 4096)
	for {
		n, rerr := conn.Read(buf)
		for _, line := range reader.Feed(buf[:n]) {
			s.handleLine(line)
		}
		if rerr != nil {
			s.mu.Lock()
			reason := s.dropReason
			s.mu.Unlock()
			if reason != nil {
				return wrapTransport("read", reason)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Info().Err(rerr).Msg("connection closed")
			return wrapTransport("read", rerr)
		}
	}
}

// handleLine classifies one line and advances the login dialogue
func (s *Session) handleLine(line string) {
	ev := Classify(line, s.State(), s.cfg.Station.Callsign)

	switch ev.Kind {
	case EventLoginPrompt:
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateAwaitingLogin
		}
		s.mu.Unlock()
		s.answer(StepCallsign)
	case EventCallsignRequested:
		s.answer(StepCallsign)
	case EventNameRequested:
		s.answer(StepName)
	case EventLocationRequested:
		s.answer(StepQTH)
	case EventGridRequested:
		s.answer(StepGrid)
	case EventConfirmRequested:
		s.write("Y")
	case EventLoggedIn:
		s.loggedIn(ev.Dialect)
	case EventClusterBanner:
		s.mu.Lock()
		s.dialect = ev.Dialect
		s.mu.Unlock()
		s.log.Info().Str("dialect", ev.Dialect.String()).Msg("cluster dialect detected")
	case EventSpotLine, EventMultiSpotLine:
		s.MarkSpot()
	}

	s.emit(ev)
}

// answer submits the credential for step, enforcing callsign, name, qth, grid order
func (s *Session) answer(step CredentialStep) {
	s.mu.Lock()
	last := s.step
	if (step > StepCallsign && last == StepNone) || step < last {
		s.mu.Unlock()
		s.status(fmt.Sprintf("cluster asked for %s after %s; answer it manually", step, last),
			fmt.Errorf("%w: %s requested after %s", ErrInvalidSessionState, step, last))
		return
	}

	value := s.credential(step)
	if value == "" {
		s.mu.Unlock()
		s.status(fmt.Sprintf("cluster asked for %s but none is configured (station.%s)", step, step),
			fmt.Errorf("%w: %s not configured", ErrInvalidSessionState, step))
		return
	}

	s.step = step
	if s.state != StateLoggedIn {
		s.state = StateAwaitingCredentials
	}
	s.mu.Unlock()

	s.write(value)
}

func (s *Session) credential(step CredentialStep) string {
	st := s.cfg.Station
	switch step {
	case StepCallsign:
		return st.Callsign
	case StepName:
		return st.Name
	case StepQTH:
		return st.QTH
	case StepGrid:
		return st.Grid
	}
	return ""
}

// loggedIn enters StateLoggedIn once per connection and sends the post-login commands
func (s *Session) loggedIn(d Dialect) {
	s.mu.Lock()
	if s.state == StateLoggedIn {
		s.mu.Unlock()
		return
	}
	s.state = StateLoggedIn
	if d != DialectUnknown {
		s.dialect = d
	}
	s.lastSpot = s.now()
	s.mu.Unlock()

	s.log.Info().Str("dialect", s.Dialect().String()).Msg("logged in")

	if s.cfg.FT8 {
		s.write("set/ft8")
	}
	if s.cfg.Prefill > 0 {
		s.write(fmt.Sprintf("show dx/%d", s.cfg.Prefill))
	}
}

// MarkSpot re-arms the staleness timers
func (s *Session) MarkSpot() {
	s.mu.Lock()
	s.lastSpot = s.now()
	s.keepAliveSent = false
	s.mu.Unlock()
}

// Send writes a command to the cluster
func (s *Session) Send(cmd string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return wrapTransport("write", err)
	}
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		return wrapTransport("write", err)
	}
	return nil
}

// write sends a command on the session's own behalf. A peer that stops
// reading gets the connection dropped so Run can dial again.
func (s *Session) write(cmd string) {
	err := s.Send(cmd)
	if err == nil || errors.Is(err, ErrNotConnected) {
		return
	}
	s.log.Warn().Err(err).Str("cmd", cmd).Msg("send failed")
	s.Reconnect(err)
}

// SendNamed sends one of the named outbound commands
func (s *Session) SendNamed(name string) error {
	cmd, err := NamedCommand(name, s.cfg.Station)
	if err != nil {
		return err
	}
	return s.Send(cmd)
}

// Disconnect says goodbye and stops the session, including any pending reconnect
func (s *Session) Disconnect() {
	_ = s.Send("bye")

	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Address returns the endpoint the session dials
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Connect switches the session to another cluster. The current connection,
// if any, says goodbye and the new address is dialled without waiting.
func (s *Session) Connect(addr string) error {
	addr = strings.TrimSpace(addr)
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrBadAddress, addr, err)
	}

	s.mu.Lock()
	s.addr = addr
	drop := s.dropConn
	if drop != nil {
		s.retarget = true
		s.dropReason = errRetarget
	}
	s.mu.Unlock()

	if drop == nil {
		return nil
	}
	_ = s.Send("bye")
	drop()
	return nil
}

// Reconnect drops the current connection; Run dials again after the reconnect delay
func (s *Session) Reconnect(reason error) {
	s.mu.Lock()
	s.dropReason = reason
	drop := s.dropConn
	s.mu.Unlock()
	if drop != nil {
		drop()
	}
}

type staleAction int

const (
	staleNone staleAction = iota
	staleKeepAlive
	staleReconnect
)

func (s *Session) watchdog(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkStale(s.now())
		}
	}
}

// checkStale sends a keep-alive after a quiet period and reconnects after a long one
func (s *Session) checkStale(now time.Time) staleAction {
	s.mu.Lock()
	quiet := now.Sub(s.lastSpot)
	sent := s.keepAliveSent
	s.mu.Unlock()

	switch {
	case quiet > s.cfg.ReconnectAfter:
		s.log.Warn().Dur("quiet", quiet).Msg("no spots received, reconnecting")
		s.Reconnect(errStale)
		return staleReconnect
	case quiet > s.cfg.KeepAliveAfter && !sent:
		s.mu.Lock()
		s.keepAliveSent = true
		s.mu.Unlock()
		s.log.Debug().Dur("quiet", quiet).Msg("sending keep-alive")
		s.write(KeepAliveCommand)
		return staleKeepAlive
	}
	return staleNone
}

func (s *Session) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	ev.Source = model.SourceStream
	s.handler(ev)
}

func (s *Session) status(msg string, err error) {
	if err != nil {
		s.log.Warn().Err(err).Msg(msg)
	}
	s.emit(Event{Kind: EventStatus, Line: msg, Err: err})
}
