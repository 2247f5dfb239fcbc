package session

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/ppiankov/dxmap/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var leakOpts = []goleak.Option{
	goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
}

func testStation() model.StationConfig {
	return model.StationConfig{Callsign: "W1AW", Name: "Hiram", QTH: "Newington", Grid: "FN42"}
}

// pipeDialer hands the session one end of an in-memory pipe per dial
type pipeDialer struct {
	conns chan net.Conn
	dials atomic.Int32

	mu    sync.Mutex
	addrs []string
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{conns: make(chan net.Conn, 4)}
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.addrs = append(d.addrs, address)
	d.mu.Unlock()
	client, server := net.Pipe()
	d.conns <- server
	return client, nil
}

type errDialer struct {
	err   error
	dials atomic.Int32
}

func (d *errDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials.Add(1)
	return nil, d.err
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) find(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func send(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Write([]byte(s))
	require.NoError(t, err)
}

func expect(t *testing.T, conn net.Conn, r *bufio.Reader, want string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, want+"\r\n", line)
}

func startSession(t *testing.T, cfg Config, d Dialer) (*Session, *recorder, context.CancelFunc, chan error) {
	t.Helper()
	rec := &recorder{}
	s := New(cfg, rec.handle)
	s.SetDialer(d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return s, rec, cancel, done
}

func TestSession_LoginFlow(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	d := newPipeDialer()
	cfg := Config{Address: "cluster.test:7300", Station: testStation(), FT8: true, Prefill: 20}
	s, rec, cancel, done := startSession(t, cfg, d)

	server := <-d.conns
	defer server.Close()
	r := bufio.NewReader(server)

	send(t, server, "Hello from DXSpider v1.55\r\n")
	send(t, server, "login: ")
	expect(t, server, r, "W1AW")
	send(t, server, "Please enter your name\r\n")
	expect(t, server, r, "Hiram")
	send(t, server, "Is this correct (Y/N)? ")
	expect(t, server, r, "Y")
	send(t, server, "W1AW de GB7DJK 17-Oct-2026 1234Z dxspider >\r\n")
	expect(t, server, r, "set/ft8")
	expect(t, server, r, "show dx/20")

	require.Eventually(t, func() bool { return s.State() == StateLoggedIn }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, DialectDXSpider, s.Dialect())

	send(t, server, "DX de JA1XYZ:    14074.0  W1AW         FT8 -10dB                      1234Z\r\n")
	require.Eventually(t, func() bool { return len(rec.find(EventSpotLine)) == 1 }, 2*time.Second, 5*time.Millisecond)

	// net.Pipe is unbuffered: the write completes only once the server reads
	sent := make(chan error, 1)
	go func() { sent <- s.Send("sh/wwv") }()
	expect(t, server, r, "sh/wwv")
	require.NoError(t, <-sent)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, s.State())
	assert.ErrorIs(t, s.Send("bye"), ErrNotConnected)
	assert.Len(t, rec.find(EventClusterBanner), 1)
	assert.Len(t, rec.find(EventLoggedIn), 1)
}

func TestSession_CredentialOrder(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	d := newPipeDialer()
	s, rec, cancel, done := startSession(t, Config{Address: "cluster.test:7300", Station: testStation()}, d)

	server := <-d.conns
	defer server.Close()
	r := bufio.NewReader(server)

	send(t, server, "Please enter your name\r\n")
	require.Eventually(t, func() bool { return len(rec.find(EventStatus)) >= 2 }, 2*time.Second, 5*time.Millisecond)

	send(t, server, "Please enter your call: ")
	expect(t, server, r, "W1AW")
	send(t, server, "Please enter your QTH\r\n")
	expect(t, server, r, "Newington")

	// Backwards: name after QTH is refused
	send(t, server, "Please enter your name\r\n")
	send(t, server, "Please enter your grid\r\n")
	expect(t, server, r, "FN42")
	assert.Equal(t, StateAwaitingCredentials, s.State())

	var invalid int
	for _, ev := range rec.find(EventStatus) {
		if errors.Is(ev.Err, ErrInvalidSessionState) {
			invalid++
		}
	}
	assert.Equal(t, 2, invalid)

	cancel()
	require.NoError(t, <-done)
}

func TestSession_MissingIdentity(t *testing.T) {
	rec := &recorder{}
	s := New(Config{Address: "cluster.test:7300"}, rec.handle)
	d := newPipeDialer()
	s.SetDialer(d)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrMissingIdentity)
	assert.Equal(t, Fatal, ClassifyError(err))
	assert.Zero(t, d.dials.Load())

	status := rec.find(EventStatus)
	require.Len(t, status, 1)
	assert.Contains(t, status[0].Line, "station.callsign")
}

func TestSession_ReconnectsAfterRecoverableError(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	d := &errDialer{err: &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}}
	cfg := Config{Address: "cluster.test:7300", Station: testStation(), ReconnectDelay: 5 * time.Millisecond}
	_, rec, cancel, done := startSession(t, cfg, d)

	require.Eventually(t, func() bool { return d.dials.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	lost := rec.find(EventConnectionLost)
	require.NotEmpty(t, lost)
	assert.Equal(t, Recoverable, ClassifyError(lost[0].Err))
}

func TestSession_FatalErrorStops(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	d := &errDialer{err: &net.AddrError{Err: "missing port in address", Addr: "cluster"}}
	cfg := Config{Address: "cluster", Station: testStation(), ReconnectDelay: 5 * time.Millisecond}
	s, _, cancel, done := startSession(t, cfg, d)
	defer cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, Fatal, ClassifyError(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on a fatal error")
	}
	assert.Equal(t, int32(1), d.dials.Load())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_ServerCloseTriggersReconnect(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	d := newPipeDialer()
	cfg := Config{Address: "cluster.test:7300", Station: testStation(), ReconnectDelay: 5 * time.Millisecond}
	_, rec, cancel, done := startSession(t, cfg, d)

	first := <-d.conns
	require.NoError(t, first.Close())

	second := <-d.conns
	defer second.Close()
	assert.Equal(t, int32(2), d.dials.Load())
	assert.NotEmpty(t, rec.find(EventConnectionLost))

	cancel()
	require.NoError(t, <-done)
}

func TestSession_Disconnect(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	d := newPipeDialer()
	s, _, _, done := startSession(t, Config{Address: "cluster.test:7300", Station: testStation()}, d)

	server := <-d.conns
	defer server.Close()
	r := bufio.NewReader(server)
	send(t, server, "login: ")
	expect(t, server, r, "W1AW")

	go s.Disconnect()
	expect(t, server, r, "bye")
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), d.dials.Load())
}

func TestSession_StalledPeerDropsConnection(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	d := newPipeDialer()
	cfg := Config{
		Address:        "cluster.test:7300",
		Station:        testStation(),
		WriteTimeout:   50 * time.Millisecond,
		ReconnectDelay: 5 * time.Millisecond,
	}
	_, rec, cancel, done := startSession(t, cfg, d)

	first := <-d.conns
	defer first.Close()
	// The session answers the prompt but nobody reads the answer
	send(t, first, "login: ")

	select {
	case second := <-d.conns:
		defer second.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("stalled write did not drop the connection")
	}

	lost := rec.find(EventConnectionLost)
	require.NotEmpty(t, lost)
	assert.ErrorIs(t, lost[0].Err, os.ErrDeadlineExceeded)

	cancel()
	require.NoError(t, <-done)
}

func (d *pipeDialer) lastAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.addrs) == 0 {
		return ""
	}
	return d.addrs[len(d.addrs)-1]
}

func TestSession_ConnectSwitchesCluster(t *testing.T) {
	defer goleak.VerifyNone(t, leakOpts...)

	d := newPipeDialer()
	s, rec, cancel, done := startSession(t, Config{Address: "cluster.test:7300", Station: testStation()}, d)
	defer cancel()

	first := <-d.conns
	r := bufio.NewReader(first)
	send(t, first, "login: ")
	expect(t, first, r, "W1AW")

	errc := make(chan error, 1)
	go func() { errc <- s.Connect("other.test:8000") }()
	expect(t, first, r, "bye")
	require.NoError(t, <-errc)
	_ = first.Close()

	// Redialled without the 10s reconnect delay
	var second net.Conn
	select {
	case second = <-d.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no redial after Connect")
	}
	defer second.Close()
	assert.Equal(t, "other.test:8000", d.lastAddr())
	assert.Equal(t, "other.test:8000", s.Address())
	assert.Empty(t, rec.find(EventConnectionLost))

	cancel()
	require.NoError(t, <-done)
}

func TestSession_ConnectRejectsBadAddress(t *testing.T) {
	s := New(Config{Address: "cluster.test:7300", Station: testStation()}, nil)
	assert.ErrorIs(t, s.Connect("no-port"), ErrBadAddress)
	assert.Equal(t, "cluster.test:7300", s.Address())

	require.NoError(t, s.Connect("other.test:8000"))
	assert.Equal(t, "other.test:8000", s.Address())
}

func TestSession_CheckStale(t *testing.T) {
	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	clock := base
	s := New(Config{Address: "cluster.test:7300", Station: testStation()}, nil)
	s.now = func() time.Time { return clock }
	s.MarkSpot()

	assert.Equal(t, staleNone, s.checkStale(base.Add(4*time.Minute)))
	assert.Equal(t, staleKeepAlive, s.checkStale(base.Add(6*time.Minute)))
	assert.Equal(t, staleNone, s.checkStale(base.Add(7*time.Minute)), "keep-alive is sent once per quiet window")

	clock = base.Add(8 * time.Minute)
	s.MarkSpot()
	assert.Equal(t, staleNone, s.checkStale(base.Add(12*time.Minute)))
	assert.Equal(t, staleKeepAlive, s.checkStale(base.Add(14*time.Minute)))
	assert.Equal(t, staleReconnect, s.checkStale(base.Add(24*time.Minute)))
}

func TestConfigFromModel(t *testing.T) {
	c := model.DefaultConfig().Cluster
	c.Address = "dxc.example.org:7300"
	cfg := ConfigFromModel(c, testStation())
	assert.Equal(t, "dxc.example.org:7300", cfg.Address)
	assert.Equal(t, 50, cfg.Prefill)
	assert.Equal(t, 15*time.Minute, cfg.ReconnectAfter)
	assert.Equal(t, "W1AW", cfg.Station.Callsign)
}
