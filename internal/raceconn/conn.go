package raceconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/llamasoft/gorace/internal/barrier"
	"github.com/llamasoft/gorace/internal/resolver"
	"github.com/llamasoft/gorace/internal/types"
)

// State tracks a connection through the withhold-and-release protocol.
type State int

const (
	StateInit State = iota
	StateConnected
	StateHeadersSent
	StateBodyPending
	StateReady
	StateReleased
	StateResponseHeaders
	StateResponseBody
	StateDone
)

var stateNames = map[State]string{
	StateInit:            "init",
	StateConnected:       "connected",
	StateHeadersSent:     "headers_sent",
	StateBodyPending:     "body_pending",
	StateReady:           "ready",
	StateReleased:        "released",
	StateResponseHeaders: "response_headers",
	StateResponseBody:    "response_body",
	StateDone:            "done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Conn is one TCP socket, optionally wrapped in TLS, carrying one
// HTTP/1.1 exchange under the withhold-and-release protocol: it writes
// everything except the final tail bytes, arrives at the ready
// barrier, blocks until the driver opens release, then flushes the
// tail and reads the response.
type Conn struct {
	workerID    int
	workerCount int
	params      types.RaceParams
	res         *resolver.Resolver

	barriers *barrier.Set

	netConn    net.Conn
	state      State
	timing     types.Timing
	remoteAddr string
}

// New constructs a connection carrying the run's race parameters.
// The barrier set is bound separately, per queue position.
func New(workerID, workerCount int, params types.RaceParams, res *resolver.Resolver) *Conn {
	return &Conn{
		workerID:    workerID,
		workerCount: workerCount,
		params:      params,
		res:         res,
		state:       StateInit,
	}
}

// BindBarriers attaches the barrier set for the current queue
// position. The owning worker rebinds this between requests.
func (c *Conn) BindBarriers(set *barrier.Set) { c.barriers = set }

// State returns the current protocol state.
func (c *Conn) State() State { return c.state }

// Timing returns the synchronization marks recorded so far.
func (c *Conn) Timing() types.Timing { return c.timing }

// RemoteAddr returns the peer address after a successful connect.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Do runs the full exchange. On error the caller is responsible for
// calling AbortRemaining so barrier peers are not stranded.
func (c *Conn) Do(ctx context.Context, req *types.Request) (*types.Response, error) {
	payload, err := Serialize(req)
	if err != nil {
		return nil, err
	}

	target, err := types.ParseTarget(req.URL)
	if err != nil {
		return nil, err
	}

	if err := c.connect(ctx, target); err != nil {
		return nil, err
	}
	defer c.Close()

	head, tail := Split(payload, c.params.TailBytes)

	if err := c.writePreRelease(head, HeaderLen(payload)); err != nil {
		return nil, types.WrapError(types.KindTransport, err)
	}

	// All but the tail is on the wire. Arrive and hold.
	c.timing.Ready = time.Now()
	c.state = StateReady
	c.barriers.Ready.Arrive()

	if err := c.barriers.Release.AwaitOpen(ctx, c.params.BarrierTimeout); err != nil {
		// Aborted or timed out while withholding: the request must
		// never reach the server complete, so close without flushing.
		return nil, err
	}

	c.timing.Release = time.Now()
	if err := c.writeAll(tail); err != nil {
		return nil, types.WrapError(types.KindTransport, err)
	}
	c.state = StateReleased

	// A global abort or cancellation must interrupt the response read;
	// otherwise a stalled server pins this worker for the full read
	// deadline.
	stop := make(chan struct{})
	defer close(stop)
	go func(nc net.Conn) {
		select {
		case <-ctx.Done():
		case <-c.barriers.Aborted():
		case <-stop:
			return
		}
		_ = nc.SetReadDeadline(time.Now())
	}(c.netConn)

	resp, err := c.readResponse(req)
	if err != nil {
		return nil, err
	}

	resp.Timing = c.timing
	resp.RemoteAddr = c.remoteAddr
	c.state = StateDone
	return resp, nil
}

// AbortRemaining arrives, in the error state, at every barrier this
// connection has not yet passed, so the rest of the race can proceed
// without it.
func (c *Conn) AbortRemaining(err error) {
	if c.barriers == nil {
		return
	}
	if c.state < StateReady {
		c.barriers.Ready.ArriveAborted(err)
	}
	if c.state < StateResponseHeaders {
		c.barriers.Received.ArriveAborted(err)
	}
}

// Close tears down the socket. Safe to call more than once.
func (c *Conn) Close() error {
	if c.netConn == nil {
		return nil
	}
	err := c.netConn.Close()
	c.netConn = nil
	return err
}

// connect resolves the target per the connect mode and dials the
// first address that accepts, optionally tunneling through an HTTP
// proxy and upgrading to TLS.
func (c *Conn) connect(ctx context.Context, target *types.Target) error {
	addrs, err := c.res.Addrs(ctx, target.Host, c.params.ConnectMode, c.workerID, c.workerCount)
	if err != nil {
		return err
	}

	var raw net.Conn
	var lastErr error
	for _, addr := range addrs {
		raw, lastErr = c.dial(ctx, net.JoinHostPort(addr, target.Port), target)
		if lastErr == nil {
			break
		}
	}
	if raw == nil {
		return types.WrapError(types.KindTransport,
			fmt.Errorf("connect %s: %w", target.Addr(), lastErr))
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		// The tail flush must hit the wire immediately, not sit in a
		// Nagle buffer.
		_ = tcp.SetNoDelay(true)
	}

	conn := raw
	if target.Scheme == "https" {
		tlsConn := tls.Client(raw, &tls.Config{
			ServerName:         target.Host,
			InsecureSkipVerify: c.params.Send.Insecure,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return types.WrapError(types.KindTransport,
				fmt.Errorf("tls handshake with %s: %w", target.Host, err))
		}
		conn = tlsConn
	}

	c.netConn = conn
	c.remoteAddr = raw.RemoteAddr().String()
	c.timing.Connect = time.Now()
	c.state = StateConnected
	return nil
}

// dial opens the TCP path to addr, through the configured proxy when
// one is set.
func (c *Conn) dial(ctx context.Context, addr string, target *types.Target) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.params.Send.Timeout}

	if c.params.Send.Proxy == "" {
		return dialer.DialContext(ctx, "tcp", addr)
	}

	proxyURL, err := url.Parse(c.params.Send.Proxy)
	if err != nil {
		return nil, types.Errorf(types.KindConfiguration, "invalid proxy URL %q: %v", c.params.Send.Proxy, err)
	}
	proxyAddr := proxyURL.Host
	if proxyURL.Port() == "" {
		proxyAddr = net.JoinHostPort(proxyURL.Hostname(), "8080")
	}

	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("dial proxy %s: %w", proxyAddr, err)
	}

	// The tunnel endpoint is the address the resolver chose, never the
	// hostname, so the connect-mode selection holds through the proxy.
	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", addr, addr)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read proxy response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy refused tunnel: %s", resp.Status)
	}

	return conn, nil
}

// writePreRelease sends everything up to the withheld tail, walking
// the state machine through headers-sent and body-pending.
func (c *Conn) writePreRelease(head []byte, headerLen int) error {
	if c.params.Send.Timeout > 0 {
		_ = c.netConn.SetWriteDeadline(time.Now().Add(c.params.Send.Timeout))
	}

	if headerLen <= len(head) {
		if err := c.writeAll(head[:headerLen]); err != nil {
			return err
		}
		c.state = StateHeadersSent
		if err := c.writeAll(head[headerLen:]); err != nil {
			return err
		}
	} else {
		// The tail eats into the header terminator; the whole head is
		// a partial header block.
		if err := c.writeAll(head); err != nil {
			return err
		}
		c.state = StateHeadersSent
	}
	c.state = StateBodyPending
	return nil
}

func (c *Conn) writeAll(data []byte) error {
	for len(data) > 0 {
		n, err := c.netConn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// readResponse parses status line and headers, signals received, then
// drains the body.
func (c *Conn) readResponse(req *types.Request) (*types.Response, error) {
	if c.params.Send.Timeout > 0 {
		_ = c.netConn.SetReadDeadline(time.Now().Add(c.params.Send.Timeout))
	}

	br := bufio.NewReaderSize(c.netConn, 16*1024)
	var parsed fasthttp.Response
	parsed.SkipBody = req.Method == http.MethodHead

	if err := parsed.Header.Read(br); err != nil {
		return nil, types.WrapError(types.KindProtocol,
			fmt.Errorf("read response headers: %w", err))
	}
	c.timing.FirstByte = time.Now()
	c.state = StateResponseHeaders

	// Headers are in: this exchange has raced. Let the driver know
	// before the (possibly slow) body arrives.
	c.barriers.Received.Arrive()
	c.state = StateResponseBody

	if !parsed.SkipBody {
		if err := parsed.ReadBody(br, 0); err != nil {
			return nil, types.WrapError(types.KindProtocol,
				fmt.Errorf("read response body: %w", err))
		}
	}

	resp := &types.Response{
		StatusCode: parsed.StatusCode(),
		Body:       append([]byte(nil), parsed.Body()...),
	}
	parsed.Header.VisitAll(func(key, value []byte) {
		resp.Headers.Add(string(key), string(value))
	})
	return resp, nil
}
