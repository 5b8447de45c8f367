package types

import "time"

// ConnectMode selects which resolved address each worker's connection
// dials when a hostname has multiple A records.
type ConnectMode string

const (
	// ConnectNormal resolves per connection and takes whatever order
	// the resolver returns.
	ConnectNormal ConnectMode = "normal"
	// ConnectSame pins every connection in the run to one address.
	ConnectSame ConnectMode = "same"
	// ConnectDifferent gives each worker a distinct address and fails
	// when there are fewer addresses than workers.
	ConnectDifferent ConnectMode = "different"
	// ConnectRandom picks uniformly per connection.
	ConnectRandom ConnectMode = "random"
)

// Valid reports whether the mode is one of the recognized values.
func (m ConnectMode) Valid() bool {
	switch m {
	case ConnectNormal, ConnectSame, ConnectDifferent, ConnectRandom:
		return true
	}
	return false
}

const (
	// DefaultTailBytes is how many trailing bytes are withheld until
	// release. Two, not one: a request without a body ends in CRLFCRLF,
	// and withholding a single byte still shows the server "\r\n\r",
	// enough to know the next line is blank.
	DefaultTailBytes = 2

	DefaultBarrierTimeout = 30 * time.Second
	DefaultReleaseDelay   = 100 * time.Millisecond
	DefaultSendTimeout    = 10 * time.Second
)

// SendOptions is the supported subset of per-send pass-through
// options: TLS verification, proxy URL, and per-request timeout.
type SendOptions struct {
	// Insecure disables TLS certificate verification.
	Insecure bool
	// Proxy is an HTTP proxy URL to tunnel through via CONNECT.
	Proxy string
	// Timeout bounds dialing and the post-release response read.
	Timeout time.Duration
}

// RaceParams is the option bag carried from the driver through
// workers and pools into every connection.
type RaceParams struct {
	// DoEval enables <<<expr>>> substitution in request fields.
	DoEval bool
	// SaveSentCookies copies outgoing Cookie header entries into the
	// worker's jar after a request is written.
	SaveSentCookies bool
	// FakeSend serializes requests without touching the network.
	FakeSend bool
	// ConnectMode is the multi-address selection policy.
	ConnectMode ConnectMode
	// TailBytes is the number of withheld trailing bytes (>= 1).
	TailBytes int
	// BarrierTimeout bounds every barrier wait.
	BarrierTimeout time.Duration
	// ReleaseDelay is a settle pause between all workers reaching
	// ready and the release opening, letting sockets fully flush.
	ReleaseDelay time.Duration
	// Send holds the per-send pass-through options.
	Send SendOptions
}

// DefaultParams returns the parameter defaults.
func DefaultParams() RaceParams {
	return RaceParams{
		SaveSentCookies: true,
		ConnectMode:     ConnectSame,
		TailBytes:       DefaultTailBytes,
		BarrierTimeout:  DefaultBarrierTimeout,
		ReleaseDelay:    DefaultReleaseDelay,
		Send:            SendOptions{Timeout: DefaultSendTimeout},
	}
}

// Normalize fills a zero connect mode, tail byte count, barrier
// timeout, and send timeout with their defaults. A zero release delay
// is kept and means no settle pause.
func (p *RaceParams) Normalize() {
	if p.ConnectMode == "" {
		p.ConnectMode = ConnectSame
	}
	if p.TailBytes == 0 {
		p.TailBytes = DefaultTailBytes
	}
	if p.BarrierTimeout == 0 {
		p.BarrierTimeout = DefaultBarrierTimeout
	}
	if p.Send.Timeout == 0 {
		p.Send.Timeout = DefaultSendTimeout
	}
}

// Validate rejects unusable race arguments.
func (p *RaceParams) Validate() error {
	if p.TailBytes < 1 {
		return Errorf(KindConfiguration, "tail bytes must be at least 1, got %d", p.TailBytes)
	}
	if !p.ConnectMode.Valid() {
		return Errorf(KindConfiguration, "unrecognized connect mode %q", p.ConnectMode)
	}
	if p.BarrierTimeout <= 0 {
		return Errorf(KindConfiguration, "barrier timeout must be positive, got %s", p.BarrierTimeout)
	}
	if p.ReleaseDelay < 0 {
		return Errorf(KindConfiguration, "release delay cannot be negative, got %s", p.ReleaseDelay)
	}
	return nil
}
