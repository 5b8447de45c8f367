package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Header is a single request or response header entry.
// Headers are kept as an ordered slice, not a map, because the wire
// order of a raced request must be reproducible byte for byte.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered multimap of header entries with
// case-insensitive name lookup.
type Headers []Header

// Get returns the first value for the given name, or "".
func (h Headers) Get(name string) string {
	for _, entry := range h {
		if strings.EqualFold(entry.Name, name) {
			return entry.Value
		}
	}
	return ""
}

// Has reports whether at least one entry with the given name exists.
func (h Headers) Has(name string) bool {
	for _, entry := range h {
		if strings.EqualFold(entry.Name, name) {
			return true
		}
	}
	return false
}

// Values returns every value for the given name, in order.
func (h Headers) Values(name string) []string {
	var values []string
	for _, entry := range h {
		if strings.EqualFold(entry.Name, name) {
			values = append(values, entry.Value)
		}
	}
	return values
}

// Add appends an entry, preserving order.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// Set replaces the first entry with the given name, removing any
// duplicates, or appends if the name is absent.
func (h *Headers) Set(name, value string) {
	out := (*h)[:0]
	replaced := false
	for _, entry := range *h {
		if strings.EqualFold(entry.Name, name) {
			if !replaced {
				out = append(out, Header{Name: entry.Name, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, entry)
	}
	if !replaced {
		out = append(out, Header{Name: name, Value: value})
	}
	*h = out
}

// Del removes every entry with the given name.
func (h *Headers) Del(name string) {
	out := (*h)[:0]
	for _, entry := range *h {
		if !strings.EqualFold(entry.Name, name) {
			out = append(out, entry)
		}
	}
	*h = out
}

// Clone returns a deep copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// Request describes a single HTTP request to be raced.
// It is immutable once enqueued; workers clone it before evaluation.
type Request struct {
	Name    string // optional label from the plan file
	Method  string
	URL     string
	Headers Headers
	Body    []byte
	Cookies map[string]string
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	out := &Request{
		Name:    r.Name,
		Method:  r.Method,
		URL:     r.URL,
		Headers: r.Headers.Clone(),
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	if r.Cookies != nil {
		out.Cookies = make(map[string]string, len(r.Cookies))
		for k, v := range r.Cookies {
			out.Cookies[k] = v
		}
	}
	return out
}

// Target is the parsed connection target of a request URL.
type Target struct {
	Scheme string
	Host   string
	Port   string
	Path   string // path plus raw query, as sent on the request line
}

// ParseTarget splits a request URL into its connection target.
func ParseTarget(rawURL string) (*Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, Errorf(KindConfiguration, "invalid URL %q: %v", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, Errorf(KindConfiguration, "unsupported scheme %q (http and https only)", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, Errorf(KindConfiguration, "URL %q has no host", rawURL)
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return &Target{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		Path:   path,
	}, nil
}

// HostHeader returns the Host header value for this target,
// including the port only when it is not the scheme default.
func (t *Target) HostHeader() string {
	if (t.Scheme == "http" && t.Port == "80") || (t.Scheme == "https" && t.Port == "443") {
		return t.Host
	}
	return t.Host + ":" + t.Port
}

// Addr returns host:port for dialing.
func (t *Target) Addr() string {
	return t.Host + ":" + t.Port
}

// Timing holds the per-request synchronization marks.
// Invariant: Connect <= Ready <= Release <= FirstByte for any
// request that completed normally.
type Timing struct {
	Connect   time.Time
	Ready     time.Time
	Release   time.Time
	FirstByte time.Time
}

// Response is the record of one request/response exchange at one
// work-queue position.
type Response struct {
	Position   int
	ThreadNum  int
	Method     string // request method, for reporting
	URL        string // request URL, for reporting
	StatusCode int
	Headers    Headers
	Body       []byte
	Timing     Timing
	RemoteAddr string // peer address the connection used
	Wire       []byte // serialized request bytes; populated on fake sends
	Err        *Error
}

// OK reports whether the exchange completed without error.
func (r *Response) OK() bool {
	return r.Err == nil
}

// Callback is a user hook executed in place of a request at one
// queue position. It receives the owning worker and may inspect
// its state or append work to its own queue.
type Callback func(t Thread) error

// Thread is the worker handle exposed to callbacks and to the
// template evaluator.
type Thread interface {
	// ThreadNum is the worker identity, 0..N-1.
	ThreadNum() int
	// Position is the current work-queue index.
	Position() int
	// Responses returns the records collected so far, in order.
	Responses() []*Response
	// Append adds work items to this worker's own queue.
	Append(items ...WorkItem)
	// SetCookie stores a cookie in the worker's jar for the given host.
	SetCookie(host, name, value string)
	// GetCookie reads a cookie from the worker's jar.
	GetCookie(host, name string) (string, bool)
}

// WorkItem is one entry of a worker's queue: a request or a callback,
// exactly one of which is set.
type WorkItem struct {
	Request  *Request
	Callback Callback
}

// Validate ensures the item has exactly one payload.
func (w WorkItem) Validate() error {
	if (w.Request == nil) == (w.Callback == nil) {
		return Errorf(KindConfiguration, "work item must hold exactly one of request or callback")
	}
	return nil
}

// RequestItem wraps a request as a work item.
func RequestItem(r *Request) WorkItem { return WorkItem{Request: r} }

// CallbackItem wraps a callback as a work item.
func CallbackItem(cb Callback) WorkItem { return WorkItem{Callback: cb} }

// SingleRequest builds the broadcast work queue for one request.
func SingleRequest(r *Request) []WorkItem { return []WorkItem{RequestItem(r)} }

// ValidateQueue fails early on malformed work items, before any
// worker starts.
func ValidateQueue(items []WorkItem) error {
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return Errorf(KindConfiguration, "work item %d: %v", i, err)
		}
		if item.Request != nil {
			if item.Request.Method == "" {
				return Errorf(KindConfiguration, "work item %d: request has no method", i)
			}
			if _, err := ParseTarget(item.Request.URL); err != nil {
				return fmt.Errorf("work item %d: %w", i, err)
			}
		}
	}
	return nil
}
