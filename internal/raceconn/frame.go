package raceconn

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/llamasoft/gorace/internal/types"
)

// Serialize builds the complete HTTP/1.1 wire payload for a request:
// request line, headers, blank line, body. The same serializer backs
// both the raced send and the single-shot reference send, so the
// concatenation of pre-release and post-release bytes is identical to
// a one-shot transmission by construction.
//
// Bodies are always framed with Content-Length; chunked encoding is
// rejected because the tail-withholding trick needs the server to know
// it is still waiting on bytes.
func Serialize(req *types.Request) ([]byte, error) {
	target, err := types.ParseTarget(req.URL)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(req.Headers.Get("Transfer-Encoding"), "chunked") {
		return nil, types.Errorf(types.KindConfiguration,
			"chunked request bodies are not supported; use a known Content-Length")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, target.Path)

	// Host is mandatory and always first. A caller-supplied Host
	// header (e.g. for virtual-host probing) wins over the URL's.
	host := req.Headers.Get("Host")
	if host == "" {
		host = target.HostHeader()
	}
	fmt.Fprintf(&buf, "Host: %s\r\n", host)

	hasCookieHeader := false
	hasConnection := false
	hasContentLength := false
	for _, h := range req.Headers {
		switch {
		case strings.EqualFold(h.Name, "Host"):
			continue
		case strings.EqualFold(h.Name, "Expect"):
			// 100-continue would make the server respond before the
			// tail is released; never send it.
			continue
		case strings.EqualFold(h.Name, "Content-Length"):
			hasContentLength = true
			continue // recomputed below from the actual body
		case strings.EqualFold(h.Name, "Cookie"):
			hasCookieHeader = true
		case strings.EqualFold(h.Name, "Connection"):
			hasConnection = true
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}

	// A Cookie header in the request wins over the cookie map,
	// mirroring how the jar is applied upstream.
	if !hasCookieHeader && len(req.Cookies) > 0 {
		fmt.Fprintf(&buf, "Cookie: %s\r\n", joinCookies(req.Cookies))
	}

	if !hasConnection {
		// Connections are single-exchange; say so on the wire.
		buf.WriteString("Connection: close\r\n")
	}

	if len(req.Body) > 0 || hasContentLength || methodUsuallyHasBody(req.Method) {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(req.Body))
	}

	buf.WriteString("\r\n")
	buf.Write(req.Body)

	return buf.Bytes(), nil
}

// HeaderLen returns the length of the head section (request line,
// headers, terminating blank line) of a serialized payload.
func HeaderLen(payload []byte) int {
	if i := bytes.Index(payload, []byte("\r\n\r\n")); i >= 0 {
		return i + 4
	}
	return len(payload)
}

// Split divides a payload into the pre-send portion and the withheld
// tail. When the body is at least tail bytes long the tail comes out
// of the body; otherwise it eats into the header terminator, so the
// server cannot see a complete request frame either way.
func Split(payload []byte, tail int) (head, withheld []byte) {
	if tail >= len(payload) {
		return payload[:0], payload
	}
	cut := len(payload) - tail
	return payload[:cut], payload[cut:]
}

func joinCookies(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}
	return strings.Join(pairs, "; ")
}

func methodUsuallyHasBody(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}
