package raceconn

import (
	"bytes"
	"strings"
	"testing"

	"github.com/llamasoft/gorace/internal/types"
)

func TestSerialize_GetWithoutBody(t *testing.T) {
	req := &types.Request{
		Method: "GET",
		URL:    "http://example.test/path?x=1",
	}

	payload, err := Serialize(req)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	text := string(payload)
	if !strings.HasPrefix(text, "GET /path?x=1 HTTP/1.1\r\nHost: example.test\r\n") {
		t.Errorf("unexpected request head:\n%s", text)
	}
	if !strings.HasSuffix(text, "\r\n\r\n") {
		t.Errorf("payload must end with header terminator, got %q", text[len(text)-8:])
	}
	if strings.Contains(text, "Content-Length") {
		t.Errorf("GET without body must not carry Content-Length:\n%s", text)
	}
	if !strings.Contains(text, "Connection: close\r\n") {
		t.Errorf("expected default Connection: close:\n%s", text)
	}
}

func TestSerialize_PostBodyContentLength(t *testing.T) {
	req := &types.Request{
		Method:  "POST",
		URL:     "https://example.test/submit",
		Headers: types.Headers{{Name: "Content-Type", Value: "application/json"}},
		Body:    []byte(`{"a":1}`),
	}

	payload, err := Serialize(req)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	text := string(payload)
	if !strings.Contains(text, "Content-Length: 7\r\n") {
		t.Errorf("expected Content-Length: 7:\n%s", text)
	}
	if !strings.HasSuffix(text, "\r\n\r\n"+`{"a":1}`) {
		t.Errorf("body must follow header terminator:\n%s", text)
	}
}

func TestSerialize_EmptyPostGetsZeroContentLength(t *testing.T) {
	req := &types.Request{Method: "POST", URL: "http://example.test/"}

	payload, err := Serialize(req)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !strings.Contains(string(payload), "Content-Length: 0\r\n") {
		t.Errorf("empty POST should carry Content-Length: 0:\n%s", payload)
	}
}

func TestSerialize_HostHeaderRules(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"default http port omitted", "http://example.test/", "Host: example.test\r\n"},
		{"default https port omitted", "https://example.test/", "Host: example.test\r\n"},
		{"custom port kept", "http://example.test:8080/", "Host: example.test:8080\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Serialize(&types.Request{Method: "GET", URL: tt.url})
			if err != nil {
				t.Fatalf("serialize: %v", err)
			}
			if !strings.Contains(string(payload), tt.want) {
				t.Errorf("expected %q in:\n%s", tt.want, payload)
			}
		})
	}
}

func TestSerialize_ExplicitHostWins(t *testing.T) {
	req := &types.Request{
		Method:  "GET",
		URL:     "http://example.test/",
		Headers: types.Headers{{Name: "Host", Value: "spoofed.test"}},
	}

	payload, err := Serialize(req)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	text := string(payload)
	if !strings.Contains(text, "Host: spoofed.test\r\n") {
		t.Errorf("caller Host header should win:\n%s", text)
	}
	if strings.Count(text, "Host:") != 1 {
		t.Errorf("exactly one Host header expected:\n%s", text)
	}
}

func TestSerialize_RejectsChunked(t *testing.T) {
	req := &types.Request{
		Method:  "POST",
		URL:     "http://example.test/",
		Headers: types.Headers{{Name: "Transfer-Encoding", Value: "chunked"}},
	}

	if _, err := Serialize(req); err == nil {
		t.Fatal("chunked bodies must be rejected")
	}
}

func TestSerialize_DropsExpectContinue(t *testing.T) {
	req := &types.Request{
		Method:  "POST",
		URL:     "http://example.test/",
		Headers: types.Headers{{Name: "Expect", Value: "100-continue"}},
		Body:    []byte("x"),
	}

	payload, err := Serialize(req)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if strings.Contains(string(payload), "Expect") {
		t.Errorf("Expect header must never be sent:\n%s", payload)
	}
}

func TestSerialize_CookieMapJoinedDeterministically(t *testing.T) {
	req := &types.Request{
		Method:  "GET",
		URL:     "http://example.test/",
		Cookies: map[string]string{"b": "2", "a": "1"},
	}

	payload, err := Serialize(req)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !strings.Contains(string(payload), "Cookie: a=1; b=2\r\n") {
		t.Errorf("cookie map should join sorted by name:\n%s", payload)
	}
}

func TestSplit_TailFromBody(t *testing.T) {
	payload := []byte("HEAD\r\n\r\nBODYBODY")
	head, tail := Split(payload, 4)

	if string(tail) != "BODY" {
		t.Errorf("expected tail BODY, got %q", tail)
	}
	if string(head)+string(tail) != string(payload) {
		t.Error("split must reassemble to the original payload")
	}
}

func TestSplit_TailEatsHeaderTerminator(t *testing.T) {
	// GET-style payload, no body: tail comes from the CRLFCRLF.
	payload := []byte("GET / HTTP/1.1\r\nHost: h\r\n\r\n")
	head, tail := Split(payload, 2)

	if string(tail) != "\r\n" {
		t.Errorf("expected tail CRLF, got %q", tail)
	}
	if bytes.HasSuffix(head, []byte("\r\n\r\n")) {
		t.Error("pre-send bytes must not contain a complete request frame")
	}
}

func TestSplit_OversizedTailWithholdsEverything(t *testing.T) {
	payload := []byte("short")
	head, tail := Split(payload, 100)

	if len(head) != 0 {
		t.Errorf("expected empty head, got %q", head)
	}
	if string(tail) != "short" {
		t.Errorf("expected whole payload withheld, got %q", tail)
	}
}

func TestHeaderLen(t *testing.T) {
	payload := []byte("GET / HTTP/1.1\r\nHost: h\r\n\r\nbody")
	if got := HeaderLen(payload); got != len(payload)-4 {
		t.Errorf("expected header length %d, got %d", len(payload)-4, got)
	}
}
