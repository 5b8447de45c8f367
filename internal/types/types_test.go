package types

import (
	"errors"
	"testing"
)

func TestHeaders_OrderPreserved(t *testing.T) {
	var h Headers
	h.Add("B", "2")
	h.Add("A", "1")
	h.Add("B", "3")

	if h[0].Name != "B" || h[1].Name != "A" || h[2].Name != "B" {
		t.Errorf("order lost: %v", h)
	}
	if got := h.Values("b"); len(got) != 2 || got[0] != "2" || got[1] != "3" {
		t.Errorf("multimap values %v", got)
	}
}

func TestHeaders_CaseInsensitiveOps(t *testing.T) {
	var h Headers
	h.Add("Content-Type", "text/plain")

	if h.Get("content-type") != "text/plain" {
		t.Error("lookup should be case-insensitive")
	}
	if !h.Has("CONTENT-TYPE") {
		t.Error("has should be case-insensitive")
	}

	h.Set("content-TYPE", "application/json")
	if len(h) != 1 || h.Get("Content-Type") != "application/json" {
		t.Errorf("set should replace in place: %v", h)
	}
	// Original casing survives a Set.
	if h[0].Name != "Content-Type" {
		t.Errorf("set clobbered original name casing: %q", h[0].Name)
	}

	h.Del("Content-type")
	if len(h) != 0 {
		t.Errorf("del left entries: %v", h)
	}
}

func TestRequest_CloneIsDeep(t *testing.T) {
	req := &Request{
		Method:  "POST",
		URL:     "http://example.test/",
		Headers: Headers{{Name: "A", Value: "1"}},
		Body:    []byte("body"),
		Cookies: map[string]string{"k": "v"},
	}

	clone := req.Clone()
	clone.Headers.Set("A", "2")
	clone.Body[0] = 'X'
	clone.Cookies["k"] = "changed"

	if req.Headers.Get("A") != "1" || string(req.Body) != "body" || req.Cookies["k"] != "v" {
		t.Error("clone shares state with the original")
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		url      string
		wantHost string
		wantPort string
		wantPath string
	}{
		{"http://example.test/", "example.test", "80", "/"},
		{"https://example.test", "example.test", "443", "/"},
		{"http://example.test:8080/a/b?x=1", "example.test", "8080", "/a/b?x=1"},
	}

	for _, tt := range tests {
		target, err := ParseTarget(tt.url)
		if err != nil {
			t.Fatalf("%s: %v", tt.url, err)
		}
		if target.Host != tt.wantHost || target.Port != tt.wantPort || target.Path != tt.wantPath {
			t.Errorf("%s parsed as %+v", tt.url, target)
		}
	}
}

func TestParseTarget_Rejections(t *testing.T) {
	for _, url := range []string{"ftp://example.test/", "://bad", "http://"} {
		if _, err := ParseTarget(url); err == nil {
			t.Errorf("%s should be rejected", url)
		}
	}
}

func TestRaceParams_Defaults(t *testing.T) {
	params := DefaultParams()
	if params.TailBytes != 2 {
		t.Errorf("tail default %d", params.TailBytes)
	}
	if !params.SaveSentCookies {
		t.Error("save_sent_cookies should default on")
	}
	if params.ConnectMode != ConnectSame {
		t.Errorf("connect mode default %s", params.ConnectMode)
	}
}

func TestRaceParams_Validate(t *testing.T) {
	params := DefaultParams()
	if err := params.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	bad := DefaultParams()
	bad.TailBytes = 0
	if err := bad.Validate(); err == nil {
		t.Error("tail bytes 0 must fail")
	}

	bad = DefaultParams()
	bad.ConnectMode = "sideways"
	if err := bad.Validate(); err == nil {
		t.Error("bogus connect mode must fail")
	}
}

func TestRaceParams_NormalizeFillsZeros(t *testing.T) {
	var params RaceParams
	params.Normalize()
	if err := params.Validate(); err != nil {
		t.Errorf("normalized zero params must validate: %v", err)
	}
}

func TestError_KindClassification(t *testing.T) {
	base := Errorf(KindProtocol, "truncated read")

	// Wrapping keeps the original classification.
	wrapped := WrapError(KindTransport, base)
	if wrapped.Kind != KindProtocol {
		t.Errorf("re-wrap changed kind to %s", wrapped.Kind)
	}

	if KindOf(errors.New("raw")) != KindTransport {
		t.Error("plain errors default to transport")
	}

	if !KindBarrierTimeout.Global() || !KindConfiguration.Global() {
		t.Error("timeout and configuration are global kinds")
	}
	if KindTransport.Global() || KindCallback.Global() {
		t.Error("transport and callback are per-worker kinds")
	}
}

func TestValidateQueue(t *testing.T) {
	good := []WorkItem{
		RequestItem(&Request{Method: "GET", URL: "http://example.test/"}),
		CallbackItem(func(t Thread) error { return nil }),
	}
	if err := ValidateQueue(good); err != nil {
		t.Fatalf("valid queue rejected: %v", err)
	}

	if err := ValidateQueue([]WorkItem{{}}); err == nil {
		t.Error("empty work item must fail")
	}
	if err := ValidateQueue([]WorkItem{RequestItem(&Request{Method: "GET", URL: "ftp://x/"})}); err == nil {
		t.Error("bad scheme must fail")
	}
	if err := ValidateQueue([]WorkItem{RequestItem(&Request{URL: "http://example.test/"})}); err == nil {
		t.Error("missing method must fail")
	}
}
