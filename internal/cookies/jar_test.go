package cookies

import (
	"testing"

	"github.com/llamasoft/gorace/internal/types"
)

func TestJar_SetGetLastWriteWins(t *testing.T) {
	jar := NewJar()

	jar.Set("example.test", "/", "session", "first")
	jar.Set("example.test", "/", "session", "second")

	value, ok := jar.Get("example.test", "session")
	if !ok {
		t.Fatal("cookie not found")
	}
	if value != "second" {
		t.Errorf("expected last write to win, got %q", value)
	}
	if jar.Len() != 1 {
		t.Errorf("expected a single entry, got %d", jar.Len())
	}
}

func TestJar_HeaderForSortedAndScoped(t *testing.T) {
	jar := NewJar()
	jar.Set("example.test", "/", "b", "2")
	jar.Set("example.test", "/", "a", "1")
	jar.Set("other.test", "/", "c", "3")

	header := jar.HeaderFor("example.test", "/")
	if header != "a=1; b=2" {
		t.Errorf("expected sorted scoped header, got %q", header)
	}
}

func TestJar_DomainMatching(t *testing.T) {
	jar := NewJar()
	jar.Set("example.test", "/", "k", "v")

	if _, ok := jar.Get("sub.example.test", "k"); !ok {
		t.Error("subdomain should see parent-domain cookie")
	}
	if _, ok := jar.Get("notexample.test", "k"); ok {
		t.Error("suffix overlap without a dot boundary must not match")
	}
}

func TestJar_PathMatching(t *testing.T) {
	jar := NewJar()
	jar.Set("example.test", "/api", "k", "v")

	if jar.HeaderFor("example.test", "/api/users") == "" {
		t.Error("/api cookie should apply to /api/users")
	}
	if jar.HeaderFor("example.test", "/apiary") != "" {
		t.Error("/api cookie must not apply to /apiary")
	}
	if jar.HeaderFor("example.test", "/api?x=1") == "" {
		t.Error("query string must not defeat path matching")
	}
}

func TestJar_MergeCookieHeader(t *testing.T) {
	jar := NewJar()
	jar.MergeCookieHeader("example.test", "a=1; b=2; malformed; c=3")

	for _, name := range []string{"a", "b", "c"} {
		if _, ok := jar.Get("example.test", name); !ok {
			t.Errorf("cookie %s missing after merge", name)
		}
	}
	if jar.Len() != 3 {
		t.Errorf("malformed entry should be skipped, got %d entries", jar.Len())
	}
}

func TestJar_MergeSetCookie(t *testing.T) {
	jar := NewJar()
	jar.MergeSetCookie("example.test", []string{
		"session=abc123; Path=/; HttpOnly",
		"pref=dark; Domain=example.test; Path=/settings",
	})

	if v, _ := jar.Get("example.test", "session"); v != "abc123" {
		t.Errorf("session cookie: %q", v)
	}
	if jar.HeaderFor("example.test", "/settings") != "pref=dark; session=abc123" {
		t.Errorf("unexpected header %q", jar.HeaderFor("example.test", "/settings"))
	}
	if jar.HeaderFor("example.test", "/") != "session=abc123" {
		t.Errorf("path-scoped cookie leaked: %q", jar.HeaderFor("example.test", "/"))
	}
}

func TestJar_ApplySetsCookieHeader(t *testing.T) {
	jar := NewJar()
	jar.Set("example.test", "/", "k", "1")

	req := &types.Request{Method: "GET", URL: "http://example.test/echo-cookie"}
	jar.Apply(req)

	if got := req.Headers.Get("Cookie"); got != "k=1" {
		t.Errorf("expected Cookie: k=1, got %q", got)
	}
}

func TestJar_ApplyRespectsExplicitHeader(t *testing.T) {
	jar := NewJar()
	jar.Set("example.test", "/", "k", "jar-value")

	req := &types.Request{
		Method:  "GET",
		URL:     "http://example.test/",
		Headers: types.Headers{{Name: "Cookie", Value: "k=explicit"}},
	}
	jar.Apply(req)

	if got := req.Headers.Get("Cookie"); got != "k=explicit" {
		t.Errorf("explicit Cookie header must win, got %q", got)
	}
}

func TestJar_ApplyMergesRequestCookies(t *testing.T) {
	jar := NewJar()
	jar.Set("example.test", "/", "a", "jar")
	jar.Set("example.test", "/", "b", "jar")

	req := &types.Request{
		Method:  "GET",
		URL:     "http://example.test/",
		Cookies: map[string]string{"b": "req"},
	}
	jar.Apply(req)

	if got := req.Headers.Get("Cookie"); got != "a=jar; b=req" {
		t.Errorf("request cookies should shadow jar entries, got %q", got)
	}
}
