// Package cookies implements the per-worker cookie jar: an RFC
// 6265-lite store keyed by domain, path, and name with last-write-wins
// semantics. Full cookie-attribute handling (expiry, secure, http-only)
// is out of scope for the race use case; what matters is that a value
// set at one queue position is presented at the next.
package cookies

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/llamasoft/gorace/internal/types"
)

// Cookie is one stored entry.
type Cookie struct {
	Domain string
	Path   string
	Name   string
	Value  string
}

// Jar is a host-scoped cookie store. Safe for concurrent use, though
// each worker owns exactly one jar.
type Jar struct {
	mu      sync.Mutex
	entries map[string]Cookie
}

// NewJar creates an empty jar.
func NewJar() *Jar {
	return &Jar{entries: make(map[string]Cookie)}
}

func key(domain, path, name string) string {
	return strings.ToLower(domain) + ";" + path + ";" + name
}

// Set stores a cookie, replacing any previous value for the same
// domain, path, and name.
func (j *Jar) Set(domain, path, name, value string) {
	if path == "" {
		path = "/"
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[key(domain, path, name)] = Cookie{
		Domain: strings.ToLower(domain),
		Path:   path,
		Name:   name,
		Value:  value,
	}
}

// Get returns the value of a named cookie visible to host.
func (j *Jar) Get(host, name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range j.entries {
		if c.Name == name && domainMatch(host, c.Domain) {
			return c.Value, true
		}
	}
	return "", false
}

// HeaderFor builds the Cookie header value for a request to
// host+path, sorted by name for reproducible wire bytes. Returns ""
// when no cookie applies.
func (j *Jar) HeaderFor(host, path string) string {
	if path == "" {
		path = "/"
	}

	j.mu.Lock()
	var matched []Cookie
	for _, c := range j.entries {
		if domainMatch(host, c.Domain) && pathMatch(path, c.Path) {
			matched = append(matched, c)
		}
	}
	j.mu.Unlock()

	if len(matched) == 0 {
		return ""
	}
	sort.Slice(matched, func(a, b int) bool { return matched[a].Name < matched[b].Name })

	pairs := make([]string, 0, len(matched))
	for _, c := range matched {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}

// MergeCookieHeader stores every name=value pair of an outgoing
// Cookie header under the request host. Entries without an equals
// sign are skipped; a cookie needs both a name and a value.
func (j *Jar) MergeCookieHeader(host, header string) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		j.Set(host, "/", strings.TrimSpace(name), strings.TrimSpace(value))
	}
}

// MergeSetCookie applies Set-Cookie response header values, scoping
// each cookie to its declared domain/path or, absent those, to the
// request host.
func (j *Jar) MergeSetCookie(host string, setCookieValues []string) {
	for _, line := range setCookieValues {
		c, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		domain := c.Domain
		if domain == "" {
			domain = host
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		j.Set(domain, path, c.Name, c.Value)
	}
}

// Apply attaches the jar to a request as its Cookie header, unless
// the request already carries one: an explicit Cookie header is used
// verbatim, matching how cookie precedence works upstream.
func (j *Jar) Apply(req *types.Request) {
	if req.Headers.Has("Cookie") {
		return
	}

	target, err := types.ParseTarget(req.URL)
	if err != nil {
		return
	}

	// Explicit request cookies merge with (and shadow) jar entries.
	merged := make(map[string]string)
	if header := j.HeaderFor(target.Host, target.Path); header != "" {
		for _, part := range strings.Split(header, "; ") {
			if name, value, ok := strings.Cut(part, "="); ok {
				merged[name] = value
			}
		}
	}
	for name, value := range req.Cookies {
		merged[name] = value
	}
	if len(merged) == 0 {
		return
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+merged[name])
	}
	req.Headers.Add("Cookie", strings.Join(pairs, "; "))
}

// Len returns the number of stored cookies.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// domainMatch reports whether a cookie domain covers host: exact
// match, or host is a subdomain of the cookie domain.
func domainMatch(host, domain string) bool {
	host = strings.ToLower(host)
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}

// pathMatch implements the RFC 6265 path-match on the lite level.
func pathMatch(requestPath, cookiePath string) bool {
	if i := strings.IndexAny(requestPath, "?#"); i >= 0 {
		requestPath = requestPath[:i]
	}
	if requestPath == cookiePath {
		return true
	}
	if strings.HasPrefix(requestPath, cookiePath) {
		return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
	}
	return false
}
