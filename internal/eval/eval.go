// Package eval substitutes <<<expr>>> markers embedded in request
// fields. The expression language is deliberately tiny: worker field
// references and a bounded set of functions. It is a templating pass,
// not a scripting engine.
package eval

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/llamasoft/gorace/internal/types"
)

// markerPattern matches <<<expr>>> with the fixed delimiters,
// spanning newlines inside the expression.
var markerPattern = regexp.MustCompile(`(?s)<<<(.*?)>>>`)

// Evaluator expands markers in the context of one worker.
type Evaluator struct {
	thread   types.Thread
	rng      *rand.Rand
	counters map[string]int
}

// New creates an evaluator bound to a worker handle.
func New(thread types.Thread) *Evaluator {
	return &Evaluator{
		thread:   thread,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(thread.ThreadNum())<<32)),
		counters: make(map[string]int),
	}
}

// ExpandRequest returns a copy of the request with every marker in
// the URL, header values, cookie values, and body substituted. A
// request containing no markers comes back byte-identical.
func (e *Evaluator) ExpandRequest(req *types.Request) (*types.Request, error) {
	out := req.Clone()

	var err error
	if out.URL, err = e.Expand(out.URL); err != nil {
		return nil, fmt.Errorf("url: %w", err)
	}
	for i := range out.Headers {
		if out.Headers[i].Value, err = e.Expand(out.Headers[i].Value); err != nil {
			return nil, fmt.Errorf("header %s: %w", out.Headers[i].Name, err)
		}
	}
	for name, value := range out.Cookies {
		expanded, err := e.Expand(value)
		if err != nil {
			return nil, fmt.Errorf("cookie %s: %w", name, err)
		}
		out.Cookies[name] = expanded
	}
	if len(out.Body) > 0 {
		body, err := e.Expand(string(out.Body))
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		out.Body = []byte(body)
	}
	return out, nil
}

// Expand substitutes every marker in a string.
func (e *Evaluator) Expand(input string) (string, error) {
	var firstErr error
	result := markerPattern.ReplaceAllStringFunc(input, func(match string) string {
		expr := strings.TrimSpace(match[3 : len(match)-3])
		value, err := e.eval(expr)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if err != nil {
			return match
		}
		return value
	})
	return result, firstErr
}

// eval resolves one expression to its string form.
func (e *Evaluator) eval(expr string) (string, error) {
	switch expr {
	case "self.thread_num":
		return strconv.Itoa(e.thread.ThreadNum()), nil
	case "self.position":
		return strconv.Itoa(e.thread.Position()), nil
	case "self.response_count":
		return strconv.Itoa(len(e.thread.Responses())), nil
	case "random()":
		return strconv.FormatFloat(e.rng.Float64(), 'f', -1, 64), nil
	}

	if name, args, ok := parseCall(expr); ok {
		switch name {
		case "randint":
			if len(args) != 2 {
				return "", fmt.Errorf("randint expects 2 arguments, got %d", len(args))
			}
			lo, err1 := strconv.Atoi(args[0])
			hi, err2 := strconv.Atoi(args[1])
			if err1 != nil || err2 != nil || hi < lo {
				return "", fmt.Errorf("randint bounds %q..%q are invalid", args[0], args[1])
			}
			return strconv.Itoa(lo + e.rng.Intn(hi-lo+1)), nil

		case "counter":
			if len(args) != 1 {
				return "", fmt.Errorf("counter expects 1 argument, got %d", len(args))
			}
			n := e.counters[args[0]]
			e.counters[args[0]] = n + 1
			return strconv.Itoa(n), nil

		case "choice":
			if len(args) == 0 {
				return "", fmt.Errorf("choice expects at least 1 argument")
			}
			return args[e.rng.Intn(len(args))], nil
		}
	}

	return "", fmt.Errorf("unknown expression %q", expr)
}

// parseCall splits "name(a, b)" into its name and trimmed arguments.
func parseCall(expr string) (name string, args []string, ok bool) {
	open := strings.IndexByte(expr, '(')
	if open <= 0 || !strings.HasSuffix(expr, ")") {
		return "", nil, false
	}
	name = strings.TrimSpace(expr[:open])
	inner := expr[open+1 : len(expr)-1]
	if strings.TrimSpace(inner) == "" {
		return name, nil, true
	}
	for _, arg := range strings.Split(inner, ",") {
		args = append(args, strings.TrimSpace(arg))
	}
	return name, args, true
}
