// Package parser reads race plan files in the .http format: requests
// separated by ### lines, each with a request line, headers, and an
// optional body.
package parser

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/llamasoft/gorace/internal/types"
)

// ParseHTTPFile parses a .http plan file with ### separators into the
// ordered request list that becomes every worker's queue.
func ParseHTTPFile(filePath string) ([]*types.Request, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var requests []*types.Request
	var current *types.Request
	var bodyLines []string
	inBody := false

	flush := func() {
		if current == nil {
			return
		}
		if len(bodyLines) > 0 {
			current.Body = []byte(strings.Join(bodyLines, "\n"))
		}
		requests = append(requests, current)
		current = nil
		bodyLines = nil
		inBody = false
	}

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		line := scanner.Text()
		lineNum++

		// New request separator, optionally carrying a name.
		if strings.HasPrefix(line, "###") {
			flush()
			current = &types.Request{
				Name: strings.TrimSpace(strings.TrimPrefix(line, "###")),
			}
			continue
		}

		// Comment lines outside the body.
		if !inBody && strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		trimmed := strings.TrimSpace(line)

		// A request line may open a plan that has no ### separator.
		if current == nil {
			if trimmed == "" {
				continue
			}
			current = &types.Request{}
		}

		if current.Method == "" {
			if trimmed == "" {
				continue
			}
			method, url, ok := parseRequestLine(trimmed)
			if !ok {
				return nil, fmt.Errorf("line %d: expected request line, got %q", lineNum, line)
			}
			current.Method = method
			current.URL = url
			continue
		}

		if !inBody {
			if trimmed == "" {
				// Blank line after headers starts the body.
				inBody = true
				continue
			}
			name, value, ok := strings.Cut(line, ":")
			if !ok {
				return nil, fmt.Errorf("line %d: malformed header %q", lineNum, line)
			}
			current.Headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			continue
		}

		bodyLines = append(bodyLines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading plan file: %w", err)
	}

	flush()

	if len(requests) == 0 {
		return nil, fmt.Errorf("plan file %s contains no requests", filePath)
	}

	for i, req := range requests {
		if req.Method == "" {
			return nil, fmt.Errorf("request %d has no request line", i+1)
		}
	}
	return requests, nil
}

// parseRequestLine splits "METHOD URL" with an optional trailing
// HTTP version token.
func parseRequestLine(line string) (method, url string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	method = strings.ToUpper(fields[0])
	switch method {
	case "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "TRACE":
	default:
		return "", "", false
	}
	return method, fields[1], true
}

// WorkItems converts parsed requests into a driver work queue.
func WorkItems(requests []*types.Request) []types.WorkItem {
	items := make([]types.WorkItem, len(requests))
	for i, req := range requests {
		items[i] = types.RequestItem(req)
	}
	return items
}
