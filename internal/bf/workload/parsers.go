// Package workload reads insert/query workloads and scores a filter against
// ground truth.
package workload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	logpkg "github.com/haukened/bf/internal/bf/common/log"
	"github.com/haukened/bf/internal/bf/hash"
)

var (
	ErrWhitespace     = errors.New("workload: whitespace in input not supported")
	ErrMalformedQuery = errors.New("workload: failed to parse element")
)

// maxLineBytes bounds a single input line; long sequences are common.
const maxLineBytes = 16 * 1024 * 1024

// Query is one line of a query file: an element and how many times it was
// really inserted.
type Query struct {
	Truth   uint64
	Element string
	Object  hash.Object
}

// ParseInput parses newline-delimited elements to insert.
//
// Behavior:
// - Empty lines are skipped; a trailing '\r' is dropped
// - A line containing a space or tab fails with ErrWhitespace
// - In numeric mode each line is read as a float64 and hashed by value
func ParseInput(r io.Reader, numeric bool, logger logpkg.Logger) ([]hash.Object, error) {
	scanner := newScanner(r)
	out := make([]hash.Object, 0, 256)
	logger.Debug(map[string]any{"numeric": numeric}, "parse_input_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if strings.ContainsAny(line, " \t") {
			return nil, fmt.Errorf("%w: line %d", ErrWhitespace, lineNum)
		}
		out = append(out, element(line, numeric))
	}
	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"error": err.Error()}, "parse_input_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"count": len(out)}, "parse_input_done")
	return out, nil
}

// ParseQueries parses "<count> <element>" lines as produced by `uniq -c`.
// Leading and repeated whitespace is allowed; empty lines are skipped.
func ParseQueries(r io.Reader, numeric bool, logger logpkg.Logger) ([]Query, error) {
	scanner := newScanner(r)
	out := make([]Query, 0, 256)
	logger.Debug(map[string]any{"numeric": numeric}, "parse_queries_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d", ErrMalformedQuery, lineNum)
		}
		truth, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedQuery, lineNum, err)
		}
		out = append(out, Query{
			Truth:   truth,
			Element: display(fields[1], numeric),
			Object:  element(fields[1], numeric),
		})
	}
	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"error": err.Error()}, "parse_queries_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"count": len(out)}, "parse_queries_done")
	return out, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineBytes)
	return s
}

func element(s string, numeric bool) hash.Object {
	if numeric {
		return hash.Float64(leadingFloat(s))
	}
	return hash.String(s)
}

func display(s string, numeric bool) string {
	if numeric {
		return strconv.FormatFloat(leadingFloat(s), 'g', -1, 64)
	}
	return s
}

// leadingFloat parses the longest prefix of s that is a valid float and
// returns 0 when there is none, so "4.2abc" reads as 4.2.
func leadingFloat(s string) float64 {
	for end := len(s); end > 0; end-- {
		if v, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return v
		}
	}
	return 0
}
