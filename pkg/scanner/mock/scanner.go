// Package mock provides an in-memory Scanner for tests and development.
package mock

import (
	"context"
	"sync"

	"github.com/hashicorp-forge/docgate/pkg/scanner"
)

// Scanner is a configurable in-memory scanner. By default every file is
// safe; per-filename verdicts and errors can be registered.
type Scanner struct {
	mu sync.Mutex

	verdicts map[string]scanner.Verdict
	errs     map[string]error

	// Calls records the filenames scanned, in order.
	Calls []string
}

// New creates a mock scanner.
func New() *Scanner {
	return &Scanner{
		verdicts: make(map[string]scanner.Verdict),
		errs:     make(map[string]error),
	}
}

// SetVerdict registers the verdict returned for filename.
func (s *Scanner) SetVerdict(filename string, v scanner.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[filename] = v
}

// SetError registers a transport error returned for filename.
func (s *Scanner) SetError(filename string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[filename] = err
}

// ScanCount returns how many scans have been performed.
func (s *Scanner) ScanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Scan implements scanner.Scanner.
func (s *Scanner) Scan(ctx context.Context, content []byte, filename string) (scanner.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, filename)

	if err, ok := s.errs[filename]; ok {
		return nil, err
	}
	if v, ok := s.verdicts[filename]; ok {
		return v, nil
	}
	return scanner.Safe{}, nil
}
