// Package report implements the Metadata Sink and Outcome Reporter
// (SPEC_FULL.md §4.6, §4.7): append-only "key: value" lines, with a
// single authoritative internal-error record and the "errors during
// error handling are suppressed" re-entrancy rule from spec.md §7.
package report

import (
	"fmt"
	"os"
	"sync"
)

// Sink is the append-only metadata file. A write failure disables all
// further output; the failure itself is not reported: WriteKV returns
// nothing and no internal-error record or exit status results from it.
type Sink struct {
	mu       sync.Mutex
	file     *os.File
	disabled bool
}

// Open creates the metadata file, truncating it if it exists. path == ""
// means metadata output is not configured; all subsequent writes are
// silently dropped.
func Open(path string) (*Sink, error) {
	if path == "" {
		return &Sink{disabled: true}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	return &Sink{file: f}, nil
}

// WriteKV appends one "key: value" line. Once disabled (by an earlier
// write error or by FailFatal), further calls are no-ops — metadata is
// never touched from a re-entrant error path per spec.md §7.
func (s *Sink) WriteKV(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled || s.file == nil {
		return
	}
	line := fmt.Sprintf("%s: %s\n", key, value)
	if _, err := s.file.WriteString(line); err != nil {
		s.disabled = true
	}
}

// Close flushes and closes the metadata file. Safe to call even when
// metadata output was never configured.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// FailFatal writes the single authoritative internal-error record and
// disables all further metadata writes, implementing the "recursive
// errors are suppressed" rule: only the first caller's message wins.
func (s *Sink) FailFatal(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil || s.disabled {
		return
	}
	line := fmt.Sprintf("internal-error: %s\n", message)
	_, _ = s.file.WriteString(line)
	s.disabled = true
}
