package testutil

import (
	"strings"
	"sync"
)

// CallLog records collaborator calls in the order they happen.
// Fakes in different packages share one CallLog to assert cross-collaborator
// ordering (e.g. finish before sync).
//
// Thread-safety: CallLog is safe for concurrent use.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

// Record appends a call. Parts are joined with ":" (e.g. "finish", "tx-1").
func (l *CallLog) Record(parts ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, strings.Join(parts, ":"))
}

// Calls returns a copy of the recorded calls.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// Count returns how many recorded calls start with prefix.
func (l *CallLog) Count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
