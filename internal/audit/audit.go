// Package audit records the outcome of every dispatched utterance so that
// unrecognized phrases can be reviewed and the command catalog tuned.
//
// Two implementations are provided: [MemLog], a bounded in-memory ring used
// by default and in tests, and [PostgresLog], backed by a voice_commands
// table when a DSN is configured. Recording is advisory — callers log and
// continue on error, never failing the navigation itself.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/darasahub/voicenav/internal/command"
)

// Entry is one dispatched utterance and its outcome.
type Entry struct {
	// Time is when the utterance was dispatched.
	Time time.Time

	// Role is the role of the user who spoke.
	Role command.Role

	// Transcript is the heard utterance text.
	Transcript string

	// Executed reports whether a command was matched and navigated to.
	Executed bool

	// Phrase is the matched catalog phrase. Empty when rejected.
	Phrase string

	// Target is the navigation route taken. Empty when rejected.
	Target string

	// Score is the best match score, or -1 when nothing matched at all.
	Score float64
}

// Recorder persists utterance outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Record appends one entry.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
}

// defaultMemCapacity bounds the in-memory log when no capacity is configured.
const defaultMemCapacity = 256

// MemLog is a bounded in-memory [Recorder]. When full, the oldest entry is
// dropped. The zero value is usable with the default capacity.
type MemLog struct {
	mu      sync.Mutex
	cap     int
	entries []Entry
}

// Compile-time interface check.
var _ Recorder = (*MemLog)(nil)

// NewMemLog returns a MemLog holding at most capacity entries.
// A non-positive capacity selects the default of 256.
func NewMemLog(capacity int) *MemLog {
	if capacity <= 0 {
		capacity = defaultMemCapacity
	}
	return &MemLog{cap: capacity}
}

// Record implements [Recorder].
func (l *MemLog) Record(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cap == 0 {
		l.cap = defaultMemCapacity
	}
	l.entries = append(l.entries, e)
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
	return nil
}

// Recent implements [Recorder].
func (l *MemLog) Recent(_ context.Context, n int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}
