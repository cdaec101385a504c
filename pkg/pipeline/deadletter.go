package pipeline

import (
	"context"
	"sync"
	"time"
)

// DeadLetterReason explains why a record left the pipeline unprocessed
type DeadLetterReason string

const (
	ReasonMaxRetries   DeadLetterReason = "max_retries"
	ReasonFailed       DeadLetterReason = "failed"
	ReasonRequeueLimit DeadLetterReason = "requeue_limit"
)

// DeadLetter is a record the pipeline gave up on
type DeadLetter struct {
	ID        string           `json:"id"`
	RecordID  string           `json:"record_id"`
	Reason    DeadLetterReason `json:"reason"`
	Error     string           `json:"error"`
	Attempts  int              `json:"attempts"`
	Requeues  int              `json:"requeues"`
	CreatedAt time.Time        `json:"created_at"`
	TraceID   string           `json:"trace_id,omitempty"`
}

// DeadLetterSink stores dead letters for operators to inspect and replay
type DeadLetterSink interface {
	Add(ctx context.Context, letter DeadLetter) error
}

// DeadLetterReader lists stored dead letters, newest first. A count of
// zero or less uses the reader's default.
type DeadLetterReader interface {
	List(ctx context.Context, count int64) ([]DeadLetter, error)
}

// DeadLetterStore is a sink operators can read back
type DeadLetterStore interface {
	DeadLetterSink
	DeadLetterReader
}

// MemoryDeadLetters keeps dead letters in process
type MemoryDeadLetters struct {
	mu      sync.Mutex
	letters []DeadLetter
}

func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{}
}

func (m *MemoryDeadLetters) Add(_ context.Context, letter DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters = append(m.letters, letter)
	return nil
}

// List returns up to count dead letters, newest first. A count of zero or
// less returns all of them.
func (m *MemoryDeadLetters) List(_ context.Context, count int64) ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.letters))
	if count > 0 && count < n {
		n = count
	}
	letters := make([]DeadLetter, 0, n)
	for i := len(m.letters) - 1; i >= 0 && int64(len(letters)) < n; i-- {
		letters = append(letters, m.letters[i])
	}
	return letters, nil
}
