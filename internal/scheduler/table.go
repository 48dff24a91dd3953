package scheduler

import "sync"

// Table holds per-segment outcomes and the shared first-failure record.
// All methods are safe for concurrent use.
type Table[T any] struct {
	mu        sync.Mutex
	total     int
	values    map[int]T
	completed int
	failure   error
}

// NewTable creates an empty table for total segments.
func NewTable[T any](total int) *Table[T] {
	return &Table[T]{
		total:  total,
		values: make(map[int]T, total),
	}
}

// Total returns the number of segments the table was created for.
func (t *Table[T]) Total() int {
	return t.total
}

// Store records the outcome for index and returns the resulting progress
// snapshot. It returns false without writing if a failure was recorded or
// the index already has an outcome.
func (t *Table[T]) Store(index int, value T) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failure != nil {
		return Progress{}, false
	}
	if _, exists := t.values[index]; exists {
		return Progress{}, false
	}

	t.values[index] = value
	t.completed++
	return Progress{Total: t.total, Completed: t.completed, Index: index}, true
}

// Fail records err as the table's failure if none is set yet.
// It reports whether err became the recorded failure.
func (t *Table[T]) Fail(err error) bool {
	if err == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failure != nil {
		return false
	}
	t.failure = err
	return true
}

// Failed reports whether a failure has been recorded.
func (t *Table[T]) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure != nil
}

// Err returns the first recorded failure, or nil.
func (t *Table[T]) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

// Get returns the outcome stored for index.
func (t *Table[T]) Get(index int) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.values[index]
	return v, ok
}

// Completed returns the number of accepted outcomes.
func (t *Table[T]) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}
