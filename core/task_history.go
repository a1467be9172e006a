package core

import (
	"reflect"
	"runtime"
	"sync"
)

const defaultTaskHistoryCapacity = 100

// executionHistory keeps the newest records in a fixed-size ring. Only the
// consumer goroutine adds; readers may be anywhere.
type executionHistory struct {
	mu      sync.Mutex
	records []TaskExecutionRecord
	written uint64 // total records ever added
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{records: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) slot(n uint64) int {
	return int(n % uint64(len(h.records)))
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	h.records[h.slot(h.written)] = record
	h.written++
	h.mu.Unlock()
}

// Recent returns up to limit records, newest first. A limit <= 0 returns
// everything retained.
func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	retained := min(h.written, uint64(len(h.records)))
	if retained == 0 {
		return nil
	}
	n := int(retained)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]TaskExecutionRecord, n)
	for i := range out {
		out[i] = h.records[h.slot(h.written-1-uint64(i))]
	}
	return out
}

func (h *executionHistory) Last() (TaskExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.written == 0 {
		return TaskExecutionRecord{}, false
	}
	return h.records[h.slot(h.written-1)], true
}

const anonymousTask = "anonymous"

// resolveTaskName returns explicit, or the name of fn's function when
// explicit is empty.
func resolveTaskName(fn TaskFunc, explicit string) string {
	switch {
	case explicit != "":
		return explicit
	case fn == nil:
		return anonymousTask
	}
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil && f.Name() != "" {
		return f.Name()
	}
	return anonymousTask
}
