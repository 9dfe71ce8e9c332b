// Package registry implements the in-flight OCPP request table (C2) and the
// outbound buffer (C3) that a station's outgoing service and connection
// manager share.
package registry

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/evfleet/ocppsim/internal/ocpp"
)

// Entry is a single in-flight CALL awaiting a CALLRESULT/CALLERROR, modeled
// after the teacher's protocol.Session lifecycle (created, touched,
// completed exactly once, with an expiry).
type Entry struct {
	MessageID string
	Command   string
	Payload   json.RawMessage
	Deadline  time.Time

	done    chan struct{}
	once    sync.Once
	result  json.RawMessage
	err     error
}

// Future is the caller-facing handle returned by Register.
type Future struct {
	entry *Entry
}

// Wait blocks until the entry completes, fails, times out in a sweep, or is
// canceled. It never races with Complete/Fail/Sweep: exactly one of them
// closes entry.done.
func (f *Future) Wait() (json.RawMessage, error) {
	<-f.entry.done
	return f.entry.result, f.entry.err
}

// Done exposes the completion channel for select-based callers (the
// outgoing service, which races a Future against its caller's context and
// its own deadline timer).
func (f *Future) Done() <-chan struct{} { return f.entry.done }

// Registry is the per-station request table. At most one Entry exists per
// messageId at any time; entries are removed on completion, failure, or
// sweep-driven timeout.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	log     *slog.Logger
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		log:     log,
	}
}

// Register adds a new in-flight entry. It fails with ocpp.ErrDuplicateID if
// messageID is already tracked.
func (r *Registry) Register(messageID, command string, payload json.RawMessage, deadline time.Time) (*Future, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[messageID]; exists {
		return nil, ocpp.ErrDuplicateID
	}

	e := &Entry{
		MessageID: messageID,
		Command:   command,
		Payload:   payload,
		Deadline:  deadline,
		done:      make(chan struct{}),
	}
	r.entries[messageID] = e
	return &Future{entry: e}, nil
}

// Complete resolves an entry with a CALLRESULT payload. Completing an
// unknown id is logged as a warning and never panics the dispatcher — the
// response may have arrived after the registry already swept it as timed
// out.
func (r *Registry) Complete(messageID string, payload json.RawMessage) error {
	e := r.pop(messageID)
	if e == nil {
		r.log.Warn("ocpp: CALLRESULT for unknown or expired messageId", "messageId", messageID)
		return ocpp.ErrUnknownID
	}
	e.result = payload
	e.once.Do(func() { close(e.done) })
	return nil
}

// Fail resolves an entry with a CALLERROR or transport-level error.
func (r *Registry) Fail(messageID string, err error) error {
	e := r.pop(messageID)
	if e == nil {
		r.log.Warn("ocpp: CALLERROR for unknown or expired messageId", "messageId", messageID)
		return ocpp.ErrUnknownID
	}
	e.err = err
	e.once.Do(func() { close(e.done) })
	return nil
}

// Lookup returns the command an in-flight messageId was registered for,
// used by the outgoing response post-processor to dispatch on cmd without
// re-parsing the original CALL.
func (r *Registry) Lookup(messageID string) (command string, payload json.RawMessage, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.entries[messageID]
	if !exists {
		return "", nil, false
	}
	return e.Command, e.Payload, true
}

// Sweep fails every entry whose deadline has passed with ocpp.ErrTimeout.
// Invoked on a ticker and whenever a message is received (spec §4.2).
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []*Entry
	for id, e := range r.entries {
		if now.After(e.Deadline) {
			expired = append(expired, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.err = ocpp.ErrTimeout
		e.once.Do(func() { close(e.done) })
	}
	return len(expired)
}

// CancelAll fails every outstanding entry with ocpp.ErrCanceled. Called when
// a station is stopped (spec §4.7, §5 Cancellation).
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for id, e := range r.entries {
		entries = append(entries, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.err = ocpp.ErrCanceled
		e.once.Do(func() { close(e.done) })
	}
	return len(entries)
}

// Len reports the number of in-flight entries, used by performanceStatistics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) pop(messageID string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[messageID]
	if !ok {
		return nil
	}
	delete(r.entries, messageID)
	return e
}
