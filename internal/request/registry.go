// Package request correlates caller-supplied request identifiers with
// their single eventual result. Every non-trivial async operation in the
// engine runs through here: register on issue, fulfill on completion,
// expire on timeout, and in all cases exactly one notification leaves the
// building per request id.
package request

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cadenza-audio/cadenza/internal/bus"
)

// DefaultTimeout applies when a request is registered without one. The
// exposed contract does not let callers pick timeouts; issuing calls pass
// their documented defaults.
const DefaultTimeout = 30 * time.Second

// SweepInterval is how often the background sweep checks for expired
// requests.
const SweepInterval = 250 * time.Millisecond

// DuplicateRequestError reports a request id that is still outstanding.
// Detection is best effort: the engine does not enforce global uniqueness
// across the process lifetime, only against currently pending requests.
type DuplicateRequestError struct {
	ID int64
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("request %d is already pending", e.ID)
}

// Request describes a pending async operation.
type Request struct {
	ID      int64
	Tags    []string
	Timeout time.Duration // 0 means DefaultTimeout

	// Fields are extra top-level members for the completion notification
	// (e.g. experienceId on metadata downloads).
	Fields map[string]any

	// TimeoutResult is the result payload published if the request
	// expires: false for downloads, nil for queries, matching each call's
	// documented failure shape.
	TimeoutResult any
}

type entry struct {
	req      Request
	deadline time.Time
}

// Registry tracks pending requests and publishes their terminal
// notifications through the bus.
type Registry struct {
	bus *bus.Bus
	log *logrus.Logger
	now func() time.Time // injectable for tests

	mu      sync.Mutex
	pending map[int64]*entry
}

// New creates an empty registry publishing to b.
func New(b *bus.Bus, log *logrus.Logger) *Registry {
	return &Registry{
		bus:     b,
		log:     log,
		now:     time.Now,
		pending: make(map[int64]*entry),
	}
}

// Register records a pending request. Returns a *DuplicateRequestError if
// the same id is still outstanding.
func (r *Registry) Register(req Request) error {
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[req.ID]; ok {
		return &DuplicateRequestError{ID: req.ID}
	}
	r.pending[req.ID] = &entry{req: req, deadline: r.now().Add(req.Timeout)}
	return nil
}

// Fulfill resolves the request and publishes its completion notification
// exactly once. Unknown or already-terminal ids are absorbed with a log
// line; racing collaborators may legitimately complete twice.
func (r *Registry) Fulfill(id int64, result any) {
	r.mu.Lock()
	e, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		r.log.WithField("request", id).Debug("fulfill for unknown or completed request ignored")
		return
	}

	r.publish(e, result)
}

// Sweep expires every pending request whose deadline has passed, publishing
// one timeout notification each. Returns the number expired.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	var expired []*entry
	for id, e := range r.pending {
		if now.After(e.deadline) {
			expired = append(expired, e)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		r.log.WithFields(logrus.Fields{
			"request": e.req.ID,
			"tags":    e.req.Tags,
		}).Warn("request timed out")
		r.publish(e, e.req.TimeoutResult)
	}
	return len(expired)
}

// Run sweeps periodically until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// PendingCount returns the number of outstanding requests.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) publish(e *entry, result any) {
	id := e.req.ID
	r.bus.Publish(bus.Notification{
		Tags:    e.req.Tags,
		Request: &id,
		Result:  result,
		Fields:  e.req.Fields,
	})
}
