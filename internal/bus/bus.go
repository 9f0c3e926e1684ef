// Package bus delivers tagged JSON notifications to a single registered
// sink. The sink is a swappable strategy: either a host callback or a
// websocket fan-out, never both.
package bus

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Notification is an immutable event payload. Tags classify it (e.g.
// ["download","experiences"]), Request ties it to a pending async call,
// and Result carries the operation's outcome. Fields holds additional
// top-level members some notifications carry (e.g. experienceId).
type Notification struct {
	Tags    []string
	Request *int64
	Result  any
	Fields  map[string]any
}

// MarshalJSON flattens the notification into the wire shape:
// { tags: [...], request?: id, result: ..., <extra fields> }.
func (n Notification) MarshalJSON() ([]byte, error) {
	obj := map[string]json.RawMessage{}

	tags, err := json.Marshal(n.Tags)
	if err != nil {
		return nil, err
	}
	obj["tags"] = tags

	if n.Request != nil {
		req, err := json.Marshal(*n.Request)
		if err != nil {
			return nil, err
		}
		obj["request"] = req
	}

	result, err := json.Marshal(n.Result)
	if err != nil {
		return nil, err
	}
	obj["result"] = result

	for k, v := range n.Fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = raw
	}

	// Stable key order keeps payloads diffable in logs and goldens.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		kb, _ := json.Marshal(k)
		out = append(out, kb...)
		out = append(out, ':')
		out = append(out, obj[k]...)
	}
	return append(out, '}'), nil
}

// Sink receives encoded notification payloads. Deliver runs on the
// publishing thread; implementations that do heavy work delay subsequent
// deliveries for every publisher.
type Sink interface {
	Deliver(payload []byte)
}

// Bus is the notification dispatcher. Publish is synchronous: the sink
// runs on the caller's goroutine, and a single internal mutex serializes
// deliveries so each publisher observes FIFO order for its own events.
type Bus struct {
	mu   sync.Mutex
	sink Sink
	log  *logrus.Logger
}

// New creates a bus with no sink. Notifications published before a sink is
// set are dropped.
func New(log *logrus.Logger) *Bus {
	return &Bus{log: log}
}

// SetSink swaps the active sink. Control thread only. Takes effect for
// subsequently published notifications; nothing is redelivered.
func (b *Bus) SetSink(s Sink) {
	b.mu.Lock()
	b.sink = s
	b.mu.Unlock()
}

// Publish encodes n and hands it to the active sink exactly once. If no
// sink is registered the notification is dropped with a debug log.
func (b *Bus) Publish(n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		b.log.WithError(err).WithField("tags", n.Tags).Error("encode notification")
		return
	}

	b.mu.Lock()
	sink := b.sink
	if sink != nil {
		sink.Deliver(payload)
	}
	b.mu.Unlock()

	if sink == nil {
		b.log.WithField("tags", n.Tags).Debug("notification dropped: no sink registered")
	}
}

// CallbackSink adapts a host-supplied function to the Sink interface. This
// is the Go rendering of the object-pointer + function-pointer callback
// convention: the closure carries the receiver.
type CallbackSink struct {
	fn func(payload []byte)
}

// NewCallbackSink wraps fn as a sink. fn must not be nil.
func NewCallbackSink(fn func(payload []byte)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Deliver invokes the host callback on the publishing goroutine.
func (s *CallbackSink) Deliver(payload []byte) {
	s.fn(payload)
}
