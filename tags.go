package dmsconnector

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// responseGroup is the list of reply records accumulated for one tag
// (spec §3, "Response slot"; spec §4.4, "Multi-record grouping" — a
// single "get" command can produce several records sharing a tag).
type responseGroup []Response

// slot is the rendezvous a caller blocks on: empty until the decoder
// calls complete, at which point ready is closed exactly once and list
// is readable without further synchronization (spec §4.1).
type slot struct {
	ready chan struct{}
	once  sync.Once
	list  responseGroup
}

func newSlot() *slot {
	return &slot{ready: make(chan struct{})}
}

func (s *slot) complete(list responseGroup) {
	s.once.Do(func() {
		s.list = list
		close(s.ready)
	})
}

// tagTable is the tag allocator and pending-response table of spec §4.1.
// reserve always inserts the slot before the caller can possibly send
// the envelope, so complete can never race ahead of a take that hasn't
// looked the tag up yet (spec §4.1, "benign race" note).
type tagTable struct {
	mu      sync.Mutex
	pending map[string]*slot
	closed  bool
}

func newTagTable() *tagTable {
	return &tagTable{pending: make(map[string]*slot)}
}

// reserve mints a fresh tag, or accepts a caller-supplied one for
// subscription rebinding, and inserts an empty slot for it.
func (t *tagTable) reserve(want string) string {
	tag := want
	if tag == "" {
		tag = uuid.NewString()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[tag] = newSlot()
	return tag
}

// complete attaches list to tag's slot and wakes its waiter. A tag with
// no pending slot (an already-collected or never-reserved tag) is
// reported to the caller so the decoder can log and drop it (spec §4.4,
// "Untagged replies are logged and discarded" and §3's correlation
// invariant).
func (t *tagTable) complete(tag string, list responseGroup) bool {
	t.mu.Lock()
	s, ok := t.pending[tag]
	t.mu.Unlock()
	if !ok {
		return false
	}
	s.complete(list)
	return true
}

// take blocks until tag's slot is completed, the context is done, or
// the transport is closed, then removes and returns the slot (spec
// §4.1; spec §5, "Cancellation and timeouts"). A timed-out or
// context-cancelled take leaves the slot in the table: a late reply
// still has somewhere to land, and becomes a bounded leak per spec §5.
func (t *tagTable) take(ctx context.Context, tag string) (responseGroup, error) {
	t.mu.Lock()
	s, ok := t.pending[tag]
	t.mu.Unlock()
	if !ok {
		return nil, ErrClosed
	}

	select {
	case <-s.ready:
		t.mu.Lock()
		closed := t.closed
		delete(t.pending, tag)
		t.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return s.list, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// drain fails every still-pending slot with ErrClosed, unblocking any
// caller waiting in take. Called on connection close (spec §5: "Transport
// close signals every outstanding take to fail" plus the implementation
// suggestion to proactively drain pending slots).
func (t *tagTable) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for tag, s := range t.pending {
		s.complete(responseGroup{closedResponse(tag)})
		delete(t.pending, tag)
	}
}

// closedResponse synthesizes a response carrying the error code, used to
// complete a drained slot; take itself reports a drained slot as
// ErrClosed.
func closedResponse(tag string) Response {
	return &RespGet{ResponseBase: ResponseBase{Code: CodeError, Tag: tag, Message: ErrClosed.Error()}}
}
