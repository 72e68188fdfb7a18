package audit

import "github.com/dyluth/warren/pkg/blackboard"

// ring is a fixed-capacity FIFO of audit entries. When full, pushing evicts
// the oldest entry. Not safe for concurrent use.
type ring struct {
	buf   []blackboard.AuditEntry
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]blackboard.AuditEntry, capacity)}
}

func (r *ring) push(e blackboard.AuditEntry) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// each visits entries oldest first until fn returns false.
func (r *ring) each(fn func(e *blackboard.AuditEntry) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(&r.buf[(r.start+i)%len(r.buf)]) {
			return
		}
	}
}

func (r *ring) len() int {
	return r.size
}
