package fieldcall

import "sync"

// candidateQueue buffers remote candidates that arrive before the remote
// description exists. Two invariants hold for the session:
//
//   - a candidate is admitted at most once, no matter how often the channel
//     echoes it (dedup by candidate identity);
//   - Drain hands back the buffered candidates exactly once, in arrival
//     order, and leaves the queue empty.
type candidateQueue struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	pending []Candidate
}

func newCandidateQueue() *candidateQueue {
	return &candidateQueue{seen: make(map[string]struct{})}
}

// Admit records the candidate's identity and reports whether it is new.
// Used on the direct-apply path once a remote description exists.
func (q *candidateQueue) Admit(c Candidate) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.admitLocked(c)
}

// Buffer admits the candidate and, if new, appends it for a later Drain.
func (q *candidateQueue) Buffer(c Candidate) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.admitLocked(c) {
		return false
	}
	q.pending = append(q.pending, c)
	return true
}

// Drain removes and returns everything buffered so far, in arrival order.
func (q *candidateQueue) Drain() []Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

func (q *candidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *candidateQueue) admitLocked(c Candidate) bool {
	k := c.key()
	if _, dup := q.seen[k]; dup {
		return false
	}
	q.seen[k] = struct{}{}
	return true
}
