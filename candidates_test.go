package fieldcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCandidateQueueOrderAndDrainOnce(t *testing.T) {
	q := newCandidateQueue()
	for i := 1; i <= 4; i++ {
		assert.True(t, q.Buffer(cand(i)))
	}
	assert.Equal(t, 4, q.Len())

	drained := q.Drain()
	assert.Equal(t, []Candidate{cand(1), cand(2), cand(3), cand(4)}, drained)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain(), "a second drain must hand back nothing")
}

func TestCandidateQueueDeduplicates(t *testing.T) {
	q := newCandidateQueue()
	assert.True(t, q.Buffer(cand(1)))
	assert.False(t, q.Buffer(cand(1)))
	assert.Equal(t, 1, q.Len())

	q.Drain()
	assert.False(t, q.Admit(cand(1)), "identity survives the drain")
	assert.True(t, q.Admit(cand(2)))
	assert.False(t, q.Admit(cand(2)))
}

func TestCandidateIdentityIncludesMid(t *testing.T) {
	mid0, mid1 := "0", "1"
	a := Candidate{SDPMid: &mid0, Candidate: "candidate:x"}
	b := Candidate{SDPMid: &mid1, Candidate: "candidate:x"}
	q := newCandidateQueue()
	assert.True(t, q.Buffer(a))
	assert.True(t, q.Buffer(b), "same candidate string under a different mid is a distinct candidate")
}
