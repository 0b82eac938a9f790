package relay

import (
	"testing"

	fieldcall "github.com/gridlens/fieldcall"
	"github.com/gridlens/fieldcall/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(s string) fieldcall.Candidate {
	return fieldcall.Candidate{Candidate: s}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(shared.NewNopLogger())
	require.NoError(t, err)
	return st
}

func TestStoreCandidateOrderPreserved(t *testing.T) {
	st := newStore(t)
	require.NoError(t, st.PutOffer("s1", "offer"))
	for _, c := range []string{"a", "b", "c"} {
		_, err := st.AddCandidate("s1", fieldcall.RoleCaller, cand(c))
		require.NoError(t, err)
	}
	rec, ok := st.Snapshot("s1")
	require.True(t, ok)
	require.Len(t, rec.CallerCandidates, 3)
	assert.Equal(t, "a", rec.CallerCandidates[0].Candidate.Candidate)
	assert.Equal(t, "b", rec.CallerCandidates[1].Candidate.Candidate)
	assert.Equal(t, "c", rec.CallerCandidates[2].Candidate.Candidate)
	assert.Empty(t, rec.CalleeCandidates)
}

func TestStoreRejectsCompetingOffer(t *testing.T) {
	st := newStore(t)
	require.NoError(t, st.PutOffer("s1", "first"))
	require.NoError(t, st.PutOffer("s1", "first"), "re-publishing the same offer is harmless")
	assert.ErrorIs(t, st.PutOffer("s1", "second"), shared.ErrOfferTaken)
}

func TestStoreAnswerRequiresSession(t *testing.T) {
	st := newStore(t)
	assert.ErrorIs(t, st.PutAnswer("ghost", "answer"), shared.ErrUnknownSession)
}

func TestStoreRemoveClearsEverything(t *testing.T) {
	st := newStore(t)
	require.NoError(t, st.PutOffer("s1", "offer"))
	require.NoError(t, st.PutAnswer("s1", "answer"))
	_, err := st.AddCandidate("s1", fieldcall.RoleCaller, cand("a"))
	require.NoError(t, err)
	_, err = st.AddCandidate("s1", fieldcall.RoleCallee, cand("b"))
	require.NoError(t, err)

	st.Remove("s1")
	_, ok := st.Snapshot("s1")
	assert.False(t, ok, "removed session is gone until someone writes again")

	// The id is immediately reusable for a fresh call.
	require.NoError(t, st.PutOffer("s1", "next-call"))
	rec, ok := st.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, "next-call", *rec.Offer)
	assert.Nil(t, rec.Answer)
	assert.Empty(t, rec.CallerCandidates)
}

func TestStoreSubscribeReplaysAndFilters(t *testing.T) {
	st := newStore(t)
	require.NoError(t, st.PutOffer("s1", "offer"))
	_, err := st.AddCandidate("s1", fieldcall.RoleCaller, cand("a"))
	require.NoError(t, err)

	callee := st.Subscribe("s1", fieldcall.RoleCallee)
	defer callee.Close()
	caller := st.Subscribe("s1", fieldcall.RoleCaller)
	defer caller.Close()

	// Replay: the callee sees the existing offer and caller candidate.
	ev := <-callee.Events()
	assert.Equal(t, fieldcall.ChannelEventOfferPut, ev.Type)
	assert.Equal(t, "offer", ev.SDP)
	ev = <-callee.Events()
	assert.Equal(t, fieldcall.ChannelEventCandidateAdded, ev.Type)
	assert.Equal(t, fieldcall.RoleCaller, ev.From)

	// The caller had nothing to replay; a live answer reaches it only.
	require.NoError(t, st.PutAnswer("s1", "answer"))
	ev = <-caller.Events()
	assert.Equal(t, fieldcall.ChannelEventAnswerPut, ev.Type)
	select {
	case ev = <-callee.Events():
		t.Fatalf("callee must not observe its own answer, got %s", ev.Type)
	default:
	}
}

func TestStoreRemoveNotifiesSubscribers(t *testing.T) {
	st := newStore(t)
	require.NoError(t, st.PutOffer("s1", "offer"))
	callee := st.Subscribe("s1", fieldcall.RoleCallee)
	defer callee.Close()
	<-callee.Events() // replayed offer

	st.Remove("s1")
	ev := <-callee.Events()
	assert.Equal(t, fieldcall.ChannelEventOfferRemoved, ev.Type)
	ev = <-callee.Events()
	assert.Equal(t, fieldcall.ChannelEventRecordRemoved, ev.Type)
}
