package callregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct{ id string }

func TestInsertGetRemoveInvariant(t *testing.T) {
	r := New[*fakeSession]()
	s := &fakeSession{id: "c1"}
	require.True(t, r.Insert("c1", s, 40000, 40001))

	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Same(t, s, got)

	byPort, ok := r.GetByPort(40000)
	require.True(t, ok)
	assert.Same(t, s, byPort)

	freed, ok := r.Remove("c1")
	require.True(t, ok)
	assert.ElementsMatch(t, []int{40000, 40001}, freed)

	_, ok = r.Get("c1")
	assert.False(t, ok)
	_, ok = r.GetByPort(40000)
	assert.False(t, ok)
}

func TestInsertRejectsDuplicateCallID(t *testing.T) {
	r := New[*fakeSession]()
	require.True(t, r.Insert("c1", &fakeSession{id: "c1"}, 1))
	assert.False(t, r.Insert("c1", &fakeSession{id: "c1-dup"}, 2))
}

func TestCountAndCallIDs(t *testing.T) {
	r := New[*fakeSession]()
	r.Insert("a", &fakeSession{id: "a"})
	r.Insert("b", &fakeSession{id: "b"})
	assert.Equal(t, 2, r.Count())
	assert.ElementsMatch(t, []string{"a", "b"}, r.CallIDs())
}

func TestRemoveUnknownCallID(t *testing.T) {
	r := New[*fakeSession]()
	_, ok := r.Remove("missing")
	assert.False(t, ok)
}
