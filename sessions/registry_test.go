package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateGetRemove(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	sess := New("tok-1", nil)

	require.NoError(t, r.Create(sess))
	assert.Equal(t, 1, r.Len())

	got, err := r.Get("tok-1")
	require.NoError(t, err)
	assert.Same(t, sess, got)

	r.Remove("tok-1")
	_, err = r.Get("tok-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, r.Len())
}

func TestRegistryCreateConflict(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Create(New("tok-1", nil)))

	err := r.Create(New("tok-1", nil))
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemoveAbsentIsNoop(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Remove("never-registered")
	assert.Zero(t, r.Len())
}

func TestRegistryGetUnknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
