package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

func TestKeyFileName(t *testing.T) {
	assert.Equal(t, "acme-people-2-state.json", Key{"acme", "people", 2}.FileName())
	assert.Equal(t, "_no-catalog-people-0-state.json", Key{PackageSlug: "people"}.FileName())
}

func TestStreamRoundTrip(t *testing.T) {
	s := New(Key{"acme", "people", 1})
	_, ok := s.Stream("people", "people.csv")
	assert.False(t, ok)

	s.Record("people", "APPEND_ONLY_LOG", "people.csv", StreamState{Fingerprint: "H1", Offset: 10})

	blob, err := s.Encode()
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)
	st, ok := decoded.Stream("people", "people.csv")
	require.True(t, ok)
	assert.Equal(t, "H1", st.Fingerprint)
	assert.Equal(t, int64(10), st.Offset)
	assert.Equal(t, "APPEND_ONLY_LOG", decoded.UpdateMethod("people"))

	decoded.Reset("people")
	_, ok = decoded.Stream("people", "people.csv")
	assert.False(t, ok)
}

func TestSetUpdateMethodKeepsStreams(t *testing.T) {
	s := New(Key{"acme", "people", 1})
	s.Record("people", "BATCH_FULL_SET", "people.csv", StreamState{Fingerprint: "H1", Offset: 2})

	s.SetUpdateMethod("people", "APPEND_ONLY_LOG")
	s.SetUpdateMethod("pets", "APPEND_ONLY_LOG")

	assert.Equal(t, "APPEND_ONLY_LOG", s.UpdateMethod("people"))
	st, ok := s.Stream("people", "people.csv")
	require.True(t, ok)
	assert.Equal(t, int64(2), st.Offset)
	assert.Empty(t, s.UpdateMethod("pets"))
}

func TestDecodeEmptyAndInvalid(t *testing.T) {
	s, err := Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	var nilState *SinkState
	_, ok := nilState.Stream("a", "b")
	assert.False(t, ok)

	_, err = Decode([]byte("{not json"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
}

func TestFileStore(t *testing.T) {
	store := FileStore{Dir: t.TempDir()}
	key := Key{"acme", "people", 1}

	blob, err := store.Read(key)
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, store.Write(key, []byte(`{"a":1}`)))
	blob, err = store.Read(key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(blob))
}
