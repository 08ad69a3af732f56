package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicScopeTag(t *testing.T) {
	s := Public()

	assert.True(t, s.IsPublic())
	assert.Equal(t, map[string]string{TagKey: TagPublic}, s.Tag())
	assert.Equal(t, "public", s.String())
}

func TestSessionScopeTag(t *testing.T) {
	s := Session("s1")

	assert.False(t, s.IsPublic())
	assert.Equal(t, "s1", s.SessionID())
	assert.Equal(t, map[string]string{TagKey: TagSession, SessionIDKey: "s1"}, s.Tag())
	assert.Equal(t, "session:s1", s.String())
}

func TestFilterMatchesTag(t *testing.T) {
	// A record tagged at ingestion must be found by the same scope's filter.
	assert.Equal(t, Public().Tag(), Public().Filter())
	assert.Equal(t, Session("abc").Tag(), Session("abc").Filter())
}

func TestValidateChunkLink(t *testing.T) {
	tests := []struct {
		name      string
		batchID   string
		sessionID string
		wantErr   error
	}{
		{"batch only", "b1", "", nil},
		{"session only", "", "s1", nil},
		{"neither", "", "", ErrNoOwner},
		{"both", "b1", "s1", ErrBothOwners},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunkLink(tt.batchID, tt.sessionID)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestForChunkLink(t *testing.T) {
	s, err := ForChunkLink("b1", "")
	require.NoError(t, err)
	assert.True(t, s.IsPublic())

	s, err = ForChunkLink("", "s9")
	require.NoError(t, err)
	assert.Equal(t, "s9", s.SessionID())

	_, err = ForChunkLink("", "")
	assert.ErrorIs(t, err, ErrNoOwner)

	_, err = ForChunkLink("b1", "s9")
	assert.ErrorIs(t, err, ErrBothOwners)
}
