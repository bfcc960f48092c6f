package common

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUUID(t *testing.T) {
	want := uuid.New()
	got, err := ParseUUID("id", want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	for _, raw := range []string{"", "   ", "not-a-uuid"} {
		_, err := ParseUUID("id", raw)
		require.Error(t, err, raw)
		assert.Equal(t, CodeValidation, CodeOf(err), raw)
		assert.True(t, IsValidation(err), raw)
		assert.Contains(t, err.Error(), "'id'", raw)
	}
}
