package authplugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticValidatorResolvesKnownToken(t *testing.T) {
	v := NewStaticValidator(map[string]Identity{
		"tok-1": {PlayerTSID: "P000000000001"},
	})
	id, err := v.Validate(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "P000000000001", id.PlayerTSID)
}

func TestStaticValidatorRejectsUnknownToken(t *testing.T) {
	v := NewStaticValidator(nil)
	_, err := v.Validate(context.Background(), "nope")
	require.Error(t, err)
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("static", NewStaticValidator(nil))

	_, ok := r.Get("static")
	require.True(t, ok)
	_, ok = r.Get("missing")
	require.False(t, ok)
}
