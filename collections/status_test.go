package collections

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	require.Equal(t, StatusPending, ParseStatus("PENDING"))
	require.Equal(t, StatusSuccessful, ParseStatus("SUCCESSFUL"))
	require.Equal(t, StatusFailed, ParseStatus("FAILED"))
	require.Equal(t, StatusUnknown, ParseStatus("REJECTED"))
	require.Equal(t, StatusUnknown, ParseStatus("pending"))
	require.Equal(t, StatusUnknown, ParseStatus(""))
}

func TestStatusTerminal(t *testing.T) {
	require.True(t, StatusSuccessful.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusUnknown.Terminal())
}
