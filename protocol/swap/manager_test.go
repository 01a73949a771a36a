package swap

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestManager_AddAndComplete(t *testing.T) {
	m := NewManager()
	id := uuid.New()

	info := NewInfo(id, "xmr")
	require.NoError(t, m.AddSwap(info))
	require.True(t, m.HasOngoingSwap(id))
	require.Error(t, m.AddSwap(info))

	got, err := m.GetOngoingSwap(id)
	require.NoError(t, err)
	require.Equal(t, Ongoing, got.Status)

	require.NoError(t, m.CompleteOngoingSwap(id, Success))
	require.False(t, m.HasOngoingSwap(id))

	past, err := m.GetPastSwap(id)
	require.NoError(t, err)
	require.Equal(t, Success, past.Status)
	require.NotNil(t, past.EndTime)

	_, err = m.GetOngoingSwap(id)
	require.Error(t, err)
}

func TestInfo_StatusCh(t *testing.T) {
	info := NewInfo(uuid.New(), "btc")
	info.SetStateTag("btc_locked")
	info.SetStateTag("xmr_locked")

	require.Equal(t, "btc_locked", <-info.StatusCh())
	require.Equal(t, "xmr_locked", <-info.StatusCh())
	require.Equal(t, "xmr_locked", info.StateTag)
}
