package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_Envelope(t *testing.T) {
	data, err := Encode(EventDisplayNavigate, DisplayNavigate{URL: "https://example.com/menu"})
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, EventDisplayNavigate, env.Event)

	var nav DisplayNavigate
	require.NoError(t, env.DecodePayload(&nav))
	require.Equal(t, "https://example.com/menu", nav.URL)
}

func TestDecodeEnvelope_MissingEvent(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"payload":{}}`))
	require.ErrorIs(t, err, ErrMissingEvent)
}

func TestDecodeEnvelope_Garbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)
}

func TestDecodePayload_NilPayload(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"display:refresh"}`))
	require.NoError(t, err)

	var refresh struct{}
	require.NoError(t, env.DecodePayload(&refresh))
}

func TestDecodePayload_IgnoresUnknownFields(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"remote:click","payload":{"x":10,"y":20,"pressure":0.9}}`))
	require.NoError(t, err)

	var click RemoteClick
	require.NoError(t, env.DecodePayload(&click))
	require.Equal(t, 10, click.X)
	require.Equal(t, 20, click.Y)
}

func TestContentUpdate_RoundTrip(t *testing.T) {
	idx := 2
	elapsed := int64(7000)
	update := ContentUpdate{
		PlaylistID: 5,
		Items: []PlaylistItem{
			{ID: 1, URL: "/menu", DurationSeconds: 15, OrderIndex: 0, DaysOfWeek: []int{1, 2, 3, 4, 5}},
			{ID: 2, URL: "/specials", DurationSeconds: 0, OrderIndex: 1, TimeWindowStart: "09:00", TimeWindowEnd: "17:00"},
		},
		StartIndex:     &idx,
		StartElapsedMs: &elapsed,
	}

	data, err := Encode(EventContentUpdate, update)
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)

	var decoded ContentUpdate
	require.NoError(t, env.DecodePayload(&decoded))
	require.Equal(t, update.PlaylistID, decoded.PlaylistID)
	require.Len(t, decoded.Items, 2)
	require.Equal(t, []int{1, 2, 3, 4, 5}, decoded.Items[0].DaysOfWeek)
	require.Equal(t, "09:00", decoded.Items[1].TimeWindowStart)
	require.NotNil(t, decoded.StartIndex)
	require.Equal(t, 2, *decoded.StartIndex)
	require.NotNil(t, decoded.StartElapsedMs)
	require.Equal(t, int64(7000), *decoded.StartElapsedMs)
}

func TestIsDeviceBound(t *testing.T) {
	require.True(t, IsDeviceBound(EventPlaylistPause))
	require.True(t, IsDeviceBound(EventDeviceRestart))
	require.False(t, IsDeviceBound(EventDeviceRegister))
	require.False(t, IsDeviceBound(EventAdminDeviceStatus))
	require.False(t, IsDeviceBound("made:up"))
}
