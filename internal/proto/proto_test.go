package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeOptionalFields(t *testing.T) {
	env := Envelope{
		SourceID: []byte{1, 2, 3},
		Data:     []byte("payload"),
		Type:     MsgFindNodes,
		Response: true,
	}

	frame, err := Encode(env)
	require.NoError(t, err)
	got, err := Decode(frame)
	require.NoError(t, err)

	assert.False(t, got.HasDestination())
	assert.False(t, got.HasRelay())
	assert.True(t, got.IsResponse())
	assert.Equal(t, MsgFindNodes, got.Type)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrEmptyFrame)

	_, err = Decode([]byte{0xc1})
	require.Error(t, err)
}

func TestEndpointFromAddr(t *testing.T) {
	ep, err := EndpointFromAddr("10.0.0.7:5483")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{IP: "10.0.0.7", Port: 5483}, *ep)
	assert.Equal(t, "10.0.0.7:5483", ep.Addr())

	_, err = EndpointFromAddr("no-port")
	require.Error(t, err)
}
