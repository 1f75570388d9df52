package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonRoutingTable_MultiValued(t *testing.T) {
	self := randID(t)
	nrt := NewNonRoutingTable(self, 4)
	client := randID(t)

	require.True(t, nrt.Add(NodeInfo{ID: client, Endpoint: loopback(5001)}))
	require.True(t, nrt.Add(NodeInfo{ID: client, Endpoint: loopback(5002)}))
	require.True(t, nrt.Add(NodeInfo{ID: client, Endpoint: loopback(5002)}), "re-adding refreshes")

	got := nrt.GetNodesInfo(client)
	require.Len(t, got, 2)
	assert.Equal(t, 1, nrt.Size())

	assert.Empty(t, nrt.GetNodesInfo(randID(t)))

	require.True(t, nrt.RemoveEndpoint(client, loopback(5001)))
	assert.Len(t, nrt.GetNodesInfo(client), 1)
	require.True(t, nrt.RemoveEndpoint(client, loopback(5002)))
	assert.False(t, nrt.Contains(client))
}

func TestNonRoutingTable_RejectsSelfAndOverflow(t *testing.T) {
	self := randID(t)
	nrt := NewNonRoutingTable(self, 1)

	assert.False(t, nrt.Add(NodeInfo{ID: self, Endpoint: loopback(1)}))
	assert.False(t, nrt.Add(NodeInfo{ID: randID(t), Endpoint: "bad"}))
	assert.True(t, nrt.Add(NodeInfo{ID: randID(t), Endpoint: loopback(1)}))
	assert.False(t, nrt.Add(NodeInfo{ID: randID(t), Endpoint: loopback(2)}))
}

func TestNonRoutingTable_ResultIsCopy(t *testing.T) {
	nrt := NewNonRoutingTable(randID(t), 4)
	client := randID(t)
	nrt.Add(NodeInfo{ID: client, Endpoint: loopback(1)})

	got := nrt.GetNodesInfo(client)
	got[0].Endpoint = loopback(9)
	assert.Equal(t, loopback(1), nrt.GetNodesInfo(client)[0].Endpoint)
}
