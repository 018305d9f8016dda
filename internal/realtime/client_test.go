package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_HandleSubscribe(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub)
	require.True(t, hub.Register(client))

	payload := mustMarshal(SubscribePayload{Collection: "payments"})
	client.handleMessage(BaseMessage{ID: "1", Type: TypeSubscribe, Payload: payload})

	msg := mustReceive(t, client)
	assert.Equal(t, TypeSubscribeAck, msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.Equal(t, 1, hub.RoomSize("payments"))
}

func TestClient_HandleSubscribeMissingCollection(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub)
	require.True(t, hub.Register(client))

	client.handleMessage(BaseMessage{ID: "1", Type: TypeSubscribe, Payload: mustMarshal(SubscribePayload{})})

	msg := mustReceive(t, client)
	assert.Equal(t, TypeError, msg.Type)

	var errPayload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &errPayload))
	assert.Equal(t, "bad_request", errPayload.Code)
}

func TestClient_HandleSubscribeBadFilter(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub)
	require.True(t, hub.Register(client))

	payload := mustMarshal(SubscribePayload{
		Collection: "payments",
		Filters:    []Filter{{Field: "status", Op: "~=", Value: "x"}},
	})
	client.handleMessage(BaseMessage{ID: "1", Type: TypeSubscribe, Payload: payload})

	msg := mustReceive(t, client)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, 0, hub.RoomSize("payments"))
}

func TestClient_HandleUnsubscribe(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub)
	require.True(t, hub.Register(client))

	client.handleMessage(BaseMessage{ID: "1", Type: TypeSubscribe, Payload: mustMarshal(SubscribePayload{Collection: "payments"})})
	mustReceive(t, client)
	require.Equal(t, 1, hub.RoomSize("payments"))

	client.handleMessage(BaseMessage{ID: "2", Type: TypeUnsubscribe, Payload: mustMarshal(UnsubscribePayload{Collection: "payments"})})
	msg := mustReceive(t, client)
	assert.Equal(t, TypeUnsubscribeAck, msg.Type)
	assert.Equal(t, 0, hub.RoomSize("payments"))
}

func TestClient_HandleUnknownType(t *testing.T) {
	hub := runHub(t)
	client := newTestClient(hub)
	require.True(t, hub.Register(client))

	client.handleMessage(BaseMessage{ID: "1", Type: "snapshot"})

	msg := mustReceive(t, client)
	assert.Equal(t, TypeError, msg.Type)
}
