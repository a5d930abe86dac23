package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyrus-portal/portal-backend/pkg/workflows"
)

func TestActorFromFlags(t *testing.T) {
	producer, err := actorFromFlags("producer", "p-1", "Pat", "")
	require.NoError(t, err)
	assert.Equal(t, workflows.RoleProducer, producer.Role)
	assert.Nil(t, producer.ClientID)

	clientID := uuid.New()
	client, err := actorFromFlags("client", "c-1", "Casey", clientID.String())
	require.NoError(t, err)
	require.NotNil(t, client.ClientID)
	assert.Equal(t, clientID, *client.ClientID)

	_, err = actorFromFlags("client", "c-1", "Casey", "")
	assert.Error(t, err)
	_, err = actorFromFlags("client", "c-1", "Casey", "nope")
	assert.Error(t, err)
	_, err = actorFromFlags("admin", "a-1", "", "")
	assert.Error(t, err)
	_, err = actorFromFlags("producer", "", "", "")
	assert.Error(t, err)
}
