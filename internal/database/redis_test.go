package database_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-turnos/internal/config"
	"ms-turnos/internal/database"
	"ms-turnos/internal/logger"
)

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := database.ConnectRedis(ctx, config.RedisConfig{Addr: mr.Addr(), Enabled: true}, logger.Discard())
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()
	assert.NoError(t, client.Set(ctx, "k", "v", 0).Err())

	client, err = database.ConnectRedis(ctx, config.RedisConfig{Addr: mr.Addr(), Enabled: false}, logger.Discard())
	assert.NoError(t, err)
	assert.Nil(t, client)

	mr.Close()
	_, err = database.ConnectRedis(ctx, config.RedisConfig{Addr: mr.Addr(), Enabled: true}, logger.Discard())
	assert.Error(t, err)
}
