package storage

import (
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/incident-sync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisDB(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	db, err := NewRedisDB(&config.RedisConfig{Host: host, Port: port, MaxConnections: 4})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, db.Close())
	}()

	assert.NoError(t, db.Ping(testContext(t)))
	assert.NotNil(t, db.Client())
}

func TestNewRedisDBUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, _ := net.SplitHostPort(mr.Addr())
	mr.Close()

	_, err := NewRedisDB(&config.RedisConfig{Host: host, Port: port, MaxConnections: 1})
	assert.Error(t, err)
}
