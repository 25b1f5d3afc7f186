package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongoward/mongoward/mongodb"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Mongo.Host)
	assert.Equal(t, 27017, cfg.Mongo.Port)
	assert.Equal(t, uint64(1), cfg.Mongo.MaxPoolSize)
	assert.Equal(t, 400*time.Millisecond, cfg.Mongo.WaitQueueTimeout)
	assert.Equal(t, 15*time.Second, cfg.Mongo.ConnectTimeout)
	assert.Equal(t, 3, cfg.Mongo.WriteRetry)
	assert.Equal(t, 1300*time.Millisecond, cfg.Mongo.WriteRetryDelay)
	assert.Equal(t, 2, cfg.Mongo.ReadRetry)
	assert.Equal(t, 701*time.Millisecond, cfg.Mongo.ReadRetryDelay)
	assert.Equal(t, mongodb.DefaultRetryCodes, cfg.Mongo.RetryCodes)

	assert.Equal(t, "mongoward", cfg.Bootstrap.Database)
	assert.Equal(t, 7*time.Second, cfg.Bootstrap.WaitStep)
	assert.Equal(t, 55*time.Second, cfg.Bootstrap.MaxWait)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MONGO_HOST", "db.internal")
	t.Setenv("MONGO_PORT", "27018")
	t.Setenv("MONGO_WRITE_RETRY", "5")
	t.Setenv("MONGO_RETRY_CODES", "91, 189")
	t.Setenv("BOOTSTRAP_DATABASE", "arcade")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Mongo.Host)
	assert.Equal(t, 27018, cfg.Mongo.Port)
	assert.Equal(t, 5, cfg.Mongo.WriteRetry)
	assert.Equal(t, []int32{91, 189}, cfg.Mongo.RetryCodes)
	assert.Equal(t, "arcade", cfg.Bootstrap.Database)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadRejectsMalformedRetryCodes(t *testing.T) {
	t.Setenv("MONGO_RETRY_CODES", "91,lots")

	_, err := Load()
	require.Error(t, err)
}

func TestMongoConfigParams(t *testing.T) {
	cfg := MongoConfig{
		Host:           "db.internal",
		Port:           27018,
		MaxPoolSize:    4,
		ConnectTimeout: 5 * time.Second,
		Username:       "app",
		Password:       "secret",
		AuthSource:     "admin",
	}

	params := cfg.Params()
	assert.Equal(t, "db.internal", params.Host)
	assert.Equal(t, 27018, params.Port)
	assert.Equal(t, uint64(4), params.MaxPoolSize)
	assert.Equal(t, "app", params.Username)
	assert.Equal(t, "db.internal:27018", params.Address())
}

func TestGetEnvAsIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("MONGO_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 27017, cfg.Mongo.Port)
}
