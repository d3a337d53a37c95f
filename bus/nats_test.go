package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisim/simkernel/errors"
)

func TestConnectNATSUnreachableBroker(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.ConnectTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // one attempt, no backoff wait

	b, err := ConnectNATS(ctx, cfg)
	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, errors.IsTransient(err),
		"a failed broker connect is retryable, not fatal")
}

func TestConnectRetryPolicy(t *testing.T) {
	// broker connects back off per the shared default policy
	cfg := errors.DefaultRetryConfig().ToRetryConfig()
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.True(t, cfg.AddJitter)
}
