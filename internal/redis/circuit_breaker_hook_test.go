package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/pscheid92/stresspulse/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(hook *CircuitBreakerHook, result error) error {
	ctx := context.Background()
	processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return result
	})
	return processHook(ctx, goredis.NewStringCmd(ctx, "get", "key"))
}

func TestCircuitBreakerHook_NormalOperation(t *testing.T) {
	hook := NewCircuitBreakerHook()
	assert.Equal(t, gobreaker.StateClosed, hook.GetState())

	for i := 0; i < 10; i++ {
		assert.NoError(t, runCommand(hook, nil))
	}

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
	counts := hook.GetCounts()
	assert.Equal(t, uint32(10), counts.Requests)
	assert.Equal(t, uint32(10), counts.TotalSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)
}

func TestCircuitBreakerHook_NilIsSuccess(t *testing.T) {
	hook := NewCircuitBreakerHook()

	for i := 0; i < 10; i++ {
		err := runCommand(hook, goredis.Nil)
		assert.ErrorIs(t, err, goredis.Nil)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
	assert.Equal(t, uint32(0), hook.GetCounts().TotalFailures)
}

func TestCircuitBreakerHook_TransientFailures(t *testing.T) {
	hook := NewCircuitBreakerHook()

	for i := 0; i < 2; i++ {
		err := runCommand(hook, errors.New("connection refused"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	assert.Equal(t, gobreaker.StateClosed, hook.GetState())
}

func TestCircuitBreakerHook_OpensAndFailsFast(t *testing.T) {
	hook := NewCircuitBreakerHook()

	for i := 0; i < 5; i++ {
		assert.Error(t, runCommand(hook, errors.New("connection timeout")))
	}
	assert.Equal(t, gobreaker.StateOpen, hook.GetState())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("redis")))

	called := false
	ctx := context.Background()
	processHook := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		called = true
		return nil
	})
	err := processHook(ctx, goredis.NewStringCmd(ctx, "get", "key"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestCircuitBreakerHook_Pipeline(t *testing.T) {
	hook := NewCircuitBreakerHook()
	ctx := context.Background()

	pipelineHook := hook.ProcessPipelineHook(func(ctx context.Context, cmds []goredis.Cmder) error {
		return errors.New("pipeline broken")
	})
	err := pipelineHook(ctx, []goredis.Cmder{goredis.NewStringCmd(ctx, "get", "key")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker pipeline failed")
}
