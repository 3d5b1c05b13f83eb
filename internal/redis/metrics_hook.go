package redis

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pscheid92/stresspulse/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// MetricsHook records per-command latency and outcome.
type MetricsHook struct{}

var _ redis.Hook = (*MetricsHook)(nil)

func (h *MetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			metrics.RedisDialErrorsTotal.Inc()
		}
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observe(cmd.Name(), err, time.Since(start))
		return err
	}
}

func (h *MetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		observe("pipeline", err, time.Since(start))
		return err
	}
}

// observe treats redis.Nil (missing key) as success.
func observe(command string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
	}
	metrics.RedisCommandsTotal.WithLabelValues(command, status).Inc()
	metrics.RedisCommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}
