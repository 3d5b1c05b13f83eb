package database

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/stresspulse/internal/metrics"
)

const slowQueryThreshold = 250 * time.Millisecond

// MetricsTracer records query duration and errors per statement kind.
type MetricsTracer struct{}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

type traceKey struct{}

type traceStart struct {
	at    time.Time
	label string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceStart{at: time.Now(), label: statementLabel(data.SQL)})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(traceKey{}).(traceStart)
	if !ok {
		return
	}

	elapsed := time.Since(start.at)
	metrics.DBQueryDuration.WithLabelValues(start.label).Observe(elapsed.Seconds())

	if data.Err != nil {
		metrics.DBErrorsTotal.WithLabelValues(start.label).Inc()
	}
	if elapsed > slowQueryThreshold {
		slog.WarnContext(ctx, "Slow query", "statement", start.label, "duration", elapsed)
	}
}

// statementLabel keeps metric cardinality low: the leading keyword, lowercased.
func statementLabel(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	word := strings.ToLower(strings.TrimLeft(fields[0], "("))
	switch word {
	case "select", "insert", "update", "delete", "with", "begin", "commit", "rollback", "truncate":
		return word
	default:
		return "other"
	}
}
