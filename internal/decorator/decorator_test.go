package decorator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const completion = `{"choices":[{"message":{"role":"assistant","content":"  Stress is just spicy focus.  "}}]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{URL: srv.URL, APIKey: "secret", Model: "test-model", Timeout: time.Second, HTTPClient: srv.Client()})
}

func TestDecorate_Success(t *testing.T) {
	var body []byte
	var auth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(completion))
	})

	text, err := client.Decorate(context.Background(), "alice", 72, false)
	require.NoError(t, err)
	assert.Equal(t, "Stress is just spicy focus.", text)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "test-model", gjson.GetBytes(body, "model").String())
	assert.Contains(t, gjson.GetBytes(body, "messages.1.content").String(), "alice")
	assert.Contains(t, gjson.GetBytes(body, "messages.1.content").String(), "72")
}

func TestDecorate_SuperstressPrompt(t *testing.T) {
	var body []byte
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(completion))
	})

	_, err := client.Decorate(context.Background(), "bob", domain.SuperstressLevel, true)
	require.NoError(t, err)
	assert.Contains(t, gjson.GetBytes(body, "messages.1.content").String(), "SUPERSTRESS")
}

func TestDecorate_Disabled(t *testing.T) {
	client := New(Options{})
	assert.False(t, client.Enabled())

	_, err := client.Decorate(context.Background(), "alice", 10, false)
	assert.ErrorIs(t, err, domain.ErrDecoratorOff)
}

func TestDecorate_ErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})

	_, err := client.Decorate(context.Background(), "alice", 10, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestDecorate_EmptyCompletion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := client.Decorate(context.Background(), "alice", 10, false)
	assert.ErrorIs(t, err, errEmptyCompletion)
}

func TestDecorate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := New(Options{URL: srv.URL, Timeout: 50 * time.Millisecond, HTTPClient: srv.Client()})

	start := time.Now()
	_, err := client.Decorate(context.Background(), "alice", 10, false)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDecorate_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 3; i++ {
		_, err := client.Decorate(context.Background(), "alice", 10, false)
		require.Error(t, err)
	}

	_, err := client.Decorate(context.Background(), "alice", 10, false)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("decorator")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ää", truncate("äää", 2))
	assert.Len(t, []rune(truncate(strings.Repeat("x", 500), maxMessageRunes)), maxMessageRunes)
}

type stubDecorator struct {
	text string
	err  error
}

func (s stubDecorator) Decorate(context.Context, string, int, bool) (string, error) {
	return s.text, s.err
}

func TestFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("passes through generated text", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.DecoratorRequestsTotal.WithLabelValues("ok"))
		f := WithFallback(stubDecorator{text: "hang in there"}, "fallback", time.Second)
		assert.Equal(t, "hang in there", f.Text(ctx, "alice", 50, false))
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.DecoratorRequestsTotal.WithLabelValues("ok")))
	})

	t.Run("substitutes on failure", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.DecoratorRequestsTotal.WithLabelValues("fallback"))
		f := WithFallback(stubDecorator{err: errors.New("boom")}, "fallback", time.Second)
		assert.Equal(t, "fallback", f.Text(ctx, "alice", 50, false))
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.DecoratorRequestsTotal.WithLabelValues("fallback")))
	})

	t.Run("disabled decorator", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.DecoratorRequestsTotal.WithLabelValues("disabled"))
		f := WithFallback(New(Options{}), "fallback", time.Second)
		assert.Equal(t, "fallback", f.Text(ctx, "alice", 50, false))
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.DecoratorRequestsTotal.WithLabelValues("disabled")))
	})

	t.Run("nil decorator", func(t *testing.T) {
		assert.Equal(t, "fallback", WithFallback(nil, "fallback", 0).Text(ctx, "alice", 50, false))
	})

	t.Run("hanging decorator is cut off at the budget", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		before := testutil.ToFloat64(metrics.DecoratorRequestsTotal.WithLabelValues("fallback"))
		f := WithFallback(hangingDecorator{release: release}, "fallback", 20*time.Millisecond)

		start := time.Now()
		assert.Equal(t, "fallback", f.Text(ctx, "alice", 50, false))
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.DecoratorRequestsTotal.WithLabelValues("fallback")))
	})
}

// hangingDecorator ignores its context and blocks until released.
type hangingDecorator struct{ release chan struct{} }

func (h hangingDecorator) Decorate(context.Context, string, int, bool) (string, error) {
	<-h.release
	return "too late", nil
}
