package middleware

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var testInfo = &grpc.UnaryServerInfo{FullMethod: "/esbmeter.v1.UsageService/GetUsage"}

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func TestContextMiddleware(t *testing.T) {
	var seen string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = RequestID(ctx)
		return nil, nil
	}

	_, err := ContextMiddleware(context.Background(), nil, testInfo, handler)
	require.NoError(t, err)
	assert.Len(t, seen, 36)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDHeader, "abc-123"))
	_, err = ContextMiddleware(ctx, nil, testInfo, handler)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", seen)
}

// headerStream records the header an interceptor sets.
type headerStream struct {
	header metadata.MD
	err    error
}

func (s *headerStream) Method() string { return testInfo.FullMethod }

func (s *headerStream) SetHeader(md metadata.MD) error {
	if s.err != nil {
		return s.err
	}
	s.header = metadata.Join(s.header, md)
	return nil
}

func (s *headerStream) SendHeader(md metadata.MD) error { return s.SetHeader(md) }

func (s *headerStream) SetTrailer(md metadata.MD) error { return nil }

func TestContextMiddleware_SetsHeader(t *testing.T) {
	stream := &headerStream{}
	ctx := grpc.NewContextWithServerTransportStream(
		metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDHeader, "abc-123")),
		stream,
	)

	_, err := ContextMiddleware(ctx, nil, testInfo, okHandler)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc-123"}, stream.header.Get(RequestIDHeader))

	stream.err = errors.New("transport: the stream is done")
	_, err = ContextMiddleware(ctx, nil, testInfo, okHandler)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "set request id header")
}

func TestRateLimitingInterceptor(t *testing.T) {
	interceptor := NewRateLimitingInterceptor(0.001, 2)

	for i := 0; i < 2; i++ {
		_, err := interceptor(context.Background(), nil, testInfo, okHandler)
		require.NoError(t, err)
	}

	_, err := interceptor(context.Background(), nil, testInfo, okHandler)
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	interceptor := NewLoggingInterceptor(logger)
	ctx := context.WithValue(context.Background(), requestIDKey, "req-1")

	_, err := interceptor(ctx, nil, testInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown meter")
	})
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"code":"NotFound"`)
	assert.Contains(t, out, `"level":"warning"`)
}

func TestMetricsInterceptor(t *testing.T) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "requests"}, []string{"method", "code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "latency"}, []string{"method"})
	interceptor := NewMetricsInterceptor(requests, latency)

	_, err := interceptor(context.Background(), nil, testInfo, okHandler)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("GetUsage", "OK")))
	assert.Equal(t, 1, testutil.CollectAndCount(latency))
}
