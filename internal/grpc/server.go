package server

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	middleware "github.com/tejusbharadwaj/esbmeter/internal/grpc/middlewares"
	"github.com/tejusbharadwaj/esbmeter/internal/metrics"
	"github.com/tejusbharadwaj/esbmeter/internal/models"
	"github.com/tejusbharadwaj/esbmeter/internal/usage"
)

//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/provider.go -package=mocks . UsageProvider

// ServerConfig holds configuration options for the gRPC server
type ServerConfig struct {
	CacheSize      int           // Size of the response cache
	CacheTTL       time.Duration // How long a response is reused
	RateLimit      float64       // Requests per second
	RateLimitBurst int           // Maximum burst size for rate limiting
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		CacheSize:      1000,
		CacheTTL:       30 * time.Second,
		RateLimit:      5.0, // 5 requests per second
		RateLimitBurst: 10,  // Burst of 10 requests
	}
}

// UsageProvider serves the usage the scheduler last computed. Current must
// not contact the portal; the flag marks a stale result.
type UsageProvider interface {
	Current(mprn string) (models.Usage, bool, error)
}

// UsageService encapsulates business logic
type UsageService struct {
	provider  UsageProvider
	validator *RequestValidator
	logger    *logrus.Logger
}

// NewUsageService creates a new service instance
func NewUsageService(provider UsageProvider, logger *logrus.Logger) *UsageService {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &UsageService{
		provider:  provider,
		validator: NewRequestValidator(),
		logger:    logger,
	}
}

var _ UsageServiceServer = (*UsageService)(nil)

// GetUsage implements the gRPC service method
func (s *UsageService) GetUsage(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	mprn := req.GetValue()
	if err := s.validator.ValidateMPRN(mprn); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	u, stale, err := s.usage(ctx, mprn)
	if err != nil {
		return nil, err
	}
	return usageStruct(u, stale)
}

// GetWindow implements the gRPC service method
func (s *UsageService) GetWindow(ctx context.Context, req *structpb.Struct) (*wrapperspb.DoubleValue, error) {
	mprn := req.GetFields()["mprn"].GetStringValue()
	if err := s.validator.ValidateMPRN(mprn); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	w, err := s.validator.ValidateWindow(req.GetFields()["window"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	u, _, err := s.usage(ctx, mprn)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Double(usage.Value(u, w)), nil
}

// usage looks up the latest totals of mprn. Requests never start a portal
// login; refreshes run on the scheduler only.
func (s *UsageService) usage(ctx context.Context, mprn string) (models.Usage, bool, error) {
	u, stale, err := s.provider.Current(mprn)
	log := s.logger.WithFields(logrus.Fields{
		"request_id": middleware.RequestID(ctx),
		"mprn":       mprn,
	})
	if err != nil {
		log.WithError(err).Error("Failed to compute usage")
		return models.Usage{}, false, toStatus(err)
	}
	if stale {
		log.Warn("Serving last good usage after failed refresh")
	}
	return u, stale, nil
}

func usageStruct(u models.Usage, stale bool) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"mprn":       u.MPRN,
		"fetched_at": u.FetchedAt.Format(time.RFC3339),
		"readings":   u.Readings,
		"stale":      stale,
	}
	for _, w := range usage.Windows {
		fields[string(w)] = usage.Value(u, w)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode usage: %v", err)
	}
	return st, nil
}

// ConfigureGRPCServer registers the services without any middleware (for
// development and debug only)
func ConfigureGRPCServer(
	provider UsageProvider,
	health *HealthChecker,
	opts ...grpc.ServerOption,
) *grpc.Server {
	srv := grpc.NewServer(opts...)

	RegisterUsageServiceServer(srv, NewUsageService(provider, nil))
	grpc_health_v1.RegisterHealthServer(srv, health)

	return srv
}

// SetupServer initializes and configures the gRPC server with all middleware.
// The collectors in the metrics package must be registered by the caller.
func SetupServer(
	provider UsageProvider,
	health *HealthChecker,
	config ServerConfig,
	logger *logrus.Logger,
) (*grpc.Server, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	responses, err := middleware.NewResponseCache(config.CacheSize, config.CacheTTL, GetUsageMethod, GetWindowMethod)
	if err != nil {
		return nil, err
	}

	// Request ID first, rate limit early, and cache last so errors are
	// never cached.
	server := grpc.NewServer(
		grpc.UnaryInterceptor(
			chainUnaryInterceptors(
				middleware.ContextMiddleware,
				middleware.NewRateLimitingInterceptor(config.RateLimit, config.RateLimitBurst),
				middleware.NewLoggingInterceptor(logger),
				middleware.NewMetricsInterceptor(metrics.Requests, metrics.Latency),
				responses.Interceptor,
			),
		),
	)

	RegisterUsageServiceServer(server, NewUsageService(provider, logger))
	grpc_health_v1.RegisterHealthServer(server, health)

	return server, nil
}

// chainUnaryInterceptors creates a single interceptor from multiple interceptors
func chainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			chainedInterceptor := chain
			chain = func(currentCtx context.Context, currentReq interface{}) (interface{}, error) {
				return interceptor(currentCtx, currentReq, info, chainedInterceptor)
			}
		}
		return chain(ctx, req)
	}
}
