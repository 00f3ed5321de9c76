package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tejusbharadwaj/esbmeter/internal/api"
	"github.com/tejusbharadwaj/esbmeter/internal/auth"
	"github.com/tejusbharadwaj/esbmeter/internal/cache"
	"github.com/tejusbharadwaj/esbmeter/internal/scheduler"
)

// toStatus maps a refresh error onto a gRPC status.
func toStatus(err error) error {
	var (
		authErr  *auth.AuthError
		fetchErr *api.FetchError
	)
	switch {
	case errors.Is(err, cache.ErrUnknownMeter):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, scheduler.ErrNoData):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.As(err, &authErr):
		switch authErr.Kind {
		case auth.KindCredentialSubmit, auth.KindNotLoggedIn:
			return status.Error(codes.Unauthenticated, err.Error())
		default:
			return status.Error(codes.Unavailable, err.Error())
		}
	case errors.As(err, &fetchErr):
		if fetchErr.Kind == api.KindMalformedRow {
			return status.Error(codes.DataLoss, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Errorf(codes.Internal, "refresh failed: %v", err)
	}
}
