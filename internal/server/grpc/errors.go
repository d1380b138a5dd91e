package grpc

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/rpc"
	"github.com/dmitrijs2005/docsync/internal/server/models"
)

// statusFor translates a service error into the status the client maps
// back onto its own error taxonomy.
func statusFor(err error) *status.Status {
	var ve *common.ValidationError
	switch {
	case errors.As(err, &ve):
		return status.New(codes.InvalidArgument, ve.Error())
	case errors.Is(err, common.ErrVersionConflict):
		return status.New(codes.Aborted, err.Error())
	case errors.Is(err, common.ErrNotFound):
		return status.New(codes.NotFound, "not found")
	case errors.Is(err, common.ErrAlreadyExists):
		return status.New(codes.AlreadyExists, "already exists")
	case errors.Is(err, common.ErrUnauthorized):
		return status.New(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrRefreshTokenExpired):
		return status.New(codes.Unauthenticated, common.ErrRefreshTokenExpired.Error())
	case errors.Is(err, common.ErrInvalidToken):
		return status.New(codes.Unauthenticated, common.ErrInvalidToken.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.New(codes.Internal, "internal error")
	}
}

// remoteOf returns the current server document attached to a conflict.
func remoteOf(err error) *models.Document {
	var vc *common.VersionConflictError
	if !errors.As(err, &vc) {
		return nil
	}
	d, _ := vc.Remote.(*models.Document)
	return d
}

func (s *GRPCServer) toStatus(ctx context.Context, op string, err error) error {
	st := statusFor(err)
	if st.Code() == codes.Internal {
		s.logger.Error(ctx, "request failed", "op", op, "error", err)
	}
	return st.Err()
}

// writeError is toStatus for conditional writes. A conflict also carries
// the current remote document in the trailer.
func (s *GRPCServer) writeError(ctx context.Context, op string, err error) error {
	if remote := remoteOf(err); remote != nil {
		data, jerr := json.Marshal(toRPC(remote))
		if jerr == nil {
			jerr = grpc.SetTrailer(ctx, metadata.Pairs(rpc.RemoteDocumentTrailer, string(data)))
		}
		if jerr != nil {
			s.logger.Warn(ctx, "failed to attach remote document", "op", op, "error", jerr)
		}
	}
	return s.toStatus(ctx, op, err)
}
