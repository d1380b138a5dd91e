package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/docsync/internal/rpc"
	"github.com/dmitrijs2005/docsync/internal/server/services"
)

func (s *GRPCServer) Ping(ctx context.Context, req *rpc.Empty) (*rpc.PingResponse, error) {

	return &rpc.PingResponse{Status: rpc.StatusOK}, nil

}

func (s *GRPCServer) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {

	s.logger.Info(ctx, "Registration request", "username", req.Username)

	user, err := s.users.Register(ctx, req.Username, req.Password)
	if err != nil {
		return nil, s.toStatus(ctx, "register", err)
	}

	s.logger.Info(ctx, "Registered", "username", req.Username, "user_id", user.ID)
	return &rpc.RegisterResponse{UserID: user.ID}, nil

}

func (s *GRPCServer) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.LoginResponse, error) {

	tokens, err := s.users.Login(ctx, req.Username, req.Password)
	if err != nil {
		return nil, s.toStatus(ctx, "login", err)
	}

	return &rpc.LoginResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		UserID:       tokens.UserID,
		Username:     tokens.Username,
	}, nil

}

func (s *GRPCServer) RefreshToken(ctx context.Context, req *rpc.RefreshTokenRequest) (*rpc.RefreshTokenResponse, error) {

	tokens, err := s.users.RefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, s.toStatus(ctx, "refresh_token", err)
	}

	return &rpc.RefreshTokenResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil

}

func (s *GRPCServer) GetDocument(ctx context.Context, req *rpc.GetDocumentRequest) (*rpc.DocumentResponse, error) {
	owner, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}

	d, err := s.documents.Get(ctx, owner, req.SyncID)
	if err != nil {
		return nil, s.toStatus(ctx, "get_document", err)
	}
	return &rpc.DocumentResponse{Document: toRPC(d)}, nil
}

func (s *GRPCServer) ListDocuments(ctx context.Context, req *rpc.ListDocumentsRequest) (*rpc.ListDocumentsResponse, error) {
	owner, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := s.documents.List(ctx, owner, req.IncludeDeleted)
	if err != nil {
		return nil, s.toStatus(ctx, "list_documents", err)
	}

	resp := &rpc.ListDocumentsResponse{Documents: make([]*rpc.Document, 0, len(docs))}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, toRPC(d))
	}
	return resp, nil
}

func (s *GRPCServer) CreateDocument(ctx context.Context, req *rpc.CreateDocumentRequest) (*rpc.DocumentResponse, error) {
	owner, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.Document == nil {
		return nil, status.Error(codes.InvalidArgument, "document is required")
	}

	d, err := s.documents.Create(ctx, owner, fromRPC(req.Document))
	if err != nil {
		return nil, s.toStatus(ctx, "create_document", err)
	}
	return &rpc.DocumentResponse{Document: toRPC(d)}, nil
}

func (s *GRPCServer) UpdateDocument(ctx context.Context, req *rpc.UpdateDocumentRequest) (*rpc.DocumentResponse, error) {
	owner, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.Document == nil {
		return nil, status.Error(codes.InvalidArgument, "document is required")
	}

	d, err := s.documents.Update(ctx, owner, fromRPC(req.Document), req.ExpectedVersion)
	if err != nil {
		return nil, s.writeError(ctx, "update_document", err)
	}
	return &rpc.DocumentResponse{Document: toRPC(d)}, nil
}

func (s *GRPCServer) DeleteDocument(ctx context.Context, req *rpc.DeleteDocumentRequest) (*rpc.DocumentResponse, error) {
	owner, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}

	d, err := s.documents.Delete(ctx, owner, req.SyncID, req.ExpectedVersion)
	if err != nil {
		return nil, s.writeError(ctx, "delete_document", err)
	}
	return &rpc.DocumentResponse{Document: toRPC(d)}, nil
}

// BatchPut answers with one result per item, in request order. Per-item
// failures travel in the result codes; only a rejected batch fails the call.
func (s *GRPCServer) BatchPut(ctx context.Context, req *rpc.BatchPutRequest) (*rpc.BatchPutResponse, error) {
	owner, err := userIDFrom(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]services.BatchItem, len(req.Items))
	for i, it := range req.Items {
		if it != nil {
			items[i] = services.BatchItem{Document: fromRPC(it.Document), ExpectedVersion: it.ExpectedVersion}
		}
	}

	results, err := s.documents.BatchPut(ctx, owner, items)
	if err != nil {
		return nil, s.toStatus(ctx, "batch_put", err)
	}

	resp := &rpc.BatchPutResponse{Results: make([]*rpc.BatchResult, len(results))}
	for i, r := range results {
		out := &rpc.BatchResult{}
		if items[i].Document != nil {
			out.SyncID = items[i].Document.SyncID
		}
		if r.Err != nil {
			st := statusFor(r.Err)
			if st.Code() == codes.Internal {
				s.logger.Error(ctx, "batch item failed", "sync_id", out.SyncID, "error", r.Err)
			}
			out.Code = uint32(st.Code())
			out.Message = st.Message()
			out.Remote = toRPC(remoteOf(r.Err))
		} else {
			out.Code = uint32(codes.OK)
			out.Document = toRPC(r.Document)
		}
		resp.Results[i] = out
	}
	return resp, nil
}

// Subscribe streams the caller's change events until the client goes away.
func (s *GRPCServer) Subscribe(req *rpc.SubscribeRequest, stream rpc.SubscribeServer) error {
	ctx := stream.Context()
	owner, err := userIDFrom(ctx)
	if err != nil {
		return err
	}

	events, err := s.changes.Subscribe(ctx, owner)
	if err != nil {
		return s.toStatus(ctx, "subscribe", err)
	}

	s.logger.Debug(ctx, "subscriber connected", "user_id", owner)
	for e := range events {
		if err := stream.Send(&rpc.ChangeEvent{SyncID: e.SyncID, Version: e.Version, Deleted: e.Deleted, At: e.At}); err != nil {
			return err
		}
	}
	s.logger.Debug(ctx, "subscriber disconnected", "user_id", owner)
	return nil
}
