package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/identity"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/dmitrijs2005/docsync/internal/rpc"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// docSyncAPI is the subset of *rpc.DocSyncClient used here.
type docSyncAPI interface {
	Ping(ctx context.Context, in *rpc.Empty, opts ...grpc.CallOption) (*rpc.PingResponse, error)
	Register(ctx context.Context, in *rpc.RegisterRequest, opts ...grpc.CallOption) (*rpc.RegisterResponse, error)
	Login(ctx context.Context, in *rpc.LoginRequest, opts ...grpc.CallOption) (*rpc.LoginResponse, error)
	RefreshToken(ctx context.Context, in *rpc.RefreshTokenRequest, opts ...grpc.CallOption) (*rpc.RefreshTokenResponse, error)
	GetDocument(ctx context.Context, in *rpc.GetDocumentRequest, opts ...grpc.CallOption) (*rpc.DocumentResponse, error)
	ListDocuments(ctx context.Context, in *rpc.ListDocumentsRequest, opts ...grpc.CallOption) (*rpc.ListDocumentsResponse, error)
	CreateDocument(ctx context.Context, in *rpc.CreateDocumentRequest, opts ...grpc.CallOption) (*rpc.DocumentResponse, error)
	UpdateDocument(ctx context.Context, in *rpc.UpdateDocumentRequest, opts ...grpc.CallOption) (*rpc.DocumentResponse, error)
	DeleteDocument(ctx context.Context, in *rpc.DeleteDocumentRequest, opts ...grpc.CallOption) (*rpc.DocumentResponse, error)
	BatchPut(ctx context.Context, in *rpc.BatchPutRequest, opts ...grpc.CallOption) (*rpc.BatchPutResponse, error)
	Subscribe(ctx context.Context, in *rpc.SubscribeRequest, opts ...grpc.CallOption) (rpc.SubscribeClient, error)
}

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      docSyncAPI
	logger      logging.Logger

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	creds        identity.Credentials

	refreshGroup singleflight.Group
	expired      chan struct{}
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if rpc.PublicMethods[method] {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	err := invoker(withAccessToken(ctx, s.token()), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}
	if s.currentRefreshToken() == "" {
		return err
	}

	if rerr := s.refresh(ctx); rerr != nil {
		return rerr
	}

	// tokens refreshed, retrying with the new access token
	return invoker(withAccessToken(ctx, s.token()), method, req, reply, cc, opts...)
}

func (s *GRPCClient) streamInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, s.token()), desc, cc, method, opts...)
}

func NewGRPCClient(endpointURL string, logger logging.Logger) (*GRPCClient, error) {
	c := &GRPCClient{
		endpointURL: endpointURL,
		logger:      logger.With("module", "grpc_client"),
		expired:     make(chan struct{}),
	}
	if err := c.InitGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient() error {
	conn, err := grpc.NewClient(s.endpointURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpc.WithJSONCodec(),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
		grpc.WithStreamInterceptor(s.streamInterceptor),
	)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = rpc.NewDocSyncClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *GRPCClient) currentRefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

func (s *GRPCClient) setTokens(access, refresh string) error {
	creds, err := identity.FromAccessToken(access)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.accessToken = access
	s.refreshToken = refresh
	s.creds = creds
	s.mu.Unlock()
	return nil
}

// refresh rotates the token pair. Concurrent callers share one request
// because the server invalidates a refresh token once used.
func (s *GRPCClient) refresh(ctx context.Context) error {
	_, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		rt := s.currentRefreshToken()
		if rt == "" {
			return nil, ErrNotLoggedIn
		}
		resp, err := s.client.RefreshToken(ctx, &rpc.RefreshTokenRequest{RefreshToken: rt})
		if err != nil {
			if status.Code(err) == codes.Unauthenticated {
				s.logger.Warn(ctx, "refresh token rejected, session expired")
				s.expire()
				return nil, ErrSessionExpired
			}
			return nil, s.mapError(err)
		}
		return nil, s.setTokens(resp.AccessToken, resp.RefreshToken)
	})
	return err
}

func (s *GRPCClient) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken, s.refreshToken = "", ""
	s.creds = identity.Credentials{}
	if !s.expiredIsClosed() {
		close(s.expired)
	}
}

func (s *GRPCClient) Register(ctx context.Context, userName, password string) (string, error) {
	resp, err := s.client.Register(ctx, &rpc.RegisterRequest{Username: userName, Password: password})
	if err != nil {
		return "", s.mapError(err)
	}
	return resp.UserID, nil
}

func (s *GRPCClient) Login(ctx context.Context, userName, password string) error {
	resp, err := s.client.Login(ctx, &rpc.LoginRequest{Username: userName, Password: password})
	if err != nil {
		return s.mapError(err)
	}
	if err := s.setTokens(resp.AccessToken, resp.RefreshToken); err != nil {
		return err
	}

	s.mu.Lock()
	if s.expiredIsClosed() {
		s.expired = make(chan struct{})
	}
	s.mu.Unlock()
	return nil
}

// expiredIsClosed must be called with mu held.
func (s *GRPCClient) expiredIsClosed() bool {
	select {
	case <-s.expired:
		return true
	default:
		return false
	}
}

// Logout forgets the tokens. It does not close SessionExpired.
func (s *GRPCClient) Logout() {
	s.mu.Lock()
	s.accessToken, s.refreshToken = "", ""
	s.creds = identity.Credentials{}
	s.mu.Unlock()
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.client.Ping(ctx, &rpc.Empty{})
	if err != nil {
		return s.mapError(err)
	}
	if resp.Status != rpc.StatusOK {
		return ErrUnavailable
	}
	return nil
}

// CurrentIdentity implements identity.Provider.
func (s *GRPCClient) CurrentIdentity(context.Context) (identity.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accessToken == "" {
		return identity.Credentials{}, ErrNotLoggedIn
	}
	return s.creds, nil
}

// RefreshCredentials implements identity.Provider. A non-forced refresh is
// skipped when another caller already rotated tokens that are still fresh.
func (s *GRPCClient) RefreshCredentials(ctx context.Context, force bool) (identity.Credentials, error) {
	if !force {
		s.mu.RLock()
		fresh := s.accessToken != "" && time.Until(s.creds.CredentialsValidUntil) > identity.DefaultSkew
		s.mu.RUnlock()
		if fresh {
			return s.CurrentIdentity(ctx)
		}
	}
	if err := s.refresh(ctx); err != nil {
		return identity.Credentials{}, err
	}
	return s.CurrentIdentity(ctx)
}

func (s *GRPCClient) SessionExpired() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expired
}

func (s *GRPCClient) Get(ctx context.Context, syncID string) (*models.Document, error) {
	resp, err := s.client.GetDocument(ctx, &rpc.GetDocumentRequest{SyncID: syncID})
	if err != nil {
		return nil, s.mapError(err)
	}
	return fromRPC(resp.Document), nil
}

func (s *GRPCClient) List(ctx context.Context, includeDeleted bool) ([]*models.Document, error) {
	resp, err := s.client.ListDocuments(ctx, &rpc.ListDocumentsRequest{IncludeDeleted: includeDeleted})
	if err != nil {
		return nil, s.mapError(err)
	}
	out := make([]*models.Document, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		out = append(out, fromRPC(d))
	}
	return out, nil
}

func (s *GRPCClient) Create(ctx context.Context, d *models.Document) (*models.Document, error) {
	resp, err := s.client.CreateDocument(ctx, &rpc.CreateDocumentRequest{Document: toRPC(d)})
	if err != nil {
		return nil, s.mapError(err)
	}
	return fromRPC(resp.Document), nil
}

func (s *GRPCClient) Update(ctx context.Context, d *models.Document, expectedVersion int64) (*models.Document, error) {
	var trailer metadata.MD
	resp, err := s.client.UpdateDocument(ctx,
		&rpc.UpdateDocumentRequest{Document: toRPC(d), ExpectedVersion: expectedVersion},
		grpc.Trailer(&trailer))
	if err != nil {
		return nil, s.conditionalError(err, d.SyncID, expectedVersion, trailer)
	}
	return fromRPC(resp.Document), nil
}

func (s *GRPCClient) SoftDelete(ctx context.Context, syncID string, expectedVersion int64) (*models.Document, error) {
	var trailer metadata.MD
	resp, err := s.client.DeleteDocument(ctx,
		&rpc.DeleteDocumentRequest{SyncID: syncID, ExpectedVersion: expectedVersion},
		grpc.Trailer(&trailer))
	if err != nil {
		return nil, s.conditionalError(err, syncID, expectedVersion, trailer)
	}
	return fromRPC(resp.Document), nil
}

func (s *GRPCClient) BatchPut(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	req := &rpc.BatchPutRequest{Items: make([]*rpc.BatchItem, 0, len(items))}
	for _, it := range items {
		req.Items = append(req.Items, &rpc.BatchItem{Document: toRPC(it.Document), ExpectedVersion: it.ExpectedVersion})
	}

	resp, err := s.client.BatchPut(ctx, req)
	if err != nil {
		return nil, s.mapError(err)
	}
	if len(resp.Results) != len(items) {
		return nil, fmt.Errorf("%w: sent %d items, got %d results", ErrBatchMismatch, len(items), len(resp.Results))
	}

	out := make([]BatchResult, len(items))
	for i, r := range resp.Results {
		out[i].SyncID = items[i].Document.SyncID
		switch code := codes.Code(r.Code); code {
		case codes.OK:
			out[i].Document = fromRPC(r.Document)
		case codes.Aborted:
			out[i].Err = conflictError(out[i].SyncID, items[i].ExpectedVersion, fromRPC(r.Remote))
		default:
			out[i].Err = s.mapError(status.Error(code, r.Message))
		}
	}
	return out, nil
}

func (s *GRPCClient) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	stream, err := s.client.Subscribe(ctx, &rpc.SubscribeRequest{})
	if err != nil {
		return nil, s.mapError(err)
	}

	ch := make(chan ChangeEvent, 16)
	go func() {
		defer close(ch)
		for {
			e, err := stream.Recv()
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn(ctx, "change stream ended", "error", s.mapError(err))
				}
				return
			}
			select {
			case ch <- ChangeEvent{SyncID: e.SyncID, Version: e.Version, Deleted: e.Deleted, At: e.At}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *GRPCClient) conditionalError(err error, syncID string, expected int64, trailer metadata.MD) error {
	if status.Code(err) != codes.Aborted {
		return s.mapError(err)
	}
	var remote *models.Document
	if vals := trailer.Get(rpc.RemoteDocumentTrailer); len(vals) > 0 {
		var d rpc.Document
		if jerr := json.Unmarshal([]byte(vals[0]), &d); jerr == nil {
			remote = fromRPC(&d)
		} else {
			s.logger.Warn(context.Background(), "undecodable conflict trailer", "sync_id", syncID, "error", jerr)
		}
	}
	return conflictError(syncID, expected, remote)
}

func conflictError(syncID string, expected int64, remote *models.Document) error {
	e := &common.VersionConflictError{SyncID: syncID, ExpectedVersion: expected}
	if remote != nil {
		e.RemoteVersion = remote.Version
		e.Remote = remote
	}
	return e
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		if st.Message() == common.ErrTokenExpired.Error() {
			return fmt.Errorf("%s: %w", st.Message(), common.ErrAuthExpired)
		}
		return fmt.Errorf("%s: %w", st.Message(), common.ErrNotAuthenticated)
	case codes.PermissionDenied:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrUnauthorized)
	case codes.Unavailable, codes.ResourceExhausted:
		return fmt.Errorf("%s: %w", st.Message(), ErrUnavailable)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrNetworkTransient)
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrAlreadyExists)
	case codes.InvalidArgument:
		return &common.ValidationError{Reason: st.Message(), Err: errors.New(st.Message())}
	case codes.Aborted:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrVersionConflict)
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
