package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/docsync/internal/client/identity"
	"github.com/dmitrijs2005/docsync/internal/client/models"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/dmitrijs2005/docsync/internal/rpc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

/*************
 * Fake rpc client
 *************/

type fakePB struct {
	// inputs captured
	lastRefreshTokenReq *rpc.RefreshTokenRequest
	lastLoginReq        *rpc.LoginRequest
	lastRegisterReq     *rpc.RegisterRequest
	lastUpdateReq       *rpc.UpdateDocumentRequest
	lastCreateReq       *rpc.CreateDocumentRequest
	lastBatchReq        *rpc.BatchPutRequest

	// outputs preset
	refreshTokenResp *rpc.RefreshTokenResponse
	refreshTokenErr  error

	pingResp *rpc.PingResponse
	pingErr  error

	loginResp *rpc.LoginResponse
	loginErr  error

	registerErr error

	docResp    *rpc.DocumentResponse
	docErr     error
	docTrailer metadata.MD

	listResp *rpc.ListDocumentsResponse

	batchResp *rpc.BatchPutResponse
}

func (f *fakePB) RefreshToken(ctx context.Context, in *rpc.RefreshTokenRequest, opts ...grpc.CallOption) (*rpc.RefreshTokenResponse, error) {
	f.lastRefreshTokenReq = in
	return f.refreshTokenResp, f.refreshTokenErr
}
func (f *fakePB) Ping(ctx context.Context, in *rpc.Empty, opts ...grpc.CallOption) (*rpc.PingResponse, error) {
	return f.pingResp, f.pingErr
}
func (f *fakePB) Login(ctx context.Context, in *rpc.LoginRequest, opts ...grpc.CallOption) (*rpc.LoginResponse, error) {
	f.lastLoginReq = in
	return f.loginResp, f.loginErr
}
func (f *fakePB) Register(ctx context.Context, in *rpc.RegisterRequest, opts ...grpc.CallOption) (*rpc.RegisterResponse, error) {
	f.lastRegisterReq = in
	return &rpc.RegisterResponse{UserID: "new-id"}, f.registerErr
}
func (f *fakePB) GetDocument(ctx context.Context, in *rpc.GetDocumentRequest, opts ...grpc.CallOption) (*rpc.DocumentResponse, error) {
	return f.docResp, f.docErr
}
func (f *fakePB) ListDocuments(ctx context.Context, in *rpc.ListDocumentsRequest, opts ...grpc.CallOption) (*rpc.ListDocumentsResponse, error) {
	return f.listResp, nil
}
func (f *fakePB) CreateDocument(ctx context.Context, in *rpc.CreateDocumentRequest, opts ...grpc.CallOption) (*rpc.DocumentResponse, error) {
	f.lastCreateReq = in
	return f.docResp, f.docErr
}
func (f *fakePB) UpdateDocument(ctx context.Context, in *rpc.UpdateDocumentRequest, opts ...grpc.CallOption) (*rpc.DocumentResponse, error) {
	f.lastUpdateReq = in
	f.fillTrailer(opts)
	return f.docResp, f.docErr
}
func (f *fakePB) DeleteDocument(ctx context.Context, in *rpc.DeleteDocumentRequest, opts ...grpc.CallOption) (*rpc.DocumentResponse, error) {
	f.fillTrailer(opts)
	return f.docResp, f.docErr
}
func (f *fakePB) BatchPut(ctx context.Context, in *rpc.BatchPutRequest, opts ...grpc.CallOption) (*rpc.BatchPutResponse, error) {
	f.lastBatchReq = in
	return f.batchResp, nil
}
func (f *fakePB) Subscribe(ctx context.Context, in *rpc.SubscribeRequest, opts ...grpc.CallOption) (rpc.SubscribeClient, error) {
	return nil, status.Error(codes.Unimplemented, "no")
}

func (f *fakePB) fillTrailer(opts []grpc.CallOption) {
	for _, o := range opts {
		if tr, ok := o.(grpc.TrailerCallOption); ok && f.docTrailer != nil {
			*tr.TrailerAddr = f.docTrailer
		}
	}
}

func makeToken(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl))},
		UserID:           userID,
		Username:         "ann",
	})
	s, err := tok.SignedString([]byte("test"))
	require.NoError(t, err)
	return s
}

func newTestClient(f *fakePB) *GRPCClient {
	return &GRPCClient{client: f, logger: logging.Nop(), expired: make(chan struct{})}
}

/*************
 * accessTokenInterceptor tests
 *************/

func TestInterceptor_RefreshesTokenOnExpiredAndRetries(t *testing.T) {
	a2 := makeToken(t, "u1", time.Hour)
	f := &fakePB{
		refreshTokenResp: &rpc.RefreshTokenResponse{AccessToken: a2, RefreshToken: "R2"},
	}
	c := newTestClient(f)
	c.accessToken, c.refreshToken = "A1", "R1"

	callCount := 0
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		callCount++
		md, _ := metadata.FromOutgoingContext(ctx)
		toks := md.Get(common.AccessTokenHeaderName)
		require.Len(t, toks, 1)

		if callCount == 1 {
			require.Equal(t, "A1", toks[0])
			return status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
		}
		require.Equal(t, a2, toks[0])
		return nil
	}

	err := c.accessTokenInterceptor(context.Background(), rpc.MethodListDocuments, nil, nil, nil, invoker)
	require.NoError(t, err)
	require.Equal(t, 2, callCount)
	require.Equal(t, a2, c.accessToken)
	require.Equal(t, "R2", c.refreshToken)
	require.Equal(t, "R1", f.lastRefreshTokenReq.RefreshToken)

	creds, err := c.CurrentIdentity(context.Background())
	require.NoError(t, err)
	require.Equal(t, "u1", creds.StableID)
}

func TestInterceptor_PublicMethodsCarryNoToken(t *testing.T) {
	c := newTestClient(&fakePB{})
	c.accessToken = "A1"

	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		require.Empty(t, md.Get(common.AccessTokenHeaderName))
		return nil
	}
	require.NoError(t, c.accessTokenInterceptor(context.Background(), rpc.MethodLogin, nil, nil, nil, invoker))
}

func TestInterceptor_NoRefreshIfNoRefreshToken(t *testing.T) {
	f := &fakePB{}
	c := newTestClient(f)
	c.accessToken = "A1"

	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		return status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
	}

	err := c.accessTokenInterceptor(context.Background(), rpc.MethodGetDocument, nil, nil, nil, invoker)
	require.Error(t, err)
	require.Nil(t, f.lastRefreshTokenReq)
}

func TestInterceptor_RefreshRejectedExpiresSession(t *testing.T) {
	f := &fakePB{refreshTokenErr: status.Error(codes.Unauthenticated, common.ErrRefreshTokenExpired.Error())}
	c := newTestClient(f)
	c.accessToken, c.refreshToken = "A1", "R1"

	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		return status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
	}

	err := c.accessTokenInterceptor(context.Background(), rpc.MethodGetDocument, nil, nil, nil, invoker)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.ErrorIs(t, err, common.ErrNotAuthenticated)

	select {
	case <-c.SessionExpired():
	default:
		t.Fatal("session expired channel not closed")
	}
	_, err = c.CurrentIdentity(context.Background())
	require.ErrorIs(t, err, common.ErrNotAuthenticated)
}

func TestInterceptor_IgnoresOtherErrors(t *testing.T) {
	c := newTestClient(&fakePB{})
	c.accessToken, c.refreshToken = "X", "R"
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		return status.Error(codes.Unauthenticated, "some other reason")
	}
	err := c.accessTokenInterceptor(context.Background(), rpc.MethodGetDocument, nil, nil, nil, invoker)
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

/*************
 * mapError tests
 *************/

func TestMapError(t *testing.T) {
	c := &GRPCClient{}

	cases := []struct {
		in   error
		want error
	}{
		{status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error()), common.ErrAuthExpired},
		{status.Error(codes.Unauthenticated, "x"), common.ErrNotAuthenticated},
		{status.Error(codes.PermissionDenied, "x"), common.ErrUnauthorized},
		{status.Error(codes.Unavailable, "x"), common.ErrNetworkTransient},
		{status.Error(codes.DeadlineExceeded, "x"), common.ErrNetworkTransient},
		{status.Error(codes.ResourceExhausted, "x"), ErrUnavailable},
		{status.Error(codes.NotFound, "x"), common.ErrNotFound},
		{status.Error(codes.AlreadyExists, "x"), common.ErrAlreadyExists},
		{status.Error(codes.InvalidArgument, "x"), common.ErrValidation},
		{status.Error(codes.Aborted, "x"), common.ErrVersionConflict},
		{status.Error(codes.Canceled, "x"), context.Canceled},
	}
	for _, tc := range cases {
		require.ErrorIs(t, c.mapError(tc.in), tc.want, "input %v", tc.in)
	}

	require.ErrorContains(t, c.mapError(status.Error(codes.Internal, "boom")), "rpc error:")
	plain := errors.New("plain")
	require.Equal(t, plain, c.mapError(plain))
	require.NoError(t, c.mapError(nil))
}

/*************
 * Ping / Login / Register tests
 *************/

func TestPing(t *testing.T) {
	require.NoError(t, newTestClient(&fakePB{pingResp: &rpc.PingResponse{Status: rpc.StatusOK}}).Ping(context.Background()))
	require.ErrorIs(t, newTestClient(&fakePB{pingResp: &rpc.PingResponse{Status: "NOT_OK"}}).Ping(context.Background()), ErrUnavailable)
	require.ErrorIs(t, newTestClient(&fakePB{pingErr: status.Error(codes.Unavailable, "down")}).Ping(context.Background()), common.ErrNetworkTransient)
}

func TestLogin_SetsTokensAndIdentity(t *testing.T) {
	a := makeToken(t, "stable-1", time.Hour)
	f := &fakePB{loginResp: &rpc.LoginResponse{AccessToken: a, RefreshToken: "R"}}
	c := newTestClient(f)

	_, err := c.CurrentIdentity(context.Background())
	require.ErrorIs(t, err, common.ErrNotAuthenticated)

	require.NoError(t, c.Login(context.Background(), "ann", "pw"))
	require.Equal(t, "ann", f.lastLoginReq.Username)
	require.Equal(t, "pw", f.lastLoginReq.Password)

	creds, err := c.CurrentIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stable-1", creds.StableID)
	assert.Equal(t, "ann", creds.DisplayName)

	c.Logout()
	_, err = c.CurrentIdentity(context.Background())
	require.ErrorIs(t, err, common.ErrNotAuthenticated)
}

func TestRefreshCredentials_SkipsWhenFresh(t *testing.T) {
	f := &fakePB{loginResp: &rpc.LoginResponse{AccessToken: makeToken(t, "u", time.Hour), RefreshToken: "R"}}
	c := newTestClient(f)
	require.NoError(t, c.Login(context.Background(), "u", "p"))

	_, err := c.RefreshCredentials(context.Background(), false)
	require.NoError(t, err)
	require.Nil(t, f.lastRefreshTokenReq)

	f.refreshTokenResp = &rpc.RefreshTokenResponse{AccessToken: makeToken(t, "u", time.Hour), RefreshToken: "R2"}
	_, err = c.RefreshCredentials(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, "R", f.lastRefreshTokenReq.RefreshToken)
}

func TestRegister_MapsError(t *testing.T) {
	f := &fakePB{registerErr: status.Error(codes.AlreadyExists, "taken")}
	c := newTestClient(f)
	_, err := c.Register(context.Background(), "u", "p")
	require.ErrorIs(t, err, common.ErrAlreadyExists)
	require.Equal(t, "u", f.lastRegisterReq.Username)
}

/*************
 * Document store tests
 *************/

func TestCreate_SendsOnlyUploadedAttachments(t *testing.T) {
	now := time.Now().UTC()
	f := &fakePB{docResp: &rpc.DocumentResponse{Document: &rpc.Document{SyncID: "s1", Title: "t", Version: 1, CreatedAt: now, UpdatedAt: now}}}
	c := newTestClient(f)

	d := &models.Document{SyncID: "s1", Title: "t", Version: 1, Metadata: []models.Metadata{{Name: "k", Value: "v"}},
		Attachments: []models.FileAttachment{
			{FileName: "a.pdf", RemoteKey: "users/u/documents/s1/1-a.pdf"},
			{FileName: "b.pdf", LocalPath: "/tmp/b.pdf"},
		}}
	got, err := c.Create(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, got.RemoteExists)
	assert.Equal(t, int64(1), got.Version)

	require.Len(t, f.lastCreateReq.Document.Attachments, 1)
	assert.Equal(t, "a.pdf", f.lastCreateReq.Document.Attachments[0].FileName)
	assert.Equal(t, "v", f.lastCreateReq.Document.Metadata[0].Value)
}

func TestUpdate_ConflictCarriesRemote(t *testing.T) {
	f := &fakePB{
		docErr:     status.Error(codes.Aborted, "version conflict"),
		docTrailer: metadata.Pairs(rpc.RemoteDocumentTrailer, `{"sync_id":"s1","title":"remote","version":5}`),
	}
	c := newTestClient(f)

	_, err := c.Update(context.Background(), &models.Document{SyncID: "s1", Title: "mine", Version: 4}, 4)
	var vc *common.VersionConflictError
	require.ErrorAs(t, err, &vc)
	assert.Equal(t, int64(4), vc.ExpectedVersion)
	assert.Equal(t, int64(5), vc.RemoteVersion)
	assert.Equal(t, "remote", vc.Remote.(*models.Document).Title)
	assert.Equal(t, int64(4), f.lastUpdateReq.ExpectedVersion)
}

func TestSoftDelete_MapsNotFound(t *testing.T) {
	c := newTestClient(&fakePB{docErr: status.Error(codes.NotFound, "gone")})
	_, err := c.SoftDelete(context.Background(), "s1", 1)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestBatchPut_PerItemResults(t *testing.T) {
	f := &fakePB{batchResp: &rpc.BatchPutResponse{Results: []*rpc.BatchResult{
		{SyncID: "a", Code: uint32(codes.OK), Document: &rpc.Document{SyncID: "a", Version: 2}},
		{SyncID: "b", Code: uint32(codes.Aborted), Remote: &rpc.Document{SyncID: "b", Version: 9}},
		{SyncID: "c", Code: uint32(codes.InvalidArgument), Message: "title required"},
	}}}
	c := newTestClient(f)

	res, err := c.BatchPut(context.Background(), []BatchItem{
		{Document: &models.Document{SyncID: "a"}, ExpectedVersion: 1},
		{Document: &models.Document{SyncID: "b"}, ExpectedVersion: 3},
		{Document: &models.Document{SyncID: "c"}},
	})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, int64(2), res[0].Document.Version)

	var vc *common.VersionConflictError
	require.ErrorAs(t, res[1].Err, &vc)
	assert.Equal(t, int64(9), vc.RemoteVersion)

	require.ErrorIs(t, res[2].Err, common.ErrValidation)
	assert.Len(t, f.lastBatchReq.Items, 3)
}

func TestBatchPut_Mismatch(t *testing.T) {
	c := newTestClient(&fakePB{batchResp: &rpc.BatchPutResponse{}})
	_, err := c.BatchPut(context.Background(), []BatchItem{{Document: &models.Document{SyncID: "a"}}})
	require.ErrorIs(t, err, ErrBatchMismatch)
}

func TestList_ConvertsDocuments(t *testing.T) {
	del := time.Now().UTC()
	c := newTestClient(&fakePB{listResp: &rpc.ListDocumentsResponse{Documents: []*rpc.Document{
		{SyncID: "a", Version: 3, Attachments: []rpc.Attachment{{FileName: "x.png", RemoteKey: "k", FileSize: 4}}},
		{SyncID: "b", Deleted: true, DeletedAt: &del},
	}}})

	docs, err := c.List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Len(t, docs[0].Attachments, 1)
	assert.Equal(t, "a", docs[0].Attachments[0].SyncID)
	assert.True(t, docs[1].Deleted)
	require.NotNil(t, docs[1].DeletedAt)
}
