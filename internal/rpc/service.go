package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "docsync.v1.DocSyncService"

const (
	MethodPing           = "/" + ServiceName + "/Ping"
	MethodRegister       = "/" + ServiceName + "/Register"
	MethodLogin          = "/" + ServiceName + "/Login"
	MethodRefreshToken   = "/" + ServiceName + "/RefreshToken"
	MethodGetDocument    = "/" + ServiceName + "/GetDocument"
	MethodListDocuments  = "/" + ServiceName + "/ListDocuments"
	MethodCreateDocument = "/" + ServiceName + "/CreateDocument"
	MethodUpdateDocument = "/" + ServiceName + "/UpdateDocument"
	MethodDeleteDocument = "/" + ServiceName + "/DeleteDocument"
	MethodBatchPut       = "/" + ServiceName + "/BatchPut"
	MethodSubscribe      = "/" + ServiceName + "/Subscribe"
)

// PublicMethods do not require an access token.
var PublicMethods = map[string]bool{
	MethodPing:         true,
	MethodRegister:     true,
	MethodLogin:        true,
	MethodRefreshToken: true,
}

type DocSyncServer interface {
	Ping(context.Context, *Empty) (*PingResponse, error)
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	RefreshToken(context.Context, *RefreshTokenRequest) (*RefreshTokenResponse, error)
	GetDocument(context.Context, *GetDocumentRequest) (*DocumentResponse, error)
	ListDocuments(context.Context, *ListDocumentsRequest) (*ListDocumentsResponse, error)
	CreateDocument(context.Context, *CreateDocumentRequest) (*DocumentResponse, error)
	UpdateDocument(context.Context, *UpdateDocumentRequest) (*DocumentResponse, error)
	DeleteDocument(context.Context, *DeleteDocumentRequest) (*DocumentResponse, error)
	BatchPut(context.Context, *BatchPutRequest) (*BatchPutResponse, error)
	Subscribe(*SubscribeRequest, SubscribeServer) error
}

// UnimplementedDocSyncServer can be embedded to satisfy DocSyncServer.
type UnimplementedDocSyncServer struct{}

func (UnimplementedDocSyncServer) Ping(context.Context, *Empty) (*PingResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Ping not implemented")
}
func (UnimplementedDocSyncServer) Register(context.Context, *RegisterRequest) (*RegisterResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Register not implemented")
}
func (UnimplementedDocSyncServer) Login(context.Context, *LoginRequest) (*LoginResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Login not implemented")
}
func (UnimplementedDocSyncServer) RefreshToken(context.Context, *RefreshTokenRequest) (*RefreshTokenResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RefreshToken not implemented")
}
func (UnimplementedDocSyncServer) GetDocument(context.Context, *GetDocumentRequest) (*DocumentResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetDocument not implemented")
}
func (UnimplementedDocSyncServer) ListDocuments(context.Context, *ListDocumentsRequest) (*ListDocumentsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListDocuments not implemented")
}
func (UnimplementedDocSyncServer) CreateDocument(context.Context, *CreateDocumentRequest) (*DocumentResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateDocument not implemented")
}
func (UnimplementedDocSyncServer) UpdateDocument(context.Context, *UpdateDocumentRequest) (*DocumentResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateDocument not implemented")
}
func (UnimplementedDocSyncServer) DeleteDocument(context.Context, *DeleteDocumentRequest) (*DocumentResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteDocument not implemented")
}
func (UnimplementedDocSyncServer) BatchPut(context.Context, *BatchPutRequest) (*BatchPutResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method BatchPut not implemented")
}
func (UnimplementedDocSyncServer) Subscribe(*SubscribeRequest, SubscribeServer) error {
	return status.Error(codes.Unimplemented, "method Subscribe not implemented")
}

// SubscribeServer is the server side of the change-event stream.
type SubscribeServer interface {
	Send(*ChangeEvent) error
	grpc.ServerStream
}

type subscribeServer struct {
	grpc.ServerStream
}

func (s *subscribeServer) Send(e *ChangeEvent) error { return s.ServerStream.SendMsg(e) }

func unary[Req, Resp any](name, full string, call func(DocSyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DocSyncServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DocSyncServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DocSyncServer).Subscribe(in, &subscribeServer{stream})
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", MethodPing, DocSyncServer.Ping),
		unary("Register", MethodRegister, DocSyncServer.Register),
		unary("Login", MethodLogin, DocSyncServer.Login),
		unary("RefreshToken", MethodRefreshToken, DocSyncServer.RefreshToken),
		unary("GetDocument", MethodGetDocument, DocSyncServer.GetDocument),
		unary("ListDocuments", MethodListDocuments, DocSyncServer.ListDocuments),
		unary("CreateDocument", MethodCreateDocument, DocSyncServer.CreateDocument),
		unary("UpdateDocument", MethodUpdateDocument, DocSyncServer.UpdateDocument),
		unary("DeleteDocument", MethodDeleteDocument, DocSyncServer.DeleteDocument),
		unary("BatchPut", MethodBatchPut, DocSyncServer.BatchPut),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
}

func RegisterDocSyncServer(s grpc.ServiceRegistrar, srv DocSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// DocSyncClient is the client stub for DocSyncServer.
type DocSyncClient struct {
	cc grpc.ClientConnInterface
}

func NewDocSyncClient(cc grpc.ClientConnInterface) *DocSyncClient {
	return &DocSyncClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DocSyncClient) Ping(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, MethodPing, in, opts)
}

func (c *DocSyncClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, MethodRegister, in, opts)
}

func (c *DocSyncClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, MethodLogin, in, opts)
}

func (c *DocSyncClient) RefreshToken(ctx context.Context, in *RefreshTokenRequest, opts ...grpc.CallOption) (*RefreshTokenResponse, error) {
	return invoke[RefreshTokenResponse](ctx, c.cc, MethodRefreshToken, in, opts)
}

func (c *DocSyncClient) GetDocument(ctx context.Context, in *GetDocumentRequest, opts ...grpc.CallOption) (*DocumentResponse, error) {
	return invoke[DocumentResponse](ctx, c.cc, MethodGetDocument, in, opts)
}

func (c *DocSyncClient) ListDocuments(ctx context.Context, in *ListDocumentsRequest, opts ...grpc.CallOption) (*ListDocumentsResponse, error) {
	return invoke[ListDocumentsResponse](ctx, c.cc, MethodListDocuments, in, opts)
}

func (c *DocSyncClient) CreateDocument(ctx context.Context, in *CreateDocumentRequest, opts ...grpc.CallOption) (*DocumentResponse, error) {
	return invoke[DocumentResponse](ctx, c.cc, MethodCreateDocument, in, opts)
}

func (c *DocSyncClient) UpdateDocument(ctx context.Context, in *UpdateDocumentRequest, opts ...grpc.CallOption) (*DocumentResponse, error) {
	return invoke[DocumentResponse](ctx, c.cc, MethodUpdateDocument, in, opts)
}

func (c *DocSyncClient) DeleteDocument(ctx context.Context, in *DeleteDocumentRequest, opts ...grpc.CallOption) (*DocumentResponse, error) {
	return invoke[DocumentResponse](ctx, c.cc, MethodDeleteDocument, in, opts)
}

func (c *DocSyncClient) BatchPut(ctx context.Context, in *BatchPutRequest, opts ...grpc.CallOption) (*BatchPutResponse, error) {
	return invoke[BatchPutResponse](ctx, c.cc, MethodBatchPut, in, opts)
}

// SubscribeClient receives change events until the stream ends.
type SubscribeClient interface {
	Recv() (*ChangeEvent, error)
	grpc.ClientStream
}

type subscribeClient struct {
	grpc.ClientStream
}

func (s *subscribeClient) Recv() (*ChangeEvent, error) {
	e := new(ChangeEvent)
	if err := s.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *DocSyncClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	x := &subscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
