package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/docsync/internal/logging"
	"github.com/dmitrijs2005/docsync/internal/rpc"
	"github.com/dmitrijs2005/docsync/internal/server/models"
	"github.com/dmitrijs2005/docsync/internal/server/services"
)

type userService interface {
	Register(ctx context.Context, username, password string) (*models.User, error)
	Login(ctx context.Context, username, password string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
}

type documentService interface {
	Get(ctx context.Context, ownerID, syncID string) (*models.Document, error)
	List(ctx context.Context, ownerID string, includeDeleted bool) ([]*models.Document, error)
	Create(ctx context.Context, ownerID string, d *models.Document) (*models.Document, error)
	Update(ctx context.Context, ownerID string, d *models.Document, expectedVersion int64) (*models.Document, error)
	Delete(ctx context.Context, ownerID, syncID string, expectedVersion int64) (*models.Document, error)
	BatchPut(ctx context.Context, ownerID string, items []services.BatchItem) ([]services.BatchResult, error)
}

type changeSubscriber interface {
	Subscribe(ctx context.Context, ownerID string) (<-chan models.ChangeEvent, error)
}

type GRPCServer struct {
	rpc.UnimplementedDocSyncServer
	address   string
	users     userService
	documents documentService
	changes   changeSubscriber
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, us userService, ds documentService, cs changeSubscriber, secretKey string) (*GRPCServer, error) {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		users:     us,
		documents: ds,
		changes:   cs,
		jwtSecret: []byte(secretKey),
	}, nil
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.metricsInterceptor, s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	)
	rpc.RegisterDocSyncServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
