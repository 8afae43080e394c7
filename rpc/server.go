package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/spooky-finn/orderbook-sync/domain"
	applogger "github.com/spooky-finn/orderbook-sync/infrastructure/logger"
)

var logger = applogger.WithComponent("rpc")

// Coordinator is the part of the market coordinator the admin surface drives.
type Coordinator interface {
	ForceResyncWithID(ctx context.Context, market, resyncID string) error
	Status(ctx context.Context) ([]domain.MaintainerStatus, error)
}

type SnapshotReader interface {
	GetOrderBookSnapshot(ctx context.Context, market string, limit int) (*domain.Snapshot, error)
}

type server struct {
	coordinator       Coordinator
	snapshots         SnapshotReader
	validationService *ValidationService
	depth             int
}

var _ AdminServer = (*server)(nil)

type Server struct {
	grpcServer *grpc.Server
}

func NewServer(coordinator Coordinator, snapshots SnapshotReader, conf *ValidationServiceConfig, depth int) *Server {
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(logRequests))
	grpcServer.RegisterService(&AdminServiceDesc, &server{
		coordinator:       coordinator,
		snapshots:         snapshots,
		validationService: NewValidationService(conf),
		depth:             depth,
	})
	return &Server{grpcServer: grpcServer}
}

// Serve listens on addr and blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logger.WithField("addr", addr).Info("admin rpc listening")
	return s.ServeListener(ctx, lis)
}

func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.grpcServer.GracefulStop()
	}()

	if err := s.grpcServer.Serve(lis); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func logRequests(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	entry := logger.WithField("method", info.FullMethod).WithField("took", time.Since(start))
	if err != nil {
		entry.WithError(err).Warn("rpc failed")
	} else {
		entry.Debug("rpc served")
	}
	return resp, err
}
