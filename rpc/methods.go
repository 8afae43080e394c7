package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/spooky-finn/orderbook-sync/domain"
	applogger "github.com/spooky-finn/orderbook-sync/infrastructure/logger"
)

func (s *server) Resync(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	market, err := s.validationService.NormalizeMarket(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resyncID := uuid.NewString()
	log := logger.WithFields(applogger.Fields{"market": market, "resync_id": resyncID})
	log.Info("resync requested")

	if err := s.coordinator.ForceResyncWithID(ctx, market, resyncID); err != nil {
		log.WithError(err).Warn("resync request failed")
		return nil, toStatus(err)
	}
	return wrapperspb.String(resyncID), nil
}

func (s *server) Depth(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	market, err := s.validationService.NormalizeMarket(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	snapshot, err := s.snapshots.GetOrderBookSnapshot(ctx, market, s.depth)
	if err != nil {
		return nil, toStatus(err)
	}

	// round trip through json so levels keep their ["price","qty"] string form
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	fields["market"] = market
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *server) Markets(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	statuses, err := s.coordinator.Status(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	items := make([]interface{}, 0, len(statuses))
	for _, st := range statuses {
		items = append(items, map[string]interface{}{
			"market":          st.Market,
			"state":           st.State.String(),
			"seq":             st.Seq,
			"frozen":          st.Frozen,
			"pending":         st.Pending,
			"resync_failures": st.ResyncFailures,
		})
	}
	out, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrUnknownMarket):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrSnapshotFetch):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, domain.ErrTransientStore):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, domain.ErrStaleSnapshot):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrStopped):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
