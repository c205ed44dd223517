package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-flows/internal/api"
	"github.com/miradorstack/mirador-flows/internal/models"
	"github.com/miradorstack/mirador-flows/internal/playback"
)

// StatusPipeline is the live pipeline state used by the service.
type StatusPipeline interface {
	SetInputs(ctx context.Context, flow models.Flow, accounts []int64) *models.Classification
	Current() (models.FlowStatus, bool)
}

// Trigger requests a fetch cycle.
type Trigger interface {
	Trigger()
}

// Player is the playback controller.
type Player interface {
	Preload(ctx context.Context, bands []models.TimeBand, callback playback.Callback, overwrite bool) (playback.PreloadReport, error)
	Seek(window models.TimeWindow) (models.FlowStatus, bool)
	ClearTimeWindow()
}

// FlowStatusService owns the caller inputs (flow tree and accounts) and
// exposes live and playback status over gRPC.
type FlowStatusService struct {
	api.UnimplementedFlowStatusServer

	logger   *slog.Logger
	pipeline StatusPipeline
	trigger  Trigger
	player   Player

	mu       sync.RWMutex
	flow     models.Flow
	accounts []int64

	// reclassifyMu orders classifications so the last one stored always
	// reflects the latest inputs.
	reclassifyMu sync.Mutex
}

// NewFlowStatusService constructs the service facade.
func NewFlowStatusService(logger *slog.Logger, pipeline StatusPipeline, trigger Trigger, player Player) *FlowStatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowStatusService{
		logger:   logger,
		pipeline: pipeline,
		trigger:  trigger,
		player:   player,
	}
}

// SetPlayer wires the playback controller after construction, since the
// controller reads inputs from the service.
func (s *FlowStatusService) SetPlayer(player Player) {
	s.player = player
}

// Inputs returns the current flow tree and accessible accounts.
func (s *FlowStatusService) Inputs() (models.Flow, []int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flow, append([]int64(nil), s.accounts...)
}

// SetInputs replaces the flow and accounts, reclassifies, and triggers a
// cycle. A cycle already in flight is followed by exactly one more.
func (s *FlowStatusService) SetInputs(ctx context.Context, flow models.Flow, accounts []int64) {
	s.mu.Lock()
	s.flow = flow
	s.accounts = append([]int64(nil), accounts...)
	s.mu.Unlock()
	s.reclassify(ctx)
}

// SetFlow replaces only the flow tree.
func (s *FlowStatusService) SetFlow(ctx context.Context, flow models.Flow) {
	s.mu.Lock()
	s.flow = flow
	s.mu.Unlock()
	s.reclassify(ctx)
}

// SetAccounts replaces only the accessible accounts.
func (s *FlowStatusService) SetAccounts(ctx context.Context, accounts []int64) {
	s.mu.Lock()
	s.accounts = append([]int64(nil), accounts...)
	s.mu.Unlock()
	s.reclassify(ctx)
}

func (s *FlowStatusService) reclassify(ctx context.Context) {
	if s.pipeline == nil {
		return
	}
	s.reclassifyMu.Lock()
	defer s.reclassifyMu.Unlock()
	flow, accounts := s.Inputs()
	if cls := s.pipeline.SetInputs(ctx, flow, accounts); cls != nil {
		s.logger.Debug("inputs updated",
			slog.String("flow", flow.ID),
			slog.Int("accounts", len(accounts)),
			slog.Int("fetchable", cls.GuidSet.Len()),
		)
	}
	if s.trigger != nil {
		s.trigger.Trigger()
	}
}

// GetStatus returns the most recently published status.
func (s *FlowStatusService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	current, ok := s.pipeline.Current()
	if !ok {
		return nil, status.Error(codes.Unavailable, "no status published yet")
	}
	resp, err := api.ToProtoFlowStatus(current)
	if err != nil {
		s.logger.Error("encode status failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode status")
	}
	return resp, nil
}

// Refresh requests an immediate live cycle.
func (s *FlowStatusService) Refresh(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if s.trigger == nil {
		return nil, status.Error(codes.FailedPrecondition, "scheduler not configured")
	}
	s.trigger.Trigger()
	return &emptypb.Empty{}, nil
}

// Preload loads historical bands and returns every band computed by this
// call.
func (s *FlowStatusService) Preload(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.player == nil {
		return nil, status.Error(codes.FailedPrecondition, "playback not configured")
	}
	bands, overwrite, err := api.FromProtoPreloadRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var results []api.BandResult
	report, err := s.player.Preload(ctx, bands, func(index int, result models.FlowStatus) {
		results = append(results, api.BandResult{Index: index, Status: result})
	}, overwrite)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		if errors.Is(err, playback.ErrNoBands) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error("playback preload failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "preload failed")
	}

	resp, err := api.ToProtoPreloadResponse(report, results)
	if err != nil {
		s.logger.Error("encode preload failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode preload results")
	}
	return resp, nil
}

// Seek republishes a preloaded band. An uncached band is not an error.
func (s *FlowStatusService) Seek(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.player == nil {
		return nil, status.Error(codes.FailedPrecondition, "playback not configured")
	}
	window, err := api.FromProtoWindow(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, found := s.player.Seek(window)
	resp, err := api.ToProtoSeekResponse(result, found)
	if err != nil {
		s.logger.Error("encode seek failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode status")
	}
	return resp, nil
}

// ClearPlayback leaves playback and resumes live polling.
func (s *FlowStatusService) ClearPlayback(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if s.player == nil {
		return nil, status.Error(codes.FailedPrecondition, "playback not configured")
	}
	s.player.ClearTimeWindow()
	return &emptypb.Empty{}, nil
}
