package usecase

import (
	"context"
	"fmt"

	"github.com/agensia/notify-dispatch/external/wagateway"
	"github.com/agensia/notify-dispatch/internal/domain/channel"
	"github.com/agensia/notify-dispatch/internal/platform/logging"
)

// ChannelGateway covers the session lifecycle surface of the messaging
// gateway client.
type ChannelGateway interface {
	CreateInstance(ctx context.Context, inst wagateway.Instance) (wagateway.CallResult, error)
	Connect(ctx context.Context, inst wagateway.Instance) (wagateway.CallResult, error)
	ConnectionState(ctx context.Context, inst wagateway.Instance) (wagateway.StateResult, error)
	WaitForConnection(ctx context.Context, inst wagateway.Instance) (wagateway.StateResult, error)
	Diagnose(ctx context.Context, inst wagateway.Instance) (wagateway.Report, error)
}

// SettingsInvalidator drops the cached channel settings after a lifecycle
// operation so the next dispatch run sees fresh state.
type SettingsInvalidator interface {
	Invalidate(ctx context.Context)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context) {}

// ConnectOutput pairs the connect call's raw answer with the state the
// follow-up polling observed.
type ConnectOutput struct {
	Call  wagateway.CallResult  `json:"call"`
	State wagateway.StateResult `json:"state"`
}

// ChannelService manages the gateway channel session for the active settings
// record.
type ChannelService struct {
	settings    channel.Repository
	gateway     ChannelGateway
	invalidator SettingsInvalidator
	logger      *logging.Logger
}

func NewChannelService(
	settings channel.Repository,
	gateway ChannelGateway,
	invalidator SettingsInvalidator,
	logger *logging.Logger,
) *ChannelService {
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &ChannelService{
		settings:    settings,
		gateway:     gateway,
		invalidator: invalidator,
		logger:      logger,
	}
}

// Create registers the channel instance on the gateway. Safe to repeat: an
// already-existing instance counts as success.
func (s *ChannelService) Create(ctx context.Context) (wagateway.CallResult, error) {
	ctx, span := startUsecaseSpan(ctx, "ChannelService.Create")
	defer span.End()

	inst, err := s.instance(ctx)
	if err != nil {
		return wagateway.CallResult{}, err
	}

	result, err := s.gateway.CreateInstance(ctx, inst)
	s.invalidator.Invalidate(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	s.logger.InfoContext(ctx, "channel instance created", "instance", inst.Name, "status", result.Status)
	return result, nil
}

// Connect kicks off the connection and then observes the state until it is
// connected or the wait budget runs out. The returned state is whatever the
// gateway last reported; connecting is a legitimate answer.
func (s *ChannelService) Connect(ctx context.Context) (ConnectOutput, error) {
	ctx, span := startUsecaseSpan(ctx, "ChannelService.Connect")
	defer span.End()

	inst, err := s.instance(ctx)
	if err != nil {
		return ConnectOutput{}, err
	}

	call, err := s.gateway.Connect(ctx, inst)
	s.invalidator.Invalidate(ctx)
	if err != nil {
		return ConnectOutput{Call: call}, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	state, err := s.gateway.WaitForConnection(ctx, inst)
	if err != nil {
		return ConnectOutput{Call: call, State: state}, fmt.Errorf("observe connection state: %w", err)
	}

	s.logger.InfoContext(ctx, "channel connect finished", "instance", inst.Name, "state", state.State)
	return ConnectOutput{Call: call, State: state}, nil
}

// State reports the current normalized connection state.
func (s *ChannelService) State(ctx context.Context) (wagateway.StateResult, error) {
	ctx, span := startUsecaseSpan(ctx, "ChannelService.State")
	defer span.End()

	inst, err := s.instance(ctx)
	if err != nil {
		return wagateway.StateResult{}, err
	}

	result, err := s.gateway.ConnectionState(ctx, inst)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	return result, nil
}

// Diagnostics runs the read-only connectivity battery against the gateway.
func (s *ChannelService) Diagnostics(ctx context.Context) (wagateway.Report, error) {
	ctx, span := startUsecaseSpan(ctx, "ChannelService.Diagnostics")
	defer span.End()

	inst, err := s.instance(ctx)
	if err != nil {
		return wagateway.Report{}, err
	}

	report, err := s.gateway.Diagnose(ctx, inst)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}

	return report, nil
}

func (s *ChannelService) instance(ctx context.Context) (wagateway.Instance, error) {
	settings, exists, err := s.settings.GetActive(ctx)
	if err != nil {
		return wagateway.Instance{}, fmt.Errorf("load channel settings: %w", err)
	}
	if !exists || !settings.Active {
		return wagateway.Instance{}, fmt.Errorf("%w: no active channel settings", ErrConfigMissing)
	}

	return wagateway.Instance{
		ServerURL: settings.ServerURL,
		Name:      settings.InstanceName,
	}, nil
}
