package fieldcall

import (
	"context"

	"github.com/gridlens/fieldcall/shared"
	"go.uber.org/zap"
)

// CallViewModel is the pass-through façade between a presentation layer and
// its CallSession. It re-publishes connection states on a channel the UI
// can range over and forwards call intents, including the voice command
// accept/reject delegations.
type CallViewModel struct {
	logger  shared.LoggerAdapter
	session *CallSession
	states  chan ConnectionState
}

func NewCallViewModel(logger shared.LoggerAdapter, session *CallSession) (*CallViewModel, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if session == nil {
		return nil, shared.ErrNoChannel
	}
	vm := &CallViewModel{
		logger:  logger,
		session: session,
		states:  make(chan ConnectionState, 8),
	}
	if err := vm.session.RegisterStateHandler(vm.pushState); err != nil {
		return nil, err
	}
	return vm, nil
}

// States delivers connection-state changes in order. Slow consumers lose
// the oldest update rather than stalling the session.
func (vm *CallViewModel) States() <-chan ConnectionState {
	return vm.states
}

func (vm *CallViewModel) State() ConnectionState {
	return vm.session.State()
}

func (vm *CallViewModel) Start(ctx context.Context) error {
	return vm.session.Start(ctx)
}

func (vm *CallViewModel) End() error {
	return vm.session.EndCall()
}

// Accept answers an incoming call: for a Callee it starts observing the
// record, which answers the pending offer. Fire-and-forget per the voice
// controller's delegate contract.
func (vm *CallViewModel) Accept() {
	if err := vm.session.Start(context.Background()); err != nil {
		vm.logger.Error("accepting call", err)
	}
}

// Reject declines the call by tearing the session down and clearing the
// shared record.
func (vm *CallViewModel) Reject() {
	if err := vm.session.EndCall(); err != nil {
		vm.logger.Error("rejecting call", err)
	}
}

func (vm *CallViewModel) pushState(state ConnectionState) {
	for {
		select {
		case vm.states <- state:
			return
		default:
		}
		select {
		case dropped := <-vm.states:
			vm.logger.Debug("dropping stale state update", zap.String("state", dropped.String()))
		default:
		}
	}
}
