// Package agents wires the call engine, voice controller and recognizer
// plumbing into a runnable wearable companion.
package agents

import (
	"context"
	"strings"

	fieldcall "github.com/gridlens/fieldcall"
	"github.com/gridlens/fieldcall/shared"
	"github.com/gridlens/fieldcall/sites"
	"github.com/gridlens/fieldcall/voice"
	"go.uber.org/zap"
)

// WearableAgent runs the onsite-operator side of a call: it answers
// incoming offers as the Callee and drives the wearable UI from recognized
// speech tokens.
type WearableAgent struct {
	logger     shared.LoggerAdapter
	printer    *shared.Printer
	session    *fieldcall.CallSession
	viewModel  *fieldcall.CallViewModel
	controller *voice.Controller
}

// Spawn builds the session stack and starts consuming tokens. The returned
// channel closes when the call session ends.
func (a *WearableAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg *fieldcall.Config,
	channel fieldcall.SignalingChannel,
	siteList []voice.Site,
	lookup sites.Lookup,
	printer *shared.Printer,
	tokens <-chan string,
	sink voice.VocabularySink,
) (<-chan struct{}, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg == nil {
		return nil, shared.ErrNoConfig
	}
	if channel == nil {
		return nil, shared.ErrNoChannel
	}
	a.logger = logger
	a.printer = printer
	a.logger.Info("spawning wearable agent", zap.String("session", cfg.SessionID))
	a.println("⌚ Spawning wearable agent...")

	media, err := fieldcall.NewMediaEndpoint(logger)
	if err != nil {
		return nil, err
	}
	transport, err := fieldcall.NewPeerTransport(ctx, logger, cfg.ICEServers, media)
	if err != nil {
		a.logger.Error("creating transport", err)
		return nil, err
	}
	a.session, err = fieldcall.NewCallSession(ctx, logger, fieldcall.RoleCallee, channel, transport, media)
	if err != nil {
		a.logger.Error("creating call session", err)
		return nil, err
	}
	a.viewModel, err = fieldcall.NewCallViewModel(logger, a.session)
	if err != nil {
		a.logger.Error("creating call view model", err)
		return nil, err
	}
	a.controller, err = voice.NewController(logger, siteList, lookup, a.viewModel, cfg.PageSize)
	if err != nil {
		a.logger.Error("creating voice controller", err)
		return nil, err
	}

	// The wearable listens from the start; "accept"/"reject" gate what
	// happens once an offer lands.
	if err := a.viewModel.Start(ctx); err != nil {
		a.logger.Error("starting callee session", err)
		return nil, err
	}
	a.println("📡 Listening for incoming calls.")

	a.pushVocabulary(ctx, sink, a.controller.InitialVocabulary())

	go a.watchStates(ctx)
	go a.consumeTokens(ctx, sink, tokens)

	return a.session.Done(), nil
}

func (a *WearableAgent) Close() error {
	if a.session == nil {
		return nil
	}
	return a.session.EndCall()
}

func (a *WearableAgent) watchStates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-a.viewModel.States():
			if !ok {
				return
			}
			a.println("📞 Call state: " + state.String())
			if state == fieldcall.StateClosed {
				return
			}
		}
	}
}

// consumeTokens processes recognized tokens strictly in arrival order, one
// Handle at a time.
func (a *WearableAgent) consumeTokens(ctx context.Context, sink voice.VocabularySink, tokens <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case token, ok := <-tokens:
			if !ok {
				return
			}
			vocab := a.controller.Handle(ctx, token)
			if len(vocab) == 0 {
				continue
			}
			a.pushVocabulary(ctx, sink, vocab)
		}
	}
}

func (a *WearableAgent) pushVocabulary(ctx context.Context, sink voice.VocabularySink, vocab []string) {
	a.println("🗣  Say: " + strings.Join(vocab, " / "))
	if sink == nil {
		return
	}
	if err := sink.PushVocabulary(ctx, vocab); err != nil {
		a.logger.Error("pushing vocabulary to recognizer", err)
	}
}

func (a *WearableAgent) println(s string) {
	if a.printer == nil {
		return
	}
	if err := a.printer.Writeln(s, 0); err != nil {
		a.logger.Error("printing agent message", err)
	}
}
