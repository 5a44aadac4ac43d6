// Package gateway runs the command engine behind the chat channels and
// serves health endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"opsbot/pkg/bus"
	"opsbot/pkg/channel"
	"opsbot/pkg/config"
	"opsbot/pkg/engine"
	"opsbot/pkg/provider"
)

const (
	defaultHealthHost      = "127.0.0.1"
	defaultHealthPort      = 18790
	providerHealthInterval = 30 * time.Second
	deliveryTimeout        = 10 * time.Second
)

// Deps are the parts the gateway wires together.
type Deps struct {
	Roster   engine.PermissionResolver
	Plugins  []engine.Plugin
	Adapters []channel.Adapter
	// Provider is optional; when set its health gates readiness.
	Provider provider.Client
	Log      *slog.Logger
	// NoStatusServer skips the /healthz and /readyz listener.
	NoStatusServer bool
}

type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	bus        *bus.MessageBus
	registry   *engine.Registry
	scheduler  *engine.Scheduler
	dispatcher *engine.Dispatcher
	provider   provider.Client
	channels   []channel.Adapter
	byName     map[string]channel.Adapter
	serve      bool

	mu               sync.RWMutex
	startedAt        time.Time
	schedulerRunning bool
	providerLastOKAt time.Time
	providerLastErr  string
	channelStates    map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	Scheduler        string                  `json:"scheduler"`
	Commands         int                     `json:"commands"`
	ProviderLastOKAt string                  `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string                  `json:"provider_last_error,omitempty"`
	Channels         map[string]channelState `json:"channels"`
}

// NewService installs every plugin and builds the engine. A plugin that
// fails to install, such as one registering a duplicate command, stops the
// service from being built at all.
func NewService(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(deps.Adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	registry := engine.NewRegistry()
	for _, plugin := range deps.Plugins {
		if err := registry.Install(plugin); err != nil {
			return nil, err
		}
	}

	byName := make(map[string]channel.Adapter, len(deps.Adapters))
	channelStates := make(map[string]channelState, len(deps.Adapters))
	for _, adapter := range deps.Adapters {
		if _, dup := byName[adapter.Name()]; dup {
			return nil, fmt.Errorf("channel %q configured twice", adapter.Name())
		}
		byName[adapter.Name()] = adapter
		channelStates[adapter.Name()] = channelState{}
	}

	s := &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		bus:           bus.NewMessageBus(),
		registry:      registry,
		provider:      deps.Provider,
		channels:      deps.Adapters,
		byName:        byName,
		serve:         !deps.NoStatusServer,
		channelStates: channelStates,
	}

	gate := engine.NewGate(deps.Roster, log)
	s.scheduler = engine.NewScheduler(registry, gate, outbox{bus: s.bus}, log, engine.WithFinishHook(s.onFinish))
	s.dispatcher = engine.NewDispatcher(registry, gate, s.scheduler, log,
		engine.WithCommandMarker(cfg.Bot.CommandMarker),
		engine.WithDispatchObserver(s.onDispatch),
	)

	return s, nil
}

// Commands lists the installed commands.
func (s *Service) Commands() []engine.CommandInfo {
	return s.registry.Commands()
}

// Run serves until ctx ends (nil), a component fails (its error), or a
// command asks for a restart (*engine.Termination). Replies queued before
// a restart are delivered before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var listener net.Listener
	if s.serve {
		var err error
		if listener, err = s.listen(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	events, unsubscribe := s.bus.SubscribeEvents(gctx, 0)
	defer unsubscribe()
	g.Go(func() error {
		s.logEvents(events)
		return nil
	})

	g.Go(func() error {
		s.setSchedulerRunning(true)
		defer s.setSchedulerRunning(false)
		return s.scheduler.Run(gctx)
	})

	g.Go(func() error {
		s.consumeInbound(gctx)
		return nil
	})

	g.Go(func() error {
		s.pumpOutbound(gctx)
		return nil
	})

	if listener != nil {
		g.Go(func() error {
			return s.serveStatus(gctx, listener)
		})
	}

	if s.provider != nil {
		g.Go(func() error {
			s.watchProvider(gctx)
			return nil
		})
	}

	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		g.Go(func() error {
			err := adapter.Run(gctx, s.handleInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			return nil
		})
	}

	s.log.Info("Gateway started", "channels", channelNames(s.channels), "commands", len(s.registry.Commands()))

	err := g.Wait()
	s.flushOutbound()
	s.bus.Close()

	if term, ok := engine.IsTermination(err); ok {
		s.log.Info("Gateway stopping for restart", "reason", term.Reason, "invocation_id", term.InvocationID, "command", term.Command)
		return term
	}
	if err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

// handleInbound is the channel.Handler given to every adapter.
func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) {
	if !s.bus.PublishInbound(ctx, inbound) {
		s.log.Warn("Dropped inbound message", "channel", inbound.Channel, "chat_id", inbound.ChatID)
	}
}

func (s *Service) consumeInbound(ctx context.Context) {
	for {
		inbound, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		if _, err := s.dispatcher.Dispatch(ctx, toMessage(inbound)); err != nil {
			s.log.Warn("Dispatch failed", "channel", inbound.Channel, "chat_id", inbound.ChatID, "error", err)
		}
	}
}

func (s *Service) pumpOutbound(ctx context.Context) {
	for {
		msg, ok := s.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		s.deliver(ctx, msg)
	}
}

// flushOutbound delivers whatever the scheduler queued before it stopped.
func (s *Service) flushOutbound() {
	pending := s.bus.DrainOutbound()
	if len(pending) == 0 {
		return
	}

	s.log.Debug("Delivering queued messages", "count", len(pending))
	for _, msg := range pending {
		s.deliver(context.Background(), msg)
	}
}

// deliver sends one message. It outlives ctx cancellation so a message
// taken off the queue is never half sent.
func (s *Service) deliver(ctx context.Context, msg bus.OutboundMessage) {
	adapter, ok := s.byName[msg.Channel]
	if !ok {
		s.log.Warn("No adapter for outbound message", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	if err := adapter.Send(sendCtx, msg); err != nil {
		s.log.Error("Failed to deliver message", "channel", msg.Channel, "chat_id", msg.ChatID, "kind", msg.Kind, "error", err)
	}
}

func (s *Service) onDispatch(msg engine.Message, outcome engine.Outcome, command string) {
	var eventType bus.EventType
	switch outcome {
	case engine.OutcomeScheduled:
		eventType = bus.EventCommandReceived
	case engine.OutcomeDenied:
		eventType = bus.EventCommandDenied
	default:
		return
	}

	s.bus.PublishEvent(context.Background(), bus.Event{
		Type:     eventType,
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		SenderID: msg.SenderID,
		Command:  command,
	})
}

func (s *Service) onFinish(result engine.Result) {
	event := bus.Event{
		Type:         bus.EventCommandCompleted,
		Channel:      result.Message.Channel,
		ChatID:       result.Message.ChatID,
		SenderID:     result.Message.SenderID,
		InvocationID: result.InvocationID,
		Command:      result.Command,
		Payload:      map[string]string{"elapsed": result.Elapsed.Round(time.Millisecond).String()},
	}
	if result.Err != nil {
		event.Type = bus.EventCommandFailed
		event.Error = result.Err.Error()
	}
	if result.Terminated {
		event.Type = bus.EventShutdown
	}

	s.bus.PublishEvent(context.Background(), event)
}

func (s *Service) logEvents(events <-chan bus.Event) {
	for event := range events {
		attrs := []any{
			"event", string(event.Type),
			"channel", event.Channel,
			"chat_id", event.ChatID,
			"sender_id", event.SenderID,
			"command", event.Command,
		}
		if event.InvocationID != "" {
			attrs = append(attrs, "invocation_id", event.InvocationID)
		}
		if elapsed := event.Payload["elapsed"]; elapsed != "" {
			attrs = append(attrs, "elapsed", elapsed)
		}

		switch event.Type {
		case bus.EventCommandFailed:
			s.log.Warn("Command failed", append(attrs, "error", event.Error)...)
		case bus.EventCommandDenied:
			s.log.Info("Command denied", attrs...)
		case bus.EventShutdown:
			s.log.Info("Command requested shutdown", attrs...)
		default:
			s.log.Debug("Command event", attrs...)
		}
	}
}

func (s *Service) listen() (net.Listener, error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("start status server: %w", err)
	}

	return listener, nil
}

func (s *Service) serveStatus(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}

	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	commands := len(s.registry.Commands())

	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	scheduler := "stopped"
	if s.schedulerRunning {
		scheduler = "running"
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		Scheduler:        scheduler,
		Commands:         commands,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
		Channels:         channels,
	}
}

// isReady needs the scheduler and one channel up, and a healthy provider
// when one is configured.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.schedulerRunning {
		return false
	}

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	if s.provider == nil {
		return true
	}

	return !s.providerLastOKAt.IsZero() && s.providerLastErr == ""
}

func (s *Service) watchProvider(ctx context.Context) {
	ticker := time.NewTicker(providerHealthInterval)
	defer ticker.Stop()

	for {
		if err := s.checkProviderHealth(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("Provider health check failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if err := s.provider.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setSchedulerRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedulerRunning = running
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func toMessage(in bus.InboundMessage) engine.Message {
	return engine.Message{
		ID:         in.MessageID,
		SenderID:   in.SenderID,
		SenderName: in.SenderName,
		Channel:    in.Channel,
		ChatID:     in.ChatID,
		ChatName:   in.ChatName,
		Text:       in.Content,
		At:         in.At,
	}
}

func channelNames(adapters []channel.Adapter) []string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return names
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
