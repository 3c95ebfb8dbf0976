// Package agentmanager implements C3, the agent manager: lazily adapts a
// Member to its CLI family, spawns subprocesses on demand, streams stdout
// through the matching parser, publishes normalized events, and enforces
// timeouts and cancellation. Grounded on internal/agent/lifecycle.Manager's
// instance-tracking/event-publishing shape and internal/agent/agentctl's
// launcher for the actual spawn+stop mechanics (now behind the execenv
// collaborator).
package agentmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/converse/internal/agentfamily"
	"github.com/kandev/converse/internal/apperrors"
	"github.com/kandev/converse/internal/collector"
	"github.com/kandev/converse/internal/common/logger"
	"github.com/kandev/converse/internal/credentials"
	"github.com/kandev/converse/internal/events/bus"
	"github.com/kandev/converse/internal/execenv"
	"github.com/kandev/converse/internal/model"
)

const (
	defaultTimeout  = 5 * time.Minute
	maxTimeout      = 30 * time.Minute
	killGrace       = 5 * time.Second
	cleanupInterval = 30 * time.Second
)

// SendOptions parameterizes one Send call.
type SendOptions struct {
	Prompt        string
	SystemFlag    string
	WorkspacePath string
	ConfigArgs    []string
	ConfigEnv     map[string]string
	Timeout       time.Duration
}

// SendResult is what Send resolves with once a turn.completed boundary is
// observed or synthesized.
type SendResult struct {
	Success         bool
	FinishReason    string
	AccumulatedText string
}

type handle struct {
	mu        sync.Mutex
	member    *model.Member
	adapter   agentfamily.Adapter
	process   execenv.Process
	cancelled bool
}

// Manager is the C3 agent manager.
type Manager struct {
	mu      sync.RWMutex
	handles map[string]*handle

	env       execenv.ExecutionEnvironment
	factory   *agentfamily.Factory
	eventBus  bus.EventBus
	collector *collector.Collector
	creds     *credentials.Manager
	logger    *logger.Logger

	stopCleanup chan struct{}
}

// New builds an agent manager. collector may be nil if raw-event buffering
// is not needed (e.g. in unit tests). creds may be nil, in which case Send
// spawns every adapter without checking its RequiredEnv first.
func New(env execenv.ExecutionEnvironment, factory *agentfamily.Factory, eventBus bus.EventBus, coll *collector.Collector, creds *credentials.Manager, log *logger.Logger) *Manager {
	return &Manager{
		handles:     make(map[string]*handle),
		env:         env,
		factory:     factory,
		eventBus:    eventBus,
		collector:   coll,
		creds:       creds,
		logger:      log.WithFields(zap.String("component", "agentmanager")),
		stopCleanup: make(chan struct{}),
	}
}

// StartCleanupLoop runs a periodic sweep that reaps cached handles whose
// process has exited without a synthesized turn.completed (defensive
// against a missed exit-handler race), logging and evicting them. Grounded
// on internal/agent/lifecycle.Manager's cleanupLoop/performCleanup pair.
func (m *Manager) StartCleanupLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCleanup:
				return
			case <-ticker.C:
				m.performCleanup(ctx)
			}
		}
	}()
}

// StopCleanupLoop stops the periodic sweep started by StartCleanupLoop.
func (m *Manager) StopCleanupLoop() {
	close(m.stopCleanup)
}

// performCleanup probes every cached handle's live process concurrently
// (via errgroup, each probe a non-blocking Process.Alive call) and evicts
// any whose process has exited while still marked live.
func (m *Manager) performCleanup(ctx context.Context) {
	m.mu.RLock()
	handles := make(map[string]*handle, len(m.handles))
	for id, h := range m.handles {
		handles[id] = h
	}
	m.mu.RUnlock()

	var g errgroup.Group
	var staleMu sync.Mutex
	var stale []string

	for memberID, h := range handles {
		memberID, h := memberID, h
		g.Go(func() error {
			h.mu.Lock()
			proc := h.process
			h.mu.Unlock()
			if proc == nil || proc.Alive() {
				return nil
			}
			staleMu.Lock()
			stale = append(stale, memberID)
			staleMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, memberID := range stale {
		m.logger.Warn("reaping stale agent handle", zap.String("member_id", memberID))
		_ = m.Stop(ctx, memberID)
	}
}

// EnsureStarted creates and caches the adapter for memberId if absent. All
// three built-in families are stateless (each send spawns a fresh
// process), so no process is spawned here.
func (m *Manager) EnsureStarted(member *model.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handles[member.ID]; ok {
		return nil
	}

	adapter, err := m.factory.Create(member.AgentType)
	if err != nil {
		return err
	}

	m.handles[member.ID] = &handle{member: member, adapter: adapter}
	return nil
}

func (m *Manager) getHandle(memberID string) (*handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.handles[memberID]
	if !ok {
		return nil, fmt.Errorf("agentmanager: no running agent for member %q", memberID)
	}
	return h, nil
}

// Send dispatches one prompt to memberID's adapter, streaming its events on
// the bus and the collector, and resolves once exactly one turn.completed
// has been observed or synthesized.
func (m *Manager) Send(ctx context.Context, memberID string, opts SendOptions) (SendResult, error) {
	h, err := m.getHandle(memberID)
	if err != nil {
		return SendResult{}, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	h.mu.Lock()
	h.cancelled = false
	adapter := h.adapter
	member := h.member
	h.mu.Unlock()

	argv := buildArgv(adapter, member, opts)
	env := mergeEnv(opts.ConfigEnv, member.EnvOverrides)

	if m.creds != nil {
		if required := adapter.RequiredEnv(); len(required) > 0 {
			credEnv, missing, err := m.creds.ResolveEnv(ctx, required)
			if err != nil {
				return SendResult{}, apperrors.AuthMissing(adapter.AgentType(), missing)
			}
			env = append(env, credEnv...)
		}
	}

	proc, err := m.env.Start(ctx, execenv.Spec{
		Binary: adapter.Binary(),
		Args:   argv,
		Env:    env,
		Dir:    opts.WorkspacePath,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("agentmanager: spawn %s: %w", adapter.AgentType(), err)
	}

	h.mu.Lock()
	h.process = proc
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.process = nil
		h.mu.Unlock()
	}()

	return m.drive(ctx, memberID, h, adapter, proc, timeout)
}

// drive reads proc's stdout through a fresh parser until turn.completed,
// timeout, cancellation, or process exit, publishing every event along the
// way. Exactly one turn.completed is guaranteed: the parser's own, or one
// of the three synthesized terminal events below.
func (m *Manager) drive(ctx context.Context, memberID string, h *handle, adapter agentfamily.Adapter, proc execenv.Process, timeout time.Duration) (SendResult, error) {
	parser := adapter.NewParser()

	eventsCh := make(chan model.AgentEvent, 32)
	readErrCh := make(chan error, 1)
	go func() {
		defer close(eventsCh)
		buf := make([]byte, 8192)
		for {
			n, err := proc.Stdout().Read(buf)
			if n > 0 {
				events, perr := parser.ParseChunk(buf[:n])
				if perr != nil {
					m.logger.Warn("stream parse error", zap.String("member_id", memberID), zap.Error(perr))
				}
				for _, e := range events {
					eventsCh <- e
				}
			}
			if err != nil {
				for _, e := range parser.Flush() {
					eventsCh <- e
				}
				readErrCh <- err
				return
			}
		}
	}()

	exitCh := make(chan struct{})
	var exitCode int
	go func() {
		exitCode, _ = proc.Wait()
		close(exitCh)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var accumulated strings.Builder
	var sawTurnCompleted bool
	var exited bool

	// synthesizeExit fires the exit-driven terminal event. Only called once
	// the event stream has fully drained (eventsCh == nil), so a
	// genuine turn.completed sitting in the channel buffer is always
	// observed first rather than racing the process-exit notification.
	synthesizeExit := func() (SendResult, error) {
		h.mu.Lock()
		cancelled := h.cancelled
		h.mu.Unlock()

		reason := "done"
		success := exitCode == 0
		if cancelled {
			reason, success = "cancelled", false
		} else if exitCode != 0 {
			reason, success = "error", false
		}
		m.publish(ctx, memberID, model.AgentEvent{
			MemberID: memberID, Kind: model.EventTurnCompleted,
			Done: true, FinishReason: reason,
		})
		return SendResult{Success: success, FinishReason: reason, AccumulatedText: accumulated.String()}, nil
	}

	for {
		select {
		case event, ok := <-eventsCh:
			if !ok {
				eventsCh = nil
				if exited && !sawTurnCompleted {
					return synthesizeExit()
				}
				continue
			}
			event.MemberID = memberID
			m.publish(ctx, memberID, event)

			switch event.Kind {
			case model.EventText:
				if event.TextCategory != model.TextCategoryAssistantMessage && event.TextCategory != model.TextCategoryReasoning {
					accumulated.WriteString(event.Text)
				}
			case model.EventTurnCompleted:
				sawTurnCompleted = true
				reason := event.FinishReason
				if reason == "" {
					reason = "done"
				}
				return SendResult{Success: reason == "done", FinishReason: reason, AccumulatedText: accumulated.String()}, nil
			}

		case <-exitCh:
			exited = true
			if eventsCh == nil && !sawTurnCompleted {
				return synthesizeExit()
			}

		case <-timer.C:
			if exited || sawTurnCompleted {
				continue
			}
			_ = proc.Stop(ctx, killGrace)
			m.publish(ctx, memberID, model.AgentEvent{
				MemberID: memberID, Kind: model.EventTurnCompleted,
				Done: true, FinishReason: "timeout",
			})
			return SendResult{Success: false, FinishReason: "timeout", AccumulatedText: accumulated.String()}, nil

		case <-readErrCh:
			// stdout closed; wait for the process exit branch to resolve.
		}
	}
}

func (m *Manager) publish(ctx context.Context, memberID string, event model.AgentEvent) {
	if m.collector != nil {
		m.collector.Ingest(event)
	}
	if m.eventBus != nil {
		if err := m.eventBus.Publish(ctx, bus.Subject(memberID), event); err != nil {
			m.logger.Error("failed to publish event", zap.String("member_id", memberID), zap.Error(err))
		}
	}
}

// Cancel sets memberID's cancellation flag and terminates its live process.
// The in-flight Send observes the exit and synthesizes
// turn.completed{cancelled}. Calling Cancel on a member with no live
// process is a no-op, making cancellation idempotent.
func (m *Manager) Cancel(ctx context.Context, memberID string) error {
	h, err := m.getHandle(memberID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.cancelled = true
	proc := h.process
	h.mu.Unlock()

	if proc == nil {
		return nil
	}
	return proc.Stop(ctx, killGrace)
}

// Stop evicts memberID from the cache and stops its live process, if any,
// with the same SIGTERM-then-SIGKILL grace period as Cancel.
func (m *Manager) Stop(ctx context.Context, memberID string) error {
	m.mu.Lock()
	h, ok := m.handles[memberID]
	if ok {
		delete(m.handles, memberID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	h.mu.Lock()
	proc := h.process
	h.mu.Unlock()

	if proc != nil {
		return proc.Stop(ctx, killGrace)
	}
	return nil
}

// Cleanup terminates every tracked member and clears the cache, used on
// conversation stop/shutdown.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*handle)
	m.mu.Unlock()

	for memberID, h := range handles {
		h.mu.Lock()
		proc := h.process
		h.mu.Unlock()
		if proc != nil {
			if err := proc.Stop(ctx, killGrace); err != nil {
				m.logger.Warn("error stopping member during cleanup", zap.String("member_id", memberID), zap.Error(err))
			}
		}
	}
}

func mergeEnv(configEnv, memberEnv map[string]string) []string {
	merged := make(map[string]string, len(configEnv)+len(memberEnv))
	for k, v := range configEnv {
		merged[k] = v
	}
	for k, v := range memberEnv {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// buildArgv constructs the final argv for one send: the adapter's base
// args, then family-specific enforced flags (added only when not already
// present so a member's ExtraArgs can't silently conflict), then the
// prompt as the final positional argument.
func buildArgv(adapter agentfamily.Adapter, member *model.Member, opts SendOptions) []string {
	args := adapter.BuildArgs(member, opts.WorkspacePath)
	args = append(args, opts.ConfigArgs...)

	switch adapter.AgentType() {
	case "claude":
		args = ensureFlagValue(args, "--permission-mode", "bypassPermissions")
		args = ensureFlagValue(args, "--output-format", "stream-json")
		if opts.SystemFlag != "" {
			args = ensureFlagValue(args, "--append-system-prompt", opts.SystemFlag)
		}
		args = append(args, "-p", opts.Prompt)

	case "codex":
		args = ensureFlagPresent(args, "--dangerously-bypass-approvals-and-sandbox")
		args = append(args, opts.Prompt)

	case "gemini":
		args = ensureFlagPresent(args, "--yolo")
		args = ensureFlagValue(args, "--output-format", "stream-json")
		args = append(args, opts.Prompt)

	default:
		args = append(args, opts.Prompt)
	}

	return args
}

func ensureFlagValue(args []string, flag, value string) []string {
	for _, a := range args {
		if a == flag {
			return args
		}
	}
	return append(args, flag, value)
}

func ensureFlagPresent(args []string, flag string) []string {
	for _, a := range args {
		if a == flag {
			return args
		}
	}
	return append(args, flag)
}
