// Package agent owns the lifecycle of agent subprocesses: spawn, handshake,
// health probing, crash restarts with bounded backoff, and the stdio channel
// each running agent exposes to the dispatcher.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/jcarver/tower/internal/config"
	"github.com/jcarver/tower/internal/log"
	"github.com/jcarver/tower/internal/protocol"
	"github.com/jcarver/tower/internal/registry"
)

// Health states an agent moves through. Restarting covers the window where
// the process is dead and its next start attempt is pending or backing off.
// Degraded is terminal until an explicit Reset.
const (
	HealthStarting   = "starting"
	HealthReady      = "ready"
	HealthRestarting = "restarting"
	HealthDegraded   = "degraded"
)

// ErrUnknownAgent is returned for operations against an agent name that was
// never registered.
var ErrUnknownAgent = errors.New("agent not registered")

// ErrAgentUnavailable is returned when an agent exists but is not Ready.
var ErrAgentUnavailable = errors.New("agent not ready")

// ErrHandshakeTimeout is returned when an agent fails to complete the
// initialize exchange within its handshake window.
var ErrHandshakeTimeout = errors.New("agent handshake timed out")

// healthPingTimeout bounds a single liveness probe.
const healthPingTimeout = 5 * time.Second

// stopGrace is how long Shutdown waits after SIGTERM before SIGKILL.
const stopGrace = 3 * time.Second

// minHealthyUptime is how long a process must stay up before its next crash
// gets a fresh restart budget. Below this, crashes after a successful
// handshake still count against the same bounded attempt budget.
const minHealthyUptime = 30 * time.Second

// Notifier receives supervisor lifecycle events.
type Notifier interface {
	AgentHealthChanged(agent, health string, numeric float64)
	AgentRestartScheduled(agent string, attempt int, delay time.Duration)
}

// Descriptor is a point-in-time view of one supervised agent.
type Descriptor struct {
	Name      string    `json:"name"`
	Health    string    `json:"health"`
	PID       int       `json:"pid,omitempty"`
	Tools     []string  `json:"tools,omitempty"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Supervisor launches and babysits every configured agent process.
type Supervisor struct {
	registry *registry.Registry
	notify   Notifier
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	agents map[string]*managedAgent
}

type managedAgent struct {
	cfg    config.AgentConfig
	logger *slog.Logger

	mu        sync.Mutex
	health    string
	channel   *Channel
	cmd       *exec.Cmd
	exited    chan error
	restarts  int
	startedAt time.Time
	lastErr   error
}

// NewSupervisor builds a supervisor bound to a capability registry. The
// notifier may be nil.
func NewSupervisor(ctx context.Context, reg *registry.Registry, notify Notifier) *Supervisor {
	sctx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		registry: reg,
		notify:   notify,
		logger:   log.WithComponent("supervisor"),
		ctx:      sctx,
		cancel:   cancel,
		agents:   make(map[string]*managedAgent),
	}
}

// Register adds an agent under supervision and begins its start loop. The
// initial start is subject to the same attempt budget as crash restarts.
func (s *Supervisor) Register(cfg config.AgentConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("agent name is empty")
	}

	s.mu.Lock()
	if _, exists := s.agents[cfg.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("agent %q already registered", cfg.Name)
	}
	ma := &managedAgent{
		cfg:    cfg,
		logger: log.WithAgent(cfg.Name),
		health: HealthStarting,
	}
	s.agents[cfg.Name] = ma
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(ma)
	}()
	return nil
}

// runLoop keeps one agent alive. Each supervise cycle holds one bounded
// attempt budget covering start failures and crashes alike; the budget
// re-arms only after the process stays up for minHealthyUptime, so an agent
// that handshakes and then dies still exhausts it. Exhausting the budget
// parks the agent in Degraded.
func (s *Supervisor) runLoop(ma *managedAgent) {
	for {
		if s.ctx.Err() != nil {
			return
		}

		err := s.superviseCycle(ma)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			ma.mu.Lock()
			ma.lastErr = err
			ma.mu.Unlock()
			s.setHealth(ma, HealthDegraded)
			s.registry.Unregister(ma.cfg.Name)
			ma.logger.Error("agent degraded, giving up", "error", err)
			return
		}

		// The last run was healthy before it died. Pause one base delay so
		// even a long-lived agent cannot respawn in a tight loop.
		select {
		case <-time.After(ma.cfg.Restart.BackoffBase):
		case <-s.ctx.Done():
			return
		}
	}
}

// superviseCycle runs up to MaxAttempts start-and-serve rounds with
// exponential backoff between them. A round that stays up for
// minHealthyUptime before dying ends the cycle with nil so the caller starts
// a fresh one; every other failure burns an attempt.
func (s *Supervisor) superviseCycle(ma *managedAgent) error {
	rcfg := ma.cfg.Restart
	attempt := 0

	r := retry.New(
		retry.Context(s.ctx),
		retry.Attempts(uint(rcfg.MaxAttempts)),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, _ retry.DelayContext) time.Duration {
			delay := backoffDelay(rcfg.BackoffBase, rcfg.BackoffCap, n)
			attempt = int(n) + 2
			if s.notify != nil {
				s.notify.AgentRestartScheduled(ma.cfg.Name, attempt, delay)
			}
			ma.logger.Warn("agent attempt failed, backing off",
				"attempt", n+1, "delay", delay, "error", err)
			return delay
		}),
	)

	return r.Do(func() error {
		if err := s.startOnce(ma); err != nil {
			ma.mu.Lock()
			ma.lastErr = err
			ma.mu.Unlock()
			return err
		}

		exitErr := s.serve(ma)
		if exitErr == nil {
			// Supervisor shutdown; Shutdown owns process teardown.
			return nil
		}

		// The process is gone and its exit channel is drained; clear the
		// handles so Shutdown does not wait on a corpse.
		ma.mu.Lock()
		uptime := time.Since(ma.startedAt)
		ma.channel = nil
		ma.cmd = nil
		ma.exited = nil
		ma.lastErr = exitErr
		ma.restarts++
		ma.mu.Unlock()

		if s.ctx.Err() != nil {
			return nil
		}
		s.setHealth(ma, HealthRestarting)

		if uptime >= minHealthyUptime {
			ma.logger.Warn("agent exited after healthy run, restarting",
				"uptime", uptime, "error", exitErr)
			return nil
		}
		ma.logger.Warn("agent exited early", "uptime", uptime, "error", exitErr)
		return exitErr
	})
}

// backoffDelay doubles the base per prior failure, capped. n is zero-based.
func backoffDelay(base, cap time.Duration, n uint) time.Duration {
	delay := base << n
	if delay > cap || delay <= 0 {
		return cap
	}
	return delay
}

// startOnce spawns the process and performs the initialize handshake. Any
// failure tears the process down before returning.
func (s *Supervisor) startOnce(ma *managedAgent) error {
	cfg := ma.cfg
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(cmd.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent %s: %w", cfg.Name, err)
	}
	go forwardStderr(ma.logger, stderr)

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	ch := NewChannel(cfg.Name, stdin, stdout)

	hctx, cancel := context.WithTimeout(s.ctx, cfg.Timeouts.Handshake)
	defer cancel()

	init, err := s.handshake(hctx, ch)
	if err != nil {
		ch.Close()
		_ = cmd.Process.Kill()
		<-exited
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: agent %s after %s", ErrHandshakeTimeout, cfg.Name, cfg.Timeouts.Handshake)
		}
		return err
	}

	if err := s.registry.Register(cfg.Name, init.Tools); err != nil {
		ch.Close()
		_ = cmd.Process.Kill()
		<-exited
		return fmt.Errorf("register capabilities: %w", err)
	}

	ma.mu.Lock()
	ma.channel = ch
	ma.cmd = cmd
	ma.exited = exited
	ma.startedAt = time.Now().UTC()
	ma.lastErr = nil
	ma.mu.Unlock()

	s.setHealth(ma, HealthReady)
	ma.logger.Info("agent ready",
		"pid", cmd.Process.Pid, "tools", len(init.Tools), "version", init.Version)
	return nil
}

func (s *Supervisor) handshake(ctx context.Context, ch *Channel) (*protocol.InitializeResult, error) {
	resp, err := ch.Call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ClientName:    "tower",
		ClientVersion: "1.0",
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("initialize rejected: %s", resp.Error.Message)
	}

	var init protocol.InitializeResult
	if err := protocol.Unmarshal(resp.Result, &init); err != nil {
		return nil, fmt.Errorf("initialize result: %w", err)
	}
	if len(init.Tools) == 0 {
		return nil, fmt.Errorf("agent declared no tools")
	}
	return &init, nil
}

// serve probes the running agent until it exits or the supervisor stops.
// A failed probe kills the process so the exit path handles the restart.
func (s *Supervisor) serve(ma *managedAgent) error {
	ma.mu.Lock()
	ch, cmd, exited := ma.channel, ma.cmd, ma.exited
	interval := ma.cfg.Timeouts.HealthInterval
	ma.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-exited:
			ch.Close()
			return exitError(err)

		case <-s.ctx.Done():
			return nil

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(s.ctx, healthPingTimeout)
			resp, err := ch.Call(pctx, protocol.MethodPing, nil)
			cancel()
			if err == nil && resp.Error == nil {
				continue
			}
			if s.ctx.Err() != nil {
				return nil
			}
			ma.logger.Warn("health probe failed, killing agent", "error", err)
			_ = cmd.Process.Kill()
			ch.Close()
			return exitError(<-exited)
		}
	}
}

func exitError(err error) error {
	if err == nil {
		return errors.New("agent process exited")
	}
	return fmt.Errorf("agent process exited: %w", err)
}

// AcquireChannel returns the live channel for a Ready agent.
func (s *Supervisor) AcquireChannel(name string) (*Channel, error) {
	ma, err := s.lookup(name)
	if err != nil {
		return nil, err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()
	if ma.health != HealthReady || ma.channel == nil {
		return nil, fmt.Errorf("%w: agent %s is %s", ErrAgentUnavailable, name, ma.health)
	}
	return ma.channel, nil
}

// CallTimeout returns the per-call timeout configured for an agent.
func (s *Supervisor) CallTimeout(name string) (time.Duration, error) {
	ma, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	return ma.cfg.Timeouts.Call, nil
}

// Reset manually revives a Degraded agent with a fresh attempt budget. For a
// running agent it forces a restart instead.
func (s *Supervisor) Reset(name string) error {
	ma, err := s.lookup(name)
	if err != nil {
		return err
	}

	ma.mu.Lock()
	health := ma.health
	cmd := ma.cmd
	ma.mu.Unlock()

	if health == HealthDegraded {
		s.setHealth(ma, HealthStarting)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runLoop(ma)
		}()
		return nil
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return nil
}

// Snapshot lists every supervised agent, sorted by name.
func (s *Supervisor) Snapshot() []Descriptor {
	s.mu.Lock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	list := make([]*managedAgent, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		list = append(list, s.agents[name])
	}
	s.mu.Unlock()

	out := make([]Descriptor, 0, len(list))
	for _, ma := range list {
		ma.mu.Lock()
		d := Descriptor{
			Name:      ma.cfg.Name,
			Health:    ma.health,
			Restarts:  ma.restarts,
			StartedAt: ma.startedAt,
		}
		if ma.cmd != nil && ma.cmd.Process != nil && ma.health == HealthReady {
			d.PID = ma.cmd.Process.Pid
		}
		if ma.lastErr != nil {
			d.LastError = ma.lastErr.Error()
		}
		ma.mu.Unlock()
		d.Tools = s.registry.ToolsFor(d.Name)
		out = append(out, d)
	}
	return out
}

// Shutdown stops all agents: SIGTERM, a grace window, then SIGKILL.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.cancel()

	s.mu.Lock()
	list := make([]*managedAgent, 0, len(s.agents))
	for _, ma := range s.agents {
		list = append(list, ma)
	}
	s.mu.Unlock()

	for _, ma := range list {
		ma.mu.Lock()
		ch, cmd, exited := ma.channel, ma.cmd, ma.exited
		ma.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		if cmd == nil || cmd.Process == nil {
			continue
		}
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-exited:
		case <-time.After(stopGrace):
			_ = cmd.Process.Kill()
			// The wait stays bounded: the exit channel may already be
			// drained if the process died before shutdown began.
			select {
			case <-exited:
			case <-ctx.Done():
			case <-time.After(stopGrace):
			}
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		}
		ma.logger.Info("agent stopped")
	}

	s.wg.Wait()
}

func (s *Supervisor) lookup(name string) (*managedAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ma, ok := s.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return ma, nil
}

func (s *Supervisor) setHealth(ma *managedAgent, health string) {
	ma.mu.Lock()
	ma.health = health
	ma.mu.Unlock()
	if s.notify != nil {
		s.notify.AgentHealthChanged(ma.cfg.Name, health, healthGauge(health))
	}
}

func healthGauge(health string) float64 {
	switch health {
	case HealthReady:
		return 1
	case HealthStarting, HealthRestarting:
		return 0.5
	default:
		return 0
	}
}

// forwardStderr relays agent diagnostics into our log at debug level.
func forwardStderr(logger *slog.Logger, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			logger.Debug("agent stderr", "line", line)
		}
	}
}
