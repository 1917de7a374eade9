// Package supervisor launches the auxiliary backend processes in order and
// tracks each one through NotStarted, Starting, Ready and Failed.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/companion/internal/metrics"
)

var (
	ErrNoCandidate    = errors.New("no executable candidate resolved")
	ErrSpawn          = errors.New("spawn failed")
	ErrStartupTimeout = errors.New("startup timed out")
	ErrExited         = errors.New("process exited before becoming ready")
)

type State int

const (
	NotStarted State = iota
	Starting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ReadyFunc reports nil once the service answers.
type ReadyFunc func(ctx context.Context) error

type ServiceSpec struct {
	Name        string
	Candidates  []string
	VersionArgs []string
	Args        []string
	Dir         string
	Env         []string
	// Ready is polled with backoff after spawn. Without it the supervisor
	// waits SettleDelay and assumes the service is up.
	Ready       ReadyFunc
	SettleDelay time.Duration
}

type ServiceStatus struct {
	Name  string
	State State
	PID   int
	Err   error
	Since time.Time
}

const (
	defaultInitialInterval = 250 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
	defaultStartupTimeout  = time.Minute
)

type Supervisor struct {
	specs    []ServiceSpec
	launcher Launcher
	resolver Resolver
	log      zerolog.Logger
	metrics  *metrics.Metrics

	initialInterval time.Duration
	maxInterval     time.Duration
	timeout         time.Duration

	// running is a one-way latch covering the whole start sequence.
	running atomic.Bool
	startMu sync.Mutex
	// failure is sticky: a failed sequence is not re-run.
	failure error

	mu     sync.RWMutex
	status map[string]*ServiceStatus
	procs  []Process
	// live maps a service to its most recent process.
	live map[string]Process
}

type Option func(*Supervisor)

func WithLauncher(l Launcher) Option { return func(s *Supervisor) { s.launcher = l } }
func WithResolver(r Resolver) Option { return func(s *Supervisor) { s.resolver = r } }
func WithLogger(l zerolog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}
func WithMetrics(m *metrics.Metrics) Option { return func(s *Supervisor) { s.metrics = m } }

// WithBackoff bounds readiness polling: the first retry interval, the cap on
// the interval, and the total time allowed per service.
func WithBackoff(initial, max, timeout time.Duration) Option {
	return func(s *Supervisor) {
		if initial > 0 {
			s.initialInterval = initial
		}
		if max > 0 {
			s.maxInterval = max
		}
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// New creates a supervisor for specs, started in the given order.
func New(specs []ServiceSpec, opts ...Option) *Supervisor {
	s := &Supervisor{
		specs:           specs,
		launcher:        ExecLauncher{},
		resolver:        ExecResolver{},
		log:             zerolog.Nop(),
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		timeout:         defaultStartupTimeout,
		status:          make(map[string]*ServiceStatus, len(specs)),
		live:            make(map[string]Process, len(specs)),
	}
	for _, opt := range opts {
		opt(s)
	}
	now := time.Now()
	for _, spec := range specs {
		s.status[spec.Name] = &ServiceStatus{Name: spec.Name, State: NotStarted, Since: now}
	}
	return s
}

// Running reports whether the full start sequence has completed.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// StartAll spawns every service in order, waiting for each to become ready
// before the next. It returns immediately once the sequence has completed,
// and concurrent callers share a single sequence.
func (s *Supervisor) StartAll(ctx context.Context) error {
	if s.running.Load() {
		return nil
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.running.Load() {
		return nil
	}
	if s.failure != nil {
		return s.failure
	}

	for _, spec := range s.specs {
		if err := s.start(ctx, spec); err != nil {
			if ctx.Err() == nil {
				s.failure = err
			}
			return err
		}
	}

	s.running.Store(true)
	s.log.Info().Int("services", len(s.specs)).Msg("all services ready")
	return nil
}

// StartAllAsync runs StartAll in the background. The channel yields its
// result once and is then closed.
func (s *Supervisor) StartAllAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- s.StartAll(ctx)
	}()
	return ch
}

func (s *Supervisor) start(ctx context.Context, spec ServiceSpec) error {
	log := s.log.With().Str("backend", spec.Name).Logger()

	// A sequence interrupted by its context leaves processes running; the
	// next sequence adopts them instead of spawning duplicates.
	proc := s.liveProcess(spec.Name)
	if proc != nil && s.State(spec.Name) == Ready {
		log.Debug().Int("pid", proc.PID()).Msg("service already ready")
		return nil
	}

	if proc == nil {
		s.setState(spec.Name, Starting, 0, nil)

		program, err := s.resolver.Resolve(ctx, spec.Candidates, spec.VersionArgs)
		if err != nil {
			err = fmt.Errorf("%s: %w", spec.Name, err)
			s.setState(spec.Name, Failed, 0, err)
			log.Error().Err(err).Strs("candidates", spec.Candidates).Msg("cannot resolve program")
			return err
		}

		proc, err = s.launcher.Launch(program, spec)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrSpawn, spec.Name, err)
			s.setState(spec.Name, Failed, 0, err)
			log.Error().Err(err).Str("program", program).Msg("spawn failed")
			return err
		}

		s.mu.Lock()
		s.procs = append(s.procs, proc)
		s.live[spec.Name] = proc
		s.mu.Unlock()
		log.Info().Str("program", program).Int("pid", proc.PID()).Msg("service spawned")
	} else {
		log.Info().Int("pid", proc.PID()).Msg("resuming readiness wait")
	}
	s.setState(spec.Name, Starting, proc.PID(), nil)

	if err := s.waitReady(ctx, spec, proc); err != nil {
		err = fmt.Errorf("%s: %w", spec.Name, err)
		s.setState(spec.Name, Failed, proc.PID(), err)
		log.Error().Err(err).Msg("service not ready")
		return err
	}

	s.setState(spec.Name, Ready, proc.PID(), nil)
	log.Info().Msg("service ready")
	return nil
}

// liveProcess returns the service's process if it has not exited.
func (s *Supervisor) liveProcess(name string) Process {
	s.mu.RLock()
	p := s.live[name]
	s.mu.RUnlock()
	if p == nil {
		return nil
	}
	select {
	case <-p.Done():
		return nil
	default:
		return p
	}
}

func (s *Supervisor) waitReady(ctx context.Context, spec ServiceSpec, proc Process) error {
	if spec.Ready == nil {
		if spec.SettleDelay <= 0 {
			return nil
		}
		timer := time.NewTimer(spec.SettleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-proc.Done():
			return fmt.Errorf("%w: %v", ErrExited, proc.Err())
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	b.MaxInterval = s.maxInterval

	var lastErr error
	_, err := backoff.Retry(waitCtx, func() (struct{}, error) {
		select {
		case <-proc.Done():
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %v", ErrExited, proc.Err()))
		default:
		}
		lastErr = spec.Ready(waitCtx)
		return struct{}{}, lastErr
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Debug().Str("backend", spec.Name).Err(err).Dur("retry_in", next).Msg("waiting for readiness")
		}),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrExited):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("%w after %s: %w", ErrStartupTimeout, s.timeout, lastErr)
	}
}

func (s *Supervisor) setState(name string, state State, pid int, err error) {
	s.mu.Lock()
	st, ok := s.status[name]
	if !ok {
		st = &ServiceStatus{Name: name}
		s.status[name] = st
	}
	st.State = state
	st.PID = pid
	st.Err = err
	st.Since = time.Now()
	s.mu.Unlock()

	s.metrics.SetServiceState(name, int(state))
}

// States returns a snapshot of every service, in start order.
func (s *Supervisor) States() []ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(s.specs))
	for _, spec := range s.specs {
		out = append(out, *s.status[spec.Name])
	}
	return out
}

// State returns the state of one service; unknown names are NotStarted.
func (s *Supervisor) State(name string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.status[name]; ok {
		return st.State
	}
	return NotStarted
}

// Stop interrupts spawned processes in reverse start order and kills any
// that are still alive when ctx is done.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	procs := make([]Process, len(s.procs))
	copy(procs, s.procs)
	s.mu.Unlock()

	var firstErr error
	for i := len(procs) - 1; i >= 0; i-- {
		p := procs[i]
		select {
		case <-p.Done():
			continue
		default:
		}

		if err := p.Signal(os.Interrupt); err != nil {
			if kerr := p.Kill(); kerr != nil && firstErr == nil {
				firstErr = kerr
			}
		}
		select {
		case <-p.Done():
		case <-ctx.Done():
			if err := p.Kill(); err != nil && firstErr == nil {
				firstErr = err
			}
			<-p.Done()
		}
		s.log.Info().Int("pid", p.PID()).Msg("service stopped")
	}
	return firstErr
}
