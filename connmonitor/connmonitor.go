package connmonitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bartossh/Courier/logger"
	"github.com/bartossh/Courier/reactive"
	"github.com/bartossh/Courier/telemetry"
)

const (
	metricState    = "courier_connection_state"
	metricFailures = "courier_connection_consecutive_failures"
)

const transitionsBuffer = 16

// State is the derived connectivity state.
type State int

const (
	Unknown State = iota
	Online
	Offline
	NodeUnreachable
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	case NodeUnreachable:
		return "node_unreachable"
	default:
		return "unknown"
	}
}

// MarshalText encodes state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes state from its name, unknown names decode as Unknown.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "online":
		*s = Online
	case "offline":
		*s = Offline
	case "node_unreachable":
		*s = NodeUnreachable
	default:
		*s = Unknown
	}
	return nil
}

// Status is a snapshot of the last connectivity check.
type Status struct {
	State                 State     `json:"state"`
	InternetAvailable     bool      `json:"internet_available"`
	NodeReachable         bool      `json:"node_reachable"`
	ConsecutiveFailures   int       `json:"consecutive_failures"`
	LastCheckTime         time.Time `json:"last_check_time"`
	LastOnlineTime        time.Time `json:"last_online_time"`
	LastNodeReachableTime time.Time `json:"last_node_reachable_time"`
	ErrorMessage          string    `json:"error_message"`
}

// Transition is published every time the state changes.
type Transition struct {
	Old    State  `json:"old"`
	New    State  `json:"new"`
	Status Status `json:"status"`
}

// StateChangeFunc is called once per state transition.
type StateChangeFunc func(old, new State, status Status)

// Config is the connection monitor configuration.
// FailureThreshold and RecoveryThreshold are carried for callers debouncing the reported state,
// the monitor itself always reports the result of the most recent check.
type Config struct {
	CheckInterval        time.Duration `yaml:"check_interval"`
	InternetCheckHosts   []string      `yaml:"internet_check_hosts"`
	InternetCheckPort    int           `yaml:"internet_check_port"`
	InternetCheckTimeout time.Duration `yaml:"internet_check_timeout"`
	NodeCheckTimeout     time.Duration `yaml:"node_check_timeout"`
	FailureThreshold     int           `yaml:"failure_threshold"`
	RecoveryThreshold    int           `yaml:"recovery_threshold"`
	StopTimeout          time.Duration `yaml:"stop_timeout"`
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:        30 * time.Second,
		InternetCheckHosts:   []string{"8.8.8.8", "1.1.1.1"},
		InternetCheckPort:    53,
		InternetCheckTimeout: 3 * time.Second,
		NodeCheckTimeout:     5 * time.Second,
		FailureThreshold:     3,
		RecoveryThreshold:    1,
		StopTimeout:          2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if len(c.InternetCheckHosts) == 0 {
		c.InternetCheckHosts = d.InternetCheckHosts
	}
	if c.InternetCheckPort <= 0 {
		c.InternetCheckPort = d.InternetCheckPort
	}
	if c.InternetCheckTimeout <= 0 {
		c.InternetCheckTimeout = d.InternetCheckTimeout
	}
	if c.NodeCheckTimeout <= 0 {
		c.NodeCheckTimeout = d.NodeCheckTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = d.RecoveryThreshold
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	return c
}

// Prober checks internet and node availability.
type Prober interface {
	InternetAvailable(ctx context.Context) bool
	NodeReachable(ctx context.Context, nodeURL string) (bool, string)
}

// Option configures the Monitor.
type Option func(*Monitor)

// WithProber replaces the network prober.
func WithProber(p Prober) Option {
	return func(m *Monitor) { m.prober = p }
}

// WithMeasurements exports the state and consecutive failures as gauges.
func WithMeasurements(ms *telemetry.Measurements) Option {
	return func(m *Monitor) { m.ms = ms }
}

// OnStateChange sets the callback invoked once per transition.
func OnStateChange(f StateChangeFunc) Option {
	return func(m *Monitor) { m.onChange = f }
}

// Monitor periodically checks internet and node connectivity and notifies about state transitions.
type Monitor struct {
	mux      sync.Mutex
	cfg      Config
	nodeURL  string
	status   Status
	prober   Prober
	onChange StateChangeFunc
	obs      *reactive.Observable[Transition]
	ms       *telemetry.Measurements
	log      logger.Logger

	runMux  sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a new Monitor for the node URL. It does not start the background loop.
func New(nodeURL string, cfg Config, log logger.Logger, opts ...Option) *Monitor {
	cfg = cfg.withDefaults()
	m := &Monitor{
		cfg:     cfg,
		nodeURL: strings.TrimRight(nodeURL, "/"),
		obs:     reactive.New[Transition](transitionsBuffer),
		log:     log,
	}
	for _, o := range opts {
		o(m)
	}
	if m.prober == nil {
		m.prober = NewNetProber(cfg, log)
	}
	m.ms.CreateObservableGauge(metricState, "Connection state, 0 unknown, 1 online, 2 offline, 3 node unreachable.")
	m.ms.CreateObservableGauge(metricFailures, "Number of consecutive failed connectivity checks.")
	return m
}

// Config returns the monitor configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

// NodeURL returns the monitored node URL.
func (m *Monitor) NodeURL() string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.nodeURL
}

// Subscribe returns subscriber receiving state transitions.
func (m *Monitor) Subscribe() *reactive.Subscriber[Transition] {
	return m.obs.Subscribe()
}

// Status returns a snapshot of the current status.
func (m *Monitor) Status() Status {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.status
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.status.State
}

// IsOnline reports whether internet was available at the last check.
func (m *Monitor) IsOnline() bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.status.InternetAvailable
}

// IsNodeReachable reports whether the node was healthy at the last check.
func (m *Monitor) IsNodeReachable() bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.status.NodeReachable
}

// CheckConnection runs a single check, updates the status and notifies about a transition.
func (m *Monitor) CheckConnection(ctx context.Context) Status {
	m.mux.Lock()
	nodeURL := m.nodeURL
	m.mux.Unlock()

	internetOK := m.prober.InternetAvailable(ctx)
	var nodeOK bool
	var errMsg string
	if internetOK {
		nodeOK, errMsg = m.prober.NodeReachable(ctx, nodeURL)
	} else {
		errMsg = "No internet connection"
	}

	now := time.Now()
	m.mux.Lock()
	if m.nodeURL != nodeURL {
		// node changed while probing, the result belongs to the old node
		snapshot := m.status
		m.mux.Unlock()
		return snapshot
	}
	old := m.status.State
	m.status.InternetAvailable = internetOK
	m.status.NodeReachable = nodeOK
	m.status.LastCheckTime = now
	m.status.ErrorMessage = errMsg
	if internetOK {
		m.status.LastOnlineTime = now
	}
	if nodeOK {
		m.status.LastNodeReachableTime = now
	}
	m.status.State = deriveState(internetOK, nodeOK)
	if m.status.State == Online {
		m.status.ConsecutiveFailures = 0
	} else {
		m.status.ConsecutiveFailures++
	}
	snapshot := m.status
	m.mux.Unlock()

	m.ms.SetGauge(metricState, float64(snapshot.State))
	m.ms.SetGauge(metricFailures, float64(snapshot.ConsecutiveFailures))

	if old != snapshot.State {
		m.notify(old, snapshot)
	}
	return snapshot
}

func deriveState(internetOK, nodeOK bool) State {
	switch {
	case !internetOK:
		return Offline
	case !nodeOK:
		return NodeUnreachable
	default:
		return Online
	}
}

func (m *Monitor) notify(old State, s Status) {
	if m.log != nil {
		m.log.Info(fmt.Sprintf("connection state changed from %s to %s", old, s.State))
	}
	m.obs.Publish(Transition{Old: old, New: s.State, Status: s})
	if m.onChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && m.log != nil {
			m.log.Error(fmt.Sprintf("error in state change callback: %v", r))
		}
	}()
	m.onChange(old, s.State, s)
}

// Start starts the background loop checking connectivity immediately and then every CheckInterval.
// Calling Start on a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.runMux.Lock()
	defer m.runMux.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(ctx, m.stop, m.done)
	if m.log != nil {
		m.log.Info("connection monitor started")
	}
}

func (m *Monitor) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	m.CheckConnection(ctx)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckConnection(ctx)
		}
	}
}

// Stop stops the background loop waiting at most StopTimeout for it to finish.
// Calling Stop on a stopped monitor does nothing.
func (m *Monitor) Stop() {
	m.runMux.Lock()
	defer m.runMux.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
	t := time.NewTimer(m.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-m.done:
	case <-t.C:
		if m.log != nil {
			m.log.Warn("connection monitor loop did not stop in time")
		}
	}
	if m.log != nil {
		m.log.Info("connection monitor stopped")
	}
}

// Running reports whether the background loop is running.
func (m *Monitor) Running() bool {
	m.runMux.Lock()
	defer m.runMux.Unlock()
	return m.running
}

// UpdateNodeURL switches the monitored node, resetting node reachability and state to Unknown.
func (m *Monitor) UpdateNodeURL(nodeURL string) {
	m.mux.Lock()
	m.nodeURL = strings.TrimRight(nodeURL, "/")
	m.status.NodeReachable = false
	m.status.State = Unknown
	m.mux.Unlock()
	m.ms.SetGauge(metricState, float64(Unknown))
	if m.log != nil {
		m.log.Info(fmt.Sprintf("node URL updated to: %s", nodeURL))
	}
}

// StateMessage returns notification title and body for the state.
func StateMessage(s State) (string, string) {
	switch s {
	case Online:
		return "Connection restored", "You are back online and connected to the node."
	case Offline:
		return "Network unavailable", "No internet connection detected. Please check your network settings."
	case NodeUnreachable:
		return "Node connection lost", "Cannot reach the blockchain node. The node may be down or experiencing issues."
	case Unknown:
		return "Connection status unknown", "Unable to determine connection status."
	default:
		return "Unknown status", ""
	}
}
