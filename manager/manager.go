// Package manager runs a grid: it sets up the remote outline, scans the
// sensors on a fixed interval, streams the changes and tears the outline
// down again.
//
// Delivery is at most once. A unit that cannot be sent is dropped, and
// because the previous snapshot has already advanced, the next scan will
// not resend it: the remote world can drift from the sensors until the
// affected cells change again. Every unit, dropped or not, goes to the
// journal when one is configured.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/icexin/gocraft-gridsync/grid"
	"github.com/icexin/gocraft-gridsync/journal"
	"github.com/icexin/gocraft-gridsync/proto"
)

// Transport is the session the manager owns exclusively.
type Transport interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, payload string) error
	Close() error
	ID() string
}

// Recorder keeps a record of transmission units.
type Recorder interface {
	Record(session, kind string, status journal.Status, payload string) error
}

// Unit kinds, as recorded in the journal.
const (
	KindClear   = "clear"
	KindOutline = "outline"
	KindBanner  = "banner"
	KindScan    = "scan"
	KindUnwind  = "unwind"
)

type Options struct {
	Size         int
	ScanInterval time.Duration
	ClearOnStart bool
	Encoder      grid.Encoder
	DialTimeout  time.Duration
	// SendTimeout bounds each scan's send. Scan sends are not cancelled
	// by the Run context, so a unit in flight at shutdown completes.
	SendTimeout  time.Duration
}

const defaultSendTimeout = 5 * time.Second

type Option func(*Manager)

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// Manager owns one sensor grid and one transport session. Scans are
// strictly serial.
type Manager struct {
	opts     Options
	sensors  grid.Array
	sess     Transport
	log      *slog.Logger
	recorder Recorder
	metrics  *Metrics

	grid         *grid.Grid
	previous     grid.Set
	outlineClear grid.Batch

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{} // closed by Close
}

func New(opts Options, sensors grid.Array, sess Transport, options ...Option) *Manager {
	m := &Manager{
		opts:     opts,
		sensors:  sensors,
		sess:     sess,
		log:      slog.Default(),
		metrics:  NewMetrics(nil),
		previous: grid.NewSet(),
		stop:     make(chan struct{}),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Start builds the grid, connects, clears the volume, places the outline
// and announces the loop. A failed connection is reported and does not stop
// the start: the session stays errored and every later unit is dropped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("manager: already started")
	}

	g, err := grid.Build(m.sensors, m.opts.Size)
	if err != nil {
		return err
	}
	m.grid = g
	m.started = true

	dialCtx := ctx
	if m.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.opts.DialTimeout)
		defer cancel()
	}
	if err := m.sess.Open(dialCtx); err != nil {
		m.log.Error("transport unavailable, units will be dropped", "error", err)
	}

	enc := m.opts.Encoder
	if m.opts.ClearOnStart {
		m.transmit(ctx, KindClear, enc.Clear(m.opts.Size))
	}
	place, clear := enc.Outline(m.opts.Size)
	m.outlineClear = clear
	m.transmit(ctx, KindOutline, place)
	// a single bare line, no terminating newline
	banner := proto.Say(fmt.Sprintf("Starting loop in %s dimension", enc.Dimension))
	m.send(ctx, KindBanner, string(banner), 1)
	return nil
}

// Scan runs one sample, diff, encode and send cycle and returns the change
// set it sent. It does nothing before Start or after Close.
func (m *Manager) Scan(ctx context.Context) grid.ChangeSet {
	if m.grid == nil || m.stopped() {
		return grid.ChangeSet{}
	}
	cur, failed := grid.Snapshot(m.grid)
	if failed > 0 {
		m.metrics.SensorFailures.Add(float64(failed))
		m.log.Warn("sensor reads failed, counted as vacant", "failed", failed)
	}
	cs := grid.Diff(m.previous, cur)
	batch := m.opts.Encoder.EncodeBatch(cs)
	m.previous = cur

	m.metrics.Scans.Inc()
	m.metrics.Occupied.Set(float64(cur.Len()))
	if len(batch) > 0 {
		m.log.Debug("changes", "entered", cs.Entered.Len(), "left", cs.Left.Len())
		m.transmit(ctx, KindScan, batch)
	}
	return cs
}

// Run scans every interval until ctx is done or the manager is closed. The
// wait starts after the previous scan returns, so a slow send delays later
// scans without overlapping them. Start must have succeeded.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return errors.New("manager: not started")
	}

	sendTimeout := m.opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	timer := time.NewTimer(m.opts.ScanInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case <-timer.C:
		}
		// a cancelled write context closes a websocket mid-frame
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		m.Scan(sendCtx)
		cancel()
		timer.Reset(m.opts.ScanInterval)
	}
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

// Close clears the outline and closes the session. Failures are logged and
// never stop the teardown; Close is idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)

	if m.outlineClear != nil {
		m.transmit(ctx, KindUnwind, m.outlineClear)
	}
	if err := m.sess.Close(); err != nil {
		m.log.Warn("close transport", "error", err)
	}
	return nil
}

func (m *Manager) transmit(ctx context.Context, kind string, batch grid.Batch) {
	m.send(ctx, kind, batch.Payload(), len(batch))
}

func (m *Manager) send(ctx context.Context, kind, payload string, commands int) {
	status := journal.Sent
	if err := m.sess.Send(ctx, payload); err != nil {
		status = journal.Dropped
		m.metrics.UnitsDropped.Inc()
		m.log.Warn("unit dropped", "kind", kind, "commands", commands, "error", err)
	} else {
		m.metrics.UnitsSent.Inc()
		m.metrics.CommandsSent.Add(float64(commands))
		m.log.Debug("unit sent", "kind", kind, "commands", commands)
	}
	if m.recorder != nil {
		if err := m.recorder.Record(m.sess.ID(), kind, status, payload); err != nil {
			m.log.Warn("journal record", "error", err)
		}
	}
}
