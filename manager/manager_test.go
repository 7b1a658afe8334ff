package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icexin/gocraft-gridsync/grid"
	"github.com/icexin/gocraft-gridsync/journal"
	"github.com/icexin/gocraft-gridsync/proto"
	"github.com/icexin/gocraft-gridsync/sensor"
)

var errDown = errors.New("not connected")

// fakeTransport records every payload it accepts.
type fakeTransport struct {
	mu       sync.Mutex
	openErr  error
	sendErr  error
	open     bool
	closed   int
	payloads []string
	attempts int
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if !f.open {
		return errDown
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closed++
	return nil
}

func (f *fakeTransport) ID() string { return "test-session" }

func (f *fakeTransport) Payloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.payloads...)
}

func (f *fakeTransport) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type memRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *memRecorder) Record(session, kind string, status journal.Status, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, journal.Entry{Session: session, Kind: kind, Status: status, Payload: payload})
	return nil
}

func testOptions(size int) Options {
	return Options{
		Size:         size,
		ScanInterval: 10 * time.Millisecond,
		Encoder: grid.Encoder{
			Dimension: "afevoid",
			YOffset:   70,
			Materials: grid.Materials{
				Present:  "minecraft:green_wool",
				Absent:   "minecraft:air",
				Boundary: "minecraft:sea_lantern",
			},
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wool(x, y, z int) string {
	return string(proto.Setblock("afevoid", proto.Vec3{X: x, Y: y, Z: z}, "minecraft:green_wool")) + "\n"
}

func air(x, y, z int) string {
	return string(proto.Setblock("afevoid", proto.Vec3{X: x, Y: y, Z: z}, "minecraft:air")) + "\n"
}

func TestStartSendsOutlineAndBanner(t *testing.T) {
	tr := &fakeTransport{}
	m := New(testOptions(2), sensor.NewMatrix(), tr, WithLogger(quietLogger()))
	require.NoError(t, m.Start(context.Background()))

	p := tr.Payloads()
	require.Len(t, p, 2)
	outline := proto.ParseUnit(p[0])
	require.Len(t, outline, 8)
	assert.Equal(t, proto.Setblock("afevoid", proto.Vec3{X: -1, Y: 69, Z: -1}, "minecraft:sea_lantern"), outline[0])
	assert.Equal(t, proto.Setblock("afevoid", proto.Vec3{X: -1, Y: 69, Z: 2}, "minecraft:sea_lantern"), outline[1])
	assert.Equal(t, "Command /say Starting loop in afevoid dimension", p[1])

	assert.Error(t, m.Start(context.Background()))
}

func TestStartClearsVolume(t *testing.T) {
	tr := &fakeTransport{}
	opts := testOptions(2)
	opts.ClearOnStart = true
	m := New(opts, sensor.NewMatrix(), tr, WithLogger(quietLogger()))
	require.NoError(t, m.Start(context.Background()))

	p := tr.Payloads()
	require.Len(t, p, 3)
	assert.Len(t, proto.ParseUnit(p[0]), 8)
	assert.Equal(t, air(0, 70, 0), p[0][:len(air(0, 70, 0))])
}

func TestStartRejectsBadGrid(t *testing.T) {
	m := New(testOptions(0), sensor.NewMatrix(), &fakeTransport{}, WithLogger(quietLogger()))
	assert.Error(t, m.Start(context.Background()))
	assert.Error(t, m.Run(context.Background()))
}

// Three ticks on a 2x2x2 grid.
func TestScanScenario(t *testing.T) {
	tr := &fakeTransport{}
	sensors := sensor.NewMatrix()
	m := New(testOptions(2), sensors, tr, WithLogger(quietLogger()))
	require.NoError(t, m.Start(context.Background()))
	base := len(tr.Payloads())
	ctx := context.Background()

	// tick 1: nothing occupied, nothing sent
	cs := m.Scan(ctx)
	assert.True(t, cs.Empty())
	assert.Len(t, tr.Payloads(), base)

	// tick 2: (1,0,1) enters; the first command is repeated
	sensors.Set(proto.Vec3{X: 1, Y: 0, Z: 1}, true)
	m.Scan(ctx)
	p := tr.Payloads()
	require.Len(t, p, base+1)
	assert.Equal(t, wool(1, 70, 1)+wool(1, 70, 1), p[base])

	// tick 3: (1,0,1) leaves while (0,1,0) enters
	sensors.Set(proto.Vec3{X: 1, Y: 0, Z: 1}, false)
	sensors.Set(proto.Vec3{X: 0, Y: 1, Z: 0}, true)
	m.Scan(ctx)
	p = tr.Payloads()
	require.Len(t, p, base+2)
	assert.Equal(t, wool(0, 71, 0)+air(1, 70, 1)+wool(0, 71, 0), p[base+1])

	// tick 4: unchanged
	m.Scan(ctx)
	assert.Len(t, tr.Payloads(), base+2)
}

func TestScanBeforeStart(t *testing.T) {
	tr := &fakeTransport{}
	m := New(testOptions(2), sensor.NewMatrix(), tr, WithLogger(quietLogger()))
	assert.True(t, m.Scan(context.Background()).Empty())
	assert.Equal(t, 0, tr.Attempts())
}

// A dropped unit is not resent: the previous snapshot has moved on.
func TestDroppedUnitIsLost(t *testing.T) {
	tr := &fakeTransport{}
	sensors := sensor.NewMatrix()
	rec := &memRecorder{}
	m := New(testOptions(2), sensors, tr, WithLogger(quietLogger()), WithRecorder(rec))
	require.NoError(t, m.Start(context.Background()))
	base := len(tr.Payloads())

	tr.mu.Lock()
	tr.sendErr = errors.New("write: broken pipe")
	tr.mu.Unlock()
	sensors.Set(proto.Vec3{X: 0, Y: 0, Z: 0}, true)
	m.Scan(context.Background())

	tr.mu.Lock()
	tr.sendErr = nil
	tr.mu.Unlock()
	m.Scan(context.Background())
	assert.Len(t, tr.Payloads(), base)

	last := rec.entries[len(rec.entries)-1]
	assert.Equal(t, journal.Dropped, last.Status)
	assert.Equal(t, KindScan, last.Kind)
	assert.Equal(t, "test-session", last.Session)
}

func TestConnectionFailureKeepsRunning(t *testing.T) {
	tr := &fakeTransport{openErr: errors.New("connection refused")}
	sensors := sensor.NewMatrix()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := New(testOptions(2), sensors, tr, WithLogger(quietLogger()), WithMetrics(metrics))
	require.NoError(t, m.Start(context.Background()))

	sensors.Set(proto.Vec3{X: 1, Y: 1, Z: 1}, true)
	cs := m.Scan(context.Background())
	assert.Equal(t, 1, cs.Entered.Len())
	assert.Empty(t, tr.Payloads())

	// outline, banner, scan
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.UnitsDropped))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.UnitsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Scans))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Occupied))

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, 1, tr.closed)
}

func TestMetricsCountCommands(t *testing.T) {
	tr := &fakeTransport{}
	sensors := sensor.NewMatrix()
	metrics := NewMetrics(prometheus.NewRegistry())
	m := New(testOptions(2), sensors, tr, WithLogger(quietLogger()), WithMetrics(metrics))
	require.NoError(t, m.Start(context.Background()))

	sensors.Set(proto.Vec3{X: 1, Y: 0, Z: 1}, true)
	m.Scan(context.Background())
	// 8 corners + banner + 2 scan lines
	assert.Equal(t, 11.0, testutil.ToFloat64(metrics.CommandsSent))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.UnitsSent))
}

type flakySensor struct{}

func (flakySensor) IsOccupied() bool            { return false }
func (flakySensor) ReadOccupied() (bool, error) { return false, errors.New("no reply") }

type flakyArray struct{}

func (flakyArray) At(c proto.Vec3) grid.Sensor {
	if c.X == 0 {
		return flakySensor{}
	}
	return nil
}

func TestSensorFailuresCounted(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	m := New(testOptions(2), flakyArray{}, &fakeTransport{}, WithLogger(quietLogger()), WithMetrics(metrics))
	require.NoError(t, m.Start(context.Background()))
	m.Scan(context.Background())
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.SensorFailures))
}

func TestCloseRemovesOutline(t *testing.T) {
	tr := &fakeTransport{}
	m := New(testOptions(3), sensor.NewMatrix(), tr, WithLogger(quietLogger()))
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	p := tr.Payloads()
	unwind := proto.ParseUnit(p[len(p)-1])
	require.Len(t, unwind, 8)
	for _, c := range unwind {
		args, err := proto.ParseSetblock(c)
		require.NoError(t, err)
		assert.Equal(t, "minecraft:air", args.Material)
	}
	assert.Equal(t, proto.Setblock("afevoid", proto.Vec3{X: 3, Y: 73, Z: 3}, "minecraft:air"), unwind[7])
	assert.Equal(t, 1, tr.closed)
}

func TestCloseBeforeStart(t *testing.T) {
	tr := &fakeTransport{}
	m := New(testOptions(2), sensor.NewMatrix(), tr, WithLogger(quietLogger()))
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, 0, tr.Attempts())
	assert.Equal(t, 1, tr.closed)
}

func TestRunScansUntilCancelled(t *testing.T) {
	tr := &fakeTransport{}
	sensors := sensor.NewMatrix()
	metrics := NewMetrics(prometheus.NewRegistry())
	m := New(testOptions(2), sensors, tr, WithLogger(quietLogger()), WithMetrics(metrics))
	require.NoError(t, m.Start(context.Background()))
	base := len(tr.Payloads())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sensors.Set(proto.Vec3{X: 0, Y: 0, Z: 1}, true)
	assert.Eventually(t, func() bool { return len(tr.Payloads()) == base+1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return testutil.ToFloat64(metrics.Scans) >= 3 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, base+2, len(tr.Payloads()))
}

func TestJournalRecordsUnits(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	tr := &fakeTransport{openErr: errors.New("refused")}
	m := New(testOptions(2), sensor.NewMatrix(), tr, WithLogger(quietLogger()), WithRecorder(j))
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	var kinds []string
	require.NoError(t, j.Range(func(e journal.Entry) bool {
		kinds = append(kinds, e.Kind)
		assert.Equal(t, journal.Dropped, e.Status)
		return true
	}))
	assert.Equal(t, []string{KindOutline, KindBanner, KindUnwind}, kinds)
}

func TestCloseStopsRun(t *testing.T) {
	tr := &fakeTransport{}
	sensors := sensor.NewMatrix()
	m := New(testOptions(2), sensors, tr, WithLogger(quietLogger()))
	require.NoError(t, m.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	require.NoError(t, m.Close(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}

	attempts := tr.Attempts()
	sensors.Set(proto.Vec3{X: 1, Y: 1, Z: 1}, true)
	assert.Empty(t, m.Scan(context.Background()).Entered.Sorted())
	time.Sleep(5 * testOptions(2).ScanInterval)
	assert.Equal(t, attempts, tr.Attempts())
}

// blockingTransport holds scan sends until released and records the
// context state it saw.
type blockingTransport struct {
	fakeTransport
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
	hasDL   chan bool
}

func (b *blockingTransport) Send(ctx context.Context, payload string) error {
	if !b.Started() {
		return b.fakeTransport.Send(ctx, payload)
	}
	b.entered <- struct{}{}
	<-b.release
	b.ctxErr <- ctx.Err()
	_, ok := ctx.Deadline()
	b.hasDL <- ok
	return b.fakeTransport.Send(ctx, payload)
}

func (b *blockingTransport) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payloads) >= 2
}

func TestScanSendOutlivesRunCancel(t *testing.T) {
	tr := &blockingTransport{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
		hasDL:   make(chan bool, 1),
	}
	sensors := sensor.NewMatrix()
	opts := testOptions(2)
	opts.SendTimeout = time.Minute
	m := New(opts, sensors, tr, WithLogger(quietLogger()))
	require.NoError(t, m.Start(context.Background()))
	require.Len(t, tr.Payloads(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sensors.Set(proto.Vec3{X: 0, Y: 0, Z: 0}, true)
	select {
	case <-tr.entered:
	case <-time.After(time.Second):
		t.Fatal("scan send not attempted")
	}
	cancel()
	close(tr.release)

	assert.NoError(t, <-tr.ctxErr)
	assert.True(t, <-tr.hasDL)
	require.NoError(t, <-done)
	assert.Len(t, tr.Payloads(), 3)
}
