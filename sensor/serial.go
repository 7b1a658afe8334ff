package sensor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/icexin/gocraft-gridsync/grid"
	"github.com/icexin/gocraft-gridsync/proto"
)

// ErrStale is returned by serial sensor reads when the board has gone quiet
// or its port has failed.
var ErrStale = errors.New("sensor: stale occupancy data")

type PortOptions struct {
	Path     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
}

func (o PortOptions) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: o.BaudRate,
		DataBits: o.DataBits,
	}
	if mode.BaudRate <= 0 {
		mode.BaudRate = 115200
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	switch o.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}
	switch strings.ToUpper(strings.TrimSpace(o.Parity)) {
	case "", "N", "NONE":
		mode.Parity = serial.NoParity
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return mode, nil
}

// SerialArray tracks the occupancy reported by a sensor board on a serial
// line. The board sends one line per change:
//
//	<x> <y> <z> <0|1>
//
// plus "reset" to mark every cell vacant and "ping" as a heartbeat while
// nothing changes.
type SerialArray struct {
	log        *slog.Logger
	port       io.ReadCloser
	staleAfter time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	occupied map[proto.Vec3]bool
	lastSeen time.Time
	err      error
	done     chan struct{}
}

// OpenSerial opens the port and starts tracking the board.
func OpenSerial(opts PortOptions, staleAfter time.Duration, log *slog.Logger) (*SerialArray, error) {
	mode, err := opts.mode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(opts.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", opts.Path, err)
	}
	return NewSerialArray(port, staleAfter, log), nil
}

// NewSerialArray tracks the board on an already open port. A zero
// staleAfter disables the staleness check.
func NewSerialArray(port io.ReadCloser, staleAfter time.Duration, log *slog.Logger) *SerialArray {
	return newSerialArray(port, staleAfter, log, time.Now)
}

func newSerialArray(port io.ReadCloser, staleAfter time.Duration, log *slog.Logger, now func() time.Time) *SerialArray {
	if log == nil {
		log = slog.Default()
	}
	a := &SerialArray{
		log:        log.With("component", "serial-sensors"),
		port:       port,
		staleAfter: staleAfter,
		now:        now,
		occupied:   make(map[proto.Vec3]bool),
		done:       make(chan struct{}),
	}
	a.lastSeen = a.now()
	go a.monitor()
	return a
}

func (a *SerialArray) monitor() {
	defer close(a.done)
	scanner := bufio.NewScanner(a.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := a.apply(line); err != nil {
			a.log.Warn("ignoring sensor line", "line", line, "error", err)
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	a.log.Error("sensor board disconnected", "error", err)
}

func (a *SerialArray) apply(line string) error {
	switch line {
	case "reset", "ping":
		a.mu.Lock()
		if line == "reset" {
			a.occupied = make(map[proto.Vec3]bool)
		}
		a.lastSeen = a.now()
		a.mu.Unlock()
		return nil
	}
	f := strings.Fields(line)
	if len(f) != 4 {
		return fmt.Errorf("expected 4 fields, got %d", len(f))
	}
	var n [4]int
	for i := range n {
		v, err := strconv.Atoi(f[i])
		if err != nil {
			return err
		}
		n[i] = v
	}
	if n[3] != 0 && n[3] != 1 {
		return fmt.Errorf("bad state %d", n[3])
	}
	c := proto.Vec3{X: n[0], Y: n[1], Z: n[2]}

	a.mu.Lock()
	defer a.mu.Unlock()
	if n[3] == 1 {
		a.occupied[c] = true
	} else {
		delete(a.occupied, c)
	}
	a.lastSeen = a.now()
	return nil
}

func (a *SerialArray) read(c proto.Vec3) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.err != nil {
		return false, fmt.Errorf("%w: %v", ErrStale, a.err)
	}
	if a.staleAfter > 0 && a.now().Sub(a.lastSeen) > a.staleAfter {
		return false, ErrStale
	}
	return a.occupied[c], nil
}

func (a *SerialArray) At(c proto.Vec3) grid.Sensor {
	return serialCell{a: a, c: c}
}

func (a *SerialArray) Close() error {
	err := a.port.Close()
	<-a.done
	return err
}

type serialCell struct {
	a *SerialArray
	c proto.Vec3
}

func (s serialCell) IsOccupied() bool {
	v, _ := s.a.read(s.c)
	return v
}

func (s serialCell) ReadOccupied() (bool, error) {
	return s.a.read(s.c)
}
