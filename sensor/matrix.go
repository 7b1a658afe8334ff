// Package sensor provides occupancy sensor arrays for the grid: an
// in-memory matrix, a simulated rotating cube and a serial-line board.
package sensor

import (
	"sync"

	"github.com/icexin/gocraft-gridsync/grid"
	"github.com/icexin/gocraft-gridsync/proto"
)

// Matrix is a settable in-memory sensor array, safe for concurrent use.
type Matrix struct {
	mu       sync.RWMutex
	occupied map[proto.Vec3]bool
}

func NewMatrix() *Matrix {
	return &Matrix{occupied: make(map[proto.Vec3]bool)}
}

func (m *Matrix) Set(c proto.Vec3, occupied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if occupied {
		m.occupied[c] = true
	} else {
		delete(m.occupied, c)
	}
}

func (m *Matrix) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.occupied = make(map[proto.Vec3]bool)
}

func (m *Matrix) get(c proto.Vec3) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.occupied[c]
}

func (m *Matrix) At(c proto.Vec3) grid.Sensor {
	return cell{m: m, c: c}
}

type cell struct {
	m *Matrix
	c proto.Vec3
}

func (s cell) IsOccupied() bool {
	return s.m.get(s.c)
}
