// Package grid samples a cubic array of occupancy sensors and turns the
// change between two samples into remote block commands.
package grid

import (
	"errors"
	"fmt"

	"github.com/icexin/gocraft-gridsync/proto"
)

// Sensor is the occupancy capability of a single cell.
type Sensor interface {
	IsOccupied() bool
}

// Reader is implemented by sensors whose reads can fail. A failed read
// counts as not occupied.
type Reader interface {
	ReadOccupied() (bool, error)
}

// Array addresses one sensor per grid coordinate. At may return nil for a
// cell without a sensor.
type Array interface {
	At(c proto.Vec3) Sensor
}

type Grid struct {
	size    int
	sensors []Sensor
}

// Build resolves every sensor of arr once, for a size³ volume.
func Build(arr Array, size int) (*Grid, error) {
	if arr == nil {
		return nil, errors.New("grid: nil sensor array")
	}
	if size < 1 {
		return nil, fmt.Errorf("grid: invalid size %d", size)
	}
	g := &Grid{
		size:    size,
		sensors: make([]Sensor, size*size*size),
	}
	g.Range(func(c proto.Vec3) {
		g.sensors[g.index(c)] = arr.At(c)
	})
	return g, nil
}

func (g *Grid) Size() int {
	return g.size
}

// CellCenter returns the local-space centre of cell c for cells of edge
// cellSize.
func CellCenter(c proto.Vec3, cellSize float64) (x, y, z float64) {
	half := cellSize / 2
	return float64(c.X)*cellSize + half, float64(c.Y)*cellSize + half, float64(c.Z)*cellSize + half
}

// Range visits every coordinate exactly once, x outermost.
func (g *Grid) Range(f func(c proto.Vec3)) {
	for x := 0; x < g.size; x++ {
		for y := 0; y < g.size; y++ {
			for z := 0; z < g.size; z++ {
				f(proto.Vec3{X: x, Y: y, Z: z})
			}
		}
	}
}

func (g *Grid) index(c proto.Vec3) int {
	return (c.X*g.size+c.Y)*g.size + c.Z
}

// read never fails: a missing sensor, a failed read or a panicking sensor
// are all reported as vacant.
func (g *Grid) read(c proto.Vec3) (occupied bool, ok bool) {
	s := g.sensors[g.index(c)]
	if s == nil {
		return false, true
	}
	defer func() {
		if recover() != nil {
			occupied, ok = false, false
		}
	}()
	if r, isReader := s.(Reader); isReader {
		v, err := r.ReadOccupied()
		if err != nil {
			return false, false
		}
		return v, true
	}
	return s.IsOccupied(), true
}
