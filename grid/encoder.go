package grid

import (
	"fmt"

	"github.com/icexin/gocraft-gridsync/proto"
)

type Action int

const (
	Present Action = iota
	Absent
	Boundary
)

func (a Action) String() string {
	switch a {
	case Present:
		return "present"
	case Absent:
		return "absent"
	case Boundary:
		return "boundary"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

type Materials struct {
	Present  string
	Absent   string
	Boundary string
}

// Encoder maps grid coordinates to world positions and block commands.
type Encoder struct {
	Dimension string
	YOffset   int
	Materials Materials
}

func (e Encoder) material(a Action) string {
	switch a {
	case Present:
		return e.Materials.Present
	case Boundary:
		return e.Materials.Boundary
	}
	return e.Materials.Absent
}

// World returns the world position of grid coordinate c.
func (e Encoder) World(c proto.Vec3) proto.Vec3 {
	return c.Up(e.YOffset)
}

func (e Encoder) Encode(c proto.Vec3, a Action) proto.Command {
	return proto.Setblock(e.Dimension, e.World(c), e.material(a))
}

// Batch is an ordered list of commands sent as one transmission unit.
type Batch []proto.Command

func (b Batch) Payload() string {
	return proto.Payload(b)
}

// EncodeBatch emits the entered cells, then the left cells, each group in
// ascending coordinate order, and finally repeats the first command of the
// batch at its end. The repeat is what the remote side has always received
// and is kept as is. An empty change set yields an empty batch.
func (e Encoder) EncodeBatch(cs ChangeSet) Batch {
	var b Batch
	for _, c := range cs.Entered.Sorted() {
		b = append(b, e.Encode(c, Present))
	}
	for _, c := range cs.Left.Sorted() {
		b = append(b, e.Encode(c, Absent))
	}
	if len(b) > 0 {
		b = append(b, b[0])
	}
	return b
}

// Clear sets every cell of a size³ volume to the absent material.
func (e Encoder) Clear(size int) Batch {
	b := make(Batch, 0, size*size*size)
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			for z := 0; z < size; z++ {
				b = append(b, e.Encode(proto.Vec3{X: x, Y: y, Z: z}, Absent))
			}
		}
	}
	return b
}

// Corners returns the eight corners of the box enclosing a size³ grid, one
// cell outside the volume on every axis.
func Corners(size int) [8]proto.Vec3 {
	lo, hi := -1, size
	return [8]proto.Vec3{
		{X: lo, Y: lo, Z: lo},
		{X: lo, Y: lo, Z: hi},
		{X: lo, Y: hi, Z: lo},
		{X: lo, Y: hi, Z: hi},
		{X: hi, Y: lo, Z: lo},
		{X: hi, Y: lo, Z: hi},
		{X: hi, Y: hi, Z: lo},
		{X: hi, Y: hi, Z: hi},
	}
}

// Outline returns the commands placing boundary markers at the corners and
// the commands clearing them again.
func (e Encoder) Outline(size int) (place, clear Batch) {
	for _, c := range Corners(size) {
		place = append(place, e.Encode(c, Boundary))
		clear = append(clear, e.Encode(c, Absent))
	}
	return place, clear
}
