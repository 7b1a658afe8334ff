package sensor

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/icexin/gocraft-gridsync/grid"
	"github.com/icexin/gocraft-gridsync/proto"
)

const deg = math.Pi / 180

type CubeOptions struct {
	Center   r3.Vec
	Size     float64 // edge length
	Speed    float64 // degrees per second about the (1,1,1) diagonal
	CellSize float64
}

// Cube simulates a single cube spinning inside the sensor volume. It starts
// rotated 45° about X, Y and Z and turns about the normalised (1,1,1) axis.
// A cell is occupied while its centre lies inside the cube.
type Cube struct {
	opts  CubeOptions
	axis  r3.Vec
	start time.Time
	now   func() time.Time

	// inverse of the initial orientation, applied after undoing the spin
	undoX, undoY, undoZ r3.Rotation
}

func NewCube(opts CubeOptions) *Cube {
	return newCube(opts, time.Now)
}

func newCube(opts CubeOptions, now func() time.Time) *Cube {
	return &Cube{
		opts:  opts,
		axis:  r3.Unit(r3.Vec{X: 1, Y: 1, Z: 1}),
		start: now(),
		now:   now,
		undoX: r3.NewRotation(-45*deg, r3.Vec{X: 1}),
		undoY: r3.NewRotation(-45*deg, r3.Vec{Y: 1}),
		undoZ: r3.NewRotation(-45*deg, r3.Vec{Z: 1}),
	}
}

// angle is the spin in radians accumulated since the cube was created.
func (c *Cube) angle() float64 {
	return c.opts.Speed * deg * c.now().Sub(c.start).Seconds()
}

// Contains reports whether point p is inside the cube at the current time.
func (c *Cube) Contains(p r3.Vec) bool {
	local := r3.Sub(p, c.opts.Center)
	local = r3.NewRotation(-c.angle(), c.axis).Rotate(local)
	// initial orientation applies Z, then X, then Y; undo in reverse
	local = c.undoY.Rotate(local)
	local = c.undoX.Rotate(local)
	local = c.undoZ.Rotate(local)

	half := c.opts.Size / 2
	return math.Abs(local.X) <= half && math.Abs(local.Y) <= half && math.Abs(local.Z) <= half
}

func (c *Cube) At(v proto.Vec3) grid.Sensor {
	x, y, z := grid.CellCenter(v, c.opts.CellSize)
	return cubeCell{cube: c, p: r3.Vec{X: x, Y: y, Z: z}}
}

type cubeCell struct {
	cube *Cube
	p    r3.Vec
}

func (s cubeCell) IsOccupied() bool {
	return s.cube.Contains(s.p)
}
