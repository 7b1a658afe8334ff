package proto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("proto: malformed command")

const (
	commandPrefix = "Command "
	setblockVerb  = "setblock"
)

// Vec3 is an integer grid coordinate. Comparable, so it can key a map.
type Vec3 struct {
	X, Y, Z int
}

func (v Vec3) Up(n int) Vec3 {
	return Vec3{v.X, v.Y + n, v.Z}
}

// Less orders coordinates by x, then y, then z.
func (v Vec3) Less(o Vec3) bool {
	if v.X != o.X {
		return v.X < o.X
	}
	if v.Y != o.Y {
		return v.Y < o.Y
	}
	return v.Z < o.Z
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

// Command is one line of the remote text protocol, without the trailing newline.
type Command string

// Setblock builds a command that sets the block at pos in the given dimension.
// pos is a world position; callers apply any vertical offset beforehand.
func Setblock(dimension string, pos Vec3, material string) Command {
	return Command(fmt.Sprintf("%s/execute in %s run %s %d %d %d %s",
		commandPrefix, dimension, setblockVerb, pos.X, pos.Y, pos.Z, material))
}

// Say builds a chat broadcast command.
func Say(text string) Command {
	return Command(commandPrefix + "/say " + text)
}

// Payload joins commands into one transmission unit. Every line, the last
// included, is terminated by '\n'.
func Payload(cmds []Command) string {
	var b strings.Builder
	for _, c := range cmds {
		b.WriteString(string(c))
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseUnit splits a transmission unit into its non-empty lines.
func ParseUnit(payload string) []Command {
	var cmds []Command
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cmds = append(cmds, Command(line))
	}
	return cmds
}

type SetblockArgs struct {
	Dimension string
	Pos       Vec3
	Material  string
}

// IsSay reports whether c is a /say broadcast, and returns its text.
func (c Command) IsSay() (string, bool) {
	s := string(c)
	if !strings.HasPrefix(s, commandPrefix+"/say ") {
		return "", false
	}
	return strings.TrimPrefix(s, commandPrefix+"/say "), true
}

// ParseSetblock parses "Command /execute in <dim> run setblock <x> <y> <z> <material>".
func ParseSetblock(c Command) (SetblockArgs, error) {
	var args SetblockArgs
	f := strings.Fields(string(c))
	if len(f) != 10 || f[0] != "Command" || f[1] != "/execute" || f[2] != "in" || f[4] != "run" || f[5] != setblockVerb {
		return args, fmt.Errorf("%w: %q", ErrMalformed, string(c))
	}
	var xyz [3]int
	for i := range xyz {
		n, err := strconv.Atoi(f[6+i])
		if err != nil {
			return args, fmt.Errorf("%w: bad coordinate %q", ErrMalformed, f[6+i])
		}
		xyz[i] = n
	}
	args.Dimension = f[3]
	args.Pos = Vec3{xyz[0], xyz[1], xyz[2]}
	args.Material = f[9]
	return args, nil
}
