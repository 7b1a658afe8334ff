package grid

import (
	"sort"

	"github.com/icexin/gocraft-gridsync/proto"
)

// Set is an unordered set of coordinates, keyed by value.
type Set map[proto.Vec3]struct{}

func NewSet(cs ...proto.Vec3) Set {
	s := make(Set, len(cs))
	for _, c := range cs {
		s[c] = struct{}{}
	}
	return s
}

func (s Set) Add(c proto.Vec3) {
	s[c] = struct{}{}
}

func (s Set) Has(c proto.Vec3) bool {
	_, ok := s[c]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

// Sub returns the coordinates of s that are not in o.
func (s Set) Sub(o Set) Set {
	out := make(Set)
	for c := range s {
		if !o.Has(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members ordered by x, y, z.
func (s Set) Sorted() []proto.Vec3 {
	out := make([]proto.Vec3, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Snapshot samples every cell of g once. It returns the occupied cells and
// the number of reads that failed and were counted as vacant.
func Snapshot(g *Grid) (Set, int) {
	s := make(Set)
	failed := 0
	g.Range(func(c proto.Vec3) {
		occupied, ok := g.read(c)
		if !ok {
			failed++
		}
		if occupied {
			s[c] = struct{}{}
		}
	})
	return s, failed
}

// ChangeSet holds the cells that became occupied and the cells that became
// vacant between two snapshots. The two sets never intersect.
type ChangeSet struct {
	Entered Set
	Left    Set
}

func (cs ChangeSet) Empty() bool {
	return len(cs.Entered) == 0 && len(cs.Left) == 0
}

// Diff compares two snapshots. A nil snapshot is the empty set.
func Diff(prev, cur Set) ChangeSet {
	return ChangeSet{
		Entered: cur.Sub(prev),
		Left:    prev.Sub(cur),
	}
}
