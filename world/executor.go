package world

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/icexin/gocraft-gridsync/proto"
)

type Reply struct {
	Applied int
	Said    []string
	Errors  []string
}

func (r Reply) String() string {
	s := fmt.Sprintf("ok applied=%d said=%d", r.Applied, len(r.Said))
	if len(r.Errors) > 0 {
		s += " errors=" + strings.Join(r.Errors, "; ")
	}
	return s
}

// Executor applies transmission units to a Store, one unit at a time.
type Executor struct {
	mutex sync.Mutex
	store *Store
	log   *slog.Logger
}

func NewExecutor(store *Store, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		store: store,
		log:   log,
	}
}

func (e *Executor) Execute(payload string) Reply {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var r Reply
	for i, cmd := range proto.ParseUnit(payload) {
		if text, ok := cmd.IsSay(); ok {
			e.log.Info("say", "text", text)
			r.Said = append(r.Said, text)
			continue
		}
		args, err := proto.ParseSetblock(cmd)
		if err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}
		if err := e.store.UpdateBlock(args.Dimension, args.Pos, args.Material); err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}
		e.log.Debug("setblock", "dimension", args.Dimension, "pos", args.Pos.String(), "material", args.Material)
		r.Applied++
	}
	return r
}
