// Command blockd is a development world-state service: it accepts the
// gridsync text commands over WebSocket or yamux/TCP and keeps the
// resulting blocks in a bolt database.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/icexin/gocraft-gridsync/world"
)

var (
	wsAddr  = flag.String("l", ":8887", "websocket listen address")
	tcpAddr = flag.String("t", ":8421", "yamux/tcp listen address, empty to disable")
	dbpath  = flag.String("db", "blockd.db", "db file name")
	empty   = flag.String("empty", "minecraft:air", "material that clears a block")
	verbose = flag.Bool("v", false, "log every block update")
	dim     = flag.String("dim", "afevoid", "dimension listed by /blocks when none is given")
)

type replyExecutor struct {
	*world.Executor
}

func (e replyExecutor) Execute(payload string) string {
	return e.Executor.Execute(payload).String()
}

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := world.NewStore(*dbpath, *empty)
	if err != nil {
		log.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	server := NewServer(replyExecutor{world.NewExecutor(store, log)}, log)

	if *tcpAddr != "" {
		l, err := net.Listen("tcp", *tcpAddr)
		if err != nil {
			log.Error("listen", "addr", *tcpAddr, "error", err)
			os.Exit(1)
		}
		defer l.Close()
		go server.ServeTCP(l)
		log.Info("serving yamux", "addr", l.Addr().String())
	}

	mux := http.NewServeMux()
	mux.Handle("/blocks", blocksHandler(store, *dim))
	mux.Handle("/", server)
	httpServer := &http.Server{Addr: *wsAddr, Handler: mux}
	go func() {
		log.Info("serving websocket", "addr", *wsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("websocket server", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	server.Broadcast("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
}
