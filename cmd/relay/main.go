// Command relay runs the broadcast WebSocket relay for peerchat negotiation.
//
// Every frame a client sends is forwarded to every other client; peers keep
// only the frames addressed to them. Chat traffic never passes through here.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"

	"github.com/1ureka/peerchat/internal/config"
	"github.com/1ureka/peerchat/internal/relay"
	"github.com/1ureka/peerchat/internal/util"
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	listen := flag.String("listen", cfg.RelayListen, "Address to listen on")
	maxSize := flag.Int64("max", cfg.MaxMessageSize, "Maximum frame size in bytes")
	debugMode := flag.Bool("debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	cfg.RelayListen = *listen
	cfg.MaxMessageSize = *maxSize
	cfg.Debug = *debugMode
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	hub := relay.NewHub(cfg.MaxMessageSize)
	err = relay.ListenAndServe(ctx, cfg.RelayListen, hub, func(addr net.Addr) {
		util.LogSuccess("relay listening on ws://%s/ws", addr)
	})
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("relay stopped")
}
