// Command peerchat is the interactive chat CLI.
//
// Peerchat opens direct WebRTC data channels between chat peers. Offers,
// answers and ICE candidates go through a WebSocket relay when one is
// reachable; otherwise the CLI prints codes for the user to copy to the
// other peer by hand.
//
// Flags override PEERCHAT_* environment variables and the .env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/peerchat/internal/config"
	"github.com/1ureka/peerchat/internal/protocol"
	"github.com/1ureka/peerchat/internal/relay"
	"github.com/1ureka/peerchat/internal/session"
	"github.com/1ureka/peerchat/internal/signaling"
	"github.com/1ureka/peerchat/internal/store"
	"github.com/1ureka/peerchat/internal/transport"
	"github.com/1ureka/peerchat/internal/util"
)

var version = "dev"

const statsInterval = 30 * time.Second

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	relayURL := flag.String("relay", cfg.RelayURL, "WebSocket relay URL")
	localID := flag.String("id", cfg.LocalID, "Pin the local identity instead of the stored one")
	dataDir := flag.String("data", cfg.DataDir, "Directory for identity and chat history")
	loopback := flag.Bool("loopback", cfg.Loopback, "Gather loopback candidates (two peers on one host)")
	offerTo := flag.String("offer", "", "Send an automatic offer to this peer on startup")
	debugMode := flag.Bool("debug", cfg.Debug, "Enable debug logging")
	flag.Parse()

	cfg.RelayURL = *relayURL
	cfg.LocalID = *localID
	cfg.DataDir = *dataDir
	cfg.Loopback = *loopback
	cfg.Debug = *debugMode
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peerchat v%s", version))
	pterm.Println()

	if err := run(ctx, cfg, *offerTo); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("all peer connections closed")
}

func run(ctx context.Context, cfg *config.Config, offerTo string) error {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	localID, err := resolveIdentity(cfg, db)
	if err != nil {
		return err
	}
	util.LogSuccess("local identity: %s", localID)

	var opts []transport.Option
	if cfg.Loopback {
		opts = append(opts, transport.WithLoopbackCandidates())
	}

	prompter := cliPrompter{}
	engine, err := signaling.New(ctx, signaling.Options{
		LocalID:      localID,
		ChannelLabel: cfg.ChannelLabel,
		Factory:      transport.NewFactory(cfg.ICEServers, opts...),
		Relay: func(handler func(*protocol.Signal)) signaling.Relay {
			return relay.NewClient(cfg.RelayURL, localID, handler,
				relay.WithFailureHook(func(err error) {
					prompter.Warn("Relay unreachable. Connections will fall back to manual codes.")
				}))
		},
		Events:   chatEvents(localID, db),
		Prompter: prompter,
	})
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	if err := engine.ConnectRelay(ctx); err != nil {
		util.LogDebug("initial relay connect: %v", err)
	}

	util.StartStatsReporter(ctx, statsInterval)

	if offerTo != "" {
		if _, err := engine.CreateAutomaticOffer(ctx, offerTo); err != nil {
			util.LogError("offer to %s failed: %v", offerTo, err)
		}
	}

	runMenu(ctx, engine, db)
	return nil
}

// resolveIdentity returns the pinned id if one is configured, otherwise the
// stored id, generating and storing one on first run.
func resolveIdentity(cfg *config.Config, db *store.Store) (string, error) {
	if cfg.LocalID != "" {
		return cfg.LocalID, nil
	}

	id, ok, err := db.LocalID()
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	id = util.NewLocalID()
	if err := db.SetLocalID(id); err != nil {
		return "", err
	}
	return id, nil
}

// chatEvents prints channel events and records inbound messages.
func chatEvents(localID string, db *store.Store) session.Events {
	return session.Events{
		OnMessage: func(senderID, text string) {
			pterm.Println(pterm.Cyan(senderID+" › ") + text)
			if err := db.AppendMessage(senderID, store.Entry{SenderID: senderID, Text: text}); err != nil {
				util.LogWarning("[%s] history not saved: %v", senderID, err)
			}
		},
		OnOpen: func(peerID string) {
			util.LogSuccess("P2P channel with %s is open", peerID)
		},
		OnClose: func(peerID string) {
			util.LogInfo("P2P channel with %s closed", peerID)
		},
		OnError: func(peerID string, err error) {
			util.LogWarning("[%s] channel error: %v", peerID, err)
		},
	}
}
