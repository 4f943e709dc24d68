package main

import (
	"context"
	"errors"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/peerchat/internal/signaling"
	"github.com/1ureka/peerchat/internal/store"
	"github.com/1ureka/peerchat/internal/util"
)

const (
	actionOffer   = "Connect to a peer (relay)"
	actionManual  = "Create a manual offer code"
	actionAccept  = "Accept an offer code"
	actionConsume = "Enter an answer or candidate code"
	actionSend    = "Send a message"
	actionStatus  = "Show peers"
	actionHistory = "Show chat history"
	actionClose   = "Close a peer"
	actionQuit    = "Quit"
)

var actions = []string{
	actionOffer, actionManual, actionAccept, actionConsume,
	actionSend, actionStatus, actionHistory, actionClose, actionQuit,
}

// runMenu drives the interactive loop until the user quits or ctx ends.
func runMenu(ctx context.Context, engine *signaling.Engine, db *store.Store) {
	for ctx.Err() == nil {
		action, err := pterm.DefaultInteractiveSelect.
			WithOptions(actions).
			WithDefaultText("What next?").
			Show()
		if err != nil || action == actionQuit {
			return
		}
		pterm.Println()

		switch action {
		case actionOffer:
			peerID := ask("Peer id")
			if _, err := engine.CreateAutomaticOffer(ctx, peerID); err != nil {
				util.LogError("%v", err)
			}

		case actionManual:
			peerID := ask("Peer id")
			if _, err := engine.CreateManualOffer(ctx, peerID); err != nil {
				util.LogError("%v", err)
			}

		case actionAccept:
			if _, err := engine.AcceptManualOffer(ctx, ask("Offer code")); err != nil {
				util.LogError("%v", err)
			}

		case actionConsume:
			err := engine.ConsumeCode(ctx, ask("Code"))
			switch {
			case errors.Is(err, signaling.ErrOfferNotAccepted):
				util.LogWarning("that is an offer code, use %q instead", actionAccept)
			case err != nil:
				util.LogError("%v", err)
			default:
				util.LogSuccess("code applied")
			}

		case actionSend:
			sendMessage(engine, db)

		case actionStatus:
			showPeers(engine)

		case actionHistory:
			showHistory(db, ask("Peer id"))

		case actionClose:
			engine.Close(ask("Peer id"))
		}
		pterm.Println()
	}
}

func sendMessage(engine *signaling.Engine, db *store.Store) {
	peerID := ask("Peer id")
	text := ask("Message")
	if text == "" {
		return
	}
	if !engine.SendMessage(peerID, text) {
		util.LogWarning("message not delivered, is the channel to %s open?", peerID)
		return
	}
	if err := db.AppendMessage(peerID, store.Entry{SenderID: engine.LocalID(), Text: text}); err != nil {
		util.LogWarning("[%s] history not saved: %v", peerID, err)
	}
}

func showPeers(engine *signaling.Engine) {
	relayState := "disconnected"
	if engine.RelayConnected() {
		relayState = "connected"
	}

	data := pterm.TableData{{"Peer", "Negotiation", "Channel"}}
	for _, id := range engine.Peers() {
		data = append(data, []string{id, string(engine.State(id)), string(engine.Status(id))})
	}

	pterm.Info.Printfln("You are %s, relay %s", engine.LocalID(), relayState)
	if len(data) == 1 {
		pterm.Println("No peers yet.")
		return
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func showHistory(db *store.Store, peerID string) {
	entries, err := db.History(peerID)
	if errors.Is(err, store.ErrNotFound) {
		pterm.Println("No messages with " + peerID)
		return
	}
	if err != nil {
		util.LogError("%v", err)
		return
	}
	for _, e := range entries {
		pterm.Printfln("%s  %s › %s", e.At.Local().Format("02 Jan 15:04"), e.SenderID, e.Text)
	}
}

// ask prompts for a single line of input.
func ask(prompt string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	return strings.TrimSpace(raw)
}
