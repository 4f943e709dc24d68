package main

import (
	"github.com/pterm/pterm"
)

// cliPrompter prints manual codes in a box so they are easy to copy.
type cliPrompter struct{}

func (cliPrompter) ShowCode(peerID, code, reason string) {
	pterm.Println()
	pterm.Warning.Println(reason)
	pterm.DefaultBox.
		WithTitle("Code for " + peerID).
		Println(code)
	pterm.Println()
}

func (cliPrompter) Warn(msg string) {
	pterm.Warning.Println(msg)
}
