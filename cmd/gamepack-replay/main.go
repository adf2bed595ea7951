// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

// Gamepack-replay is a gamepack that plays back a scripted game instead
// of watching a real one. It is used to exercise the daemon and pack
// UIs without the game installed.
//
// The script is JSON lines, one step per line, each with an offset from
// init and one action:
//
//	{"at": "0s", "running": true}
//	{"at": "2s", "status": {"connected": true, "connection_status": "Connected", "is_in_game": true}}
//	{"at": "5s", "event": {"event_type": "champion_kill", "timestamp_secs": 61.5}}
//	{"at": "5s", "moment": {"moment_id": "first_blood", "game_time_secs": 61.5}}
//	{"at": "6s", "live_data": {"gold": 1250}}
//	{"at": "9s", "match_data_message": {"type": "write_stats", "external_match_id": "EUW1-1", "stats": {"kills": 3}}}
//	{"at": "9s", "match_data": {"game_slug": "league", "game_id": 7, "result": "win"}}
//	{"at": "10s", "status": {"connected": true, "connection_status": "Connected", "is_in_game": false}}
//
// Steps apply when the daemon next calls the pack after their offset.
// Blank lines and // comments are ignored.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/companion-foundation/companion/lib/gamepack"
	"github.com/companion-foundation/companion/lib/process"
	"github.com/companion-foundation/companion/lib/schema/game"
	"github.com/companion-foundation/companion/lib/version"
)

func main() {
	pack, err := setup(os.Args[1:])
	if err != nil {
		process.Fatal(err)
	}
	if pack == nil {
		return
	}
	gamepack.Main(pack)
}

// setup parses flags and loads the script. A nil pack with a nil error
// means the invocation was informational (--version, --help).
func setup(args []string) (*replayPack, error) {
	var (
		scriptPath  string
		gameID      int32
		slug        string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("gamepack-replay", pflag.ContinueOnError)
	flagSet.StringVar(&scriptPath, "script", "", "path to the replay script (required)")
	flagSet.Int32Var(&gameID, "game-id", 0, "game id reported by init (required)")
	flagSet.StringVar(&slug, "slug", "", "game slug reported by init (required)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil, nil
		}
		return nil, err
	}
	if showVersion {
		version.Print("gamepack-replay")
		return nil, nil
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	identity := game.InitResult{GameID: gameID, Slug: slug, ProtocolVersion: version.ProtocolVersion}
	if err := identity.Validate(); err != nil {
		return nil, fmt.Errorf("--game-id and --slug: %w", err)
	}
	if scriptPath == "" {
		return nil, fmt.Errorf("--script is required")
	}
	steps, err := ReadScriptFile(scriptPath)
	if err != nil {
		return nil, err
	}

	logger := process.NewLogger(process.ParseLevel(os.Getenv(gamepack.LogLevelEnv)))
	return newReplayPack(identity, steps, nil, logger.With("pack", slug)), nil
}
