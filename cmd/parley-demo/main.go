// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// parley-demo wires two in-process sessions over the in-memory
// transport and runs the library end to end: key exchange, the
// verification handshake in both directions, a chat channel round
// trip, a media stream attach, and connection classification.
//
// Usage:
//
//	parley-demo [--config parley.yaml] [--verbose]
package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/openparley/parley/lib/config"
	"github.com/openparley/parley/lib/rsaseal"
	"github.com/openparley/parley/lib/version"
	"github.com/openparley/parley/router"
	"github.com/openparley/parley/session"
	"github.com/openparley/parley/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var verbose bool

	flagSet := pflag.NewFlagSet("parley-demo", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to parley.yaml (default: PARLEY_CONFIG, else built-in defaults)")
	flagSet.BoolVar(&verbose, "verbose", false, "log at debug level")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("parley-demo %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	mesh := transport.NewMemoryMesh()

	alice, aliceKey, err := newDemoSession(mesh, "alice", cfg, logger)
	if err != nil {
		return err
	}
	defer alice.Close()
	bob, bobKey, err := newDemoSession(mesh, "bob", cfg, logger)
	if err != nil {
		return err
	}
	defer bob.Close()

	// Key exchange. In a real deployment the keys arrive through an
	// out-of-band channel (a roster service, a QR code); verification
	// is what makes them trustworthy.
	alice.RegisterPublicKey("bob", &bobKey.PublicKey)
	bob.RegisterPublicKey("alice", &aliceKey.PublicKey)

	fmt.Println("== verification ==")
	if err := alice.InitiateVerification(ctx, "bob"); err != nil {
		return fmt.Errorf("alice verifying bob: %w", err)
	}
	if err := bob.InitiateVerification(ctx, "alice"); err != nil {
		return fmt.Errorf("bob verifying alice: %w", err)
	}
	fmt.Printf("alice sees bob:   %s\n", alice.VerificationState("bob"))
	fmt.Printf("bob sees alice:   %s\n", bob.VerificationState("alice"))

	fmt.Println("== chat channel ==")
	received := make(chan string, 1)
	bob.MakeChannel("chat", router.NamespaceGroup).OnReceive(func(peerID string, payload []byte) {
		received <- fmt.Sprintf("%s: %s", peerID, payload)
	})
	chat := alice.MakeChannel("chat", router.NamespaceGroup)
	if err := chat.Send(ctx, []byte("hello from alice"), ""); err != nil {
		return fmt.Errorf("sending chat message: %w", err)
	}
	select {
	case line := <-received:
		fmt.Println(line)
	case <-time.After(time.Second):
		return fmt.Errorf("chat message never arrived")
	}

	fmt.Println("== media stream ==")
	streams := make(chan transport.PeerEvent, 1)
	bob.OnEvent("demo", transport.PeerStream, func(event transport.PeerEvent) {
		streams <- event
	})
	metadata := transport.StreamMetadata{
		Kind:     transport.StreamVideo,
		StreamID: "cam-1",
		Label:    "front camera",
	}
	if err := alice.AddStream(transport.StaticStream("cam-1"), nil, metadata); err != nil {
		return fmt.Errorf("attaching stream: %w", err)
	}
	select {
	case event := <-streams:
		fmt.Printf("bob received %s stream %q from %s\n",
			event.Metadata.Kind, event.Metadata.StreamID, event.PeerID)
	case <-time.After(5 * time.Second):
		return fmt.Errorf("stream attach never arrived")
	}

	fmt.Println("== connection types ==")
	for peerID, kind := range alice.ConnectionTypes(ctx) {
		fmt.Printf("%s: %s\n", peerID, kind)
	}
	return nil
}

// loadConfig resolves the configuration source: the --config flag, then
// PARLEY_CONFIG, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("PARLEY_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func newDemoSession(mesh *transport.MemoryMesh, peerID string, cfg *config.Config, logger *slog.Logger) (*session.Session, *rsa.PrivateKey, error) {
	key, err := rsaseal.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generating key for %s: %w", peerID, err)
	}
	s, err := session.New(session.Config{
		Transport:       mesh.Join(peerID),
		LocalPrivateKey: key,
		VerifyTimeout:   cfg.VerifyTimeout(),
		QuiesceDelay:    cfg.QuiesceDelay(),
		AutoVerify:      cfg.Verification.AutoVerify,
		Logger:          logger.With("peer", peerID),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building session for %s: %w", peerID, err)
	}
	return s, key, nil
}
