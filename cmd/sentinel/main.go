// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command sentinel watches directory subtrees and prints filesystem
// events as JSON lines on stdout. It exists to exercise the watcher core
// end to end; hosts embedding the core use the hub package directly.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelfs/sentinel/lib/hub"
	"github.com/sentinelfs/sentinel/lib/message"
)

type cli struct {
	Roots    []string `arg:"" optional:"" help:"Directories to watch" type:"existingdir"`
	Config   string   `help:"YAML configuration file" type:"path"`
	Poll     bool     `help:"Use the polling watcher instead of OS notifications"`
	Interval uint32   `help:"Polling interval in milliseconds" default:"100"`
	Throttle uint32   `help:"Polling throttle budget per cycle" default:"7000"`
	Split    int      `help:"Above 1, watch each top-level directory of a root as its own watch point" default:"1"`
	Log      string   `help:"Log target: disabled, stderr, stdout or a file path" default:"disabled"`
	Listen   string   `help:"Diagnostics listen address, serves /status and /metrics"`
}

type outLine struct {
	Type  string                     `json:"type"`
	Event *message.FileSystemPayload `json:"event,omitempty"`
	Ack   *message.AckPayload        `json:"ack,omitempty"`
}

func main() {
	var params cli
	kctx := kong.Parse(&params)

	cfg, err := loadConfig(params)
	kctx.FatalIfErrorf(err)

	h := hub.New()
	h.Start()
	defer h.Stop()

	ready := make(chan struct{}, 1)
	h.SetMainCallback(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})

	if _, err := h.Submit(cfg.commands()); err != nil {
		log.Fatalln("submitting commands:", err)
	}

	if cfg.Listen != "" {
		go serveDiagnostics(cfg.Listen, h)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
			for _, msg := range h.Poll() {
				printMessage(enc, msg)
			}
		}
	}
}

func printMessage(enc *json.Encoder, msg message.Message) {
	if ev, ok := msg.AsFilesystem(); ok {
		enc.Encode(outLine{Type: "event", Event: ev})
		return
	}
	if ack, ok := msg.AsAck(); ok {
		if !ack.Success {
			log.Println("command failed:", ack)
		}
		enc.Encode(outLine{Type: "ack", Ack: ack})
	}
}

func serveDiagnostics(listen string, h *hub.Hub) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(h.Status().String()))
	})

	log.SetOutput(os.Stderr)
	if err := http.ListenAndServe(listen, mux); err != nil {
		log.Fatalln("diagnostics serve:", err)
	}
}
