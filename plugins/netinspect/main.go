// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

// Package main implements an example external plugin for the tracedeck
// bridge. It inspects network traffic of a connected app client.
//
// Build it as a standalone binary and reference it from a descriptor's
// bundle location:
//
//	go build -o netinspect ./plugins/netinspect
package main

import (
	"log"

	"github.com/tracedeck/tracedeck/pkg/pluginsdk"
)

type netInspect struct{}

func (netInspect) Describe() (pluginsdk.Metadata, error) {
	return pluginsdk.Metadata{
		Name:    "netinspect",
		Title:   "Network Inspector",
		Icon:    "globe",
		Version: "0.2.0",
		Kind:    pluginsdk.KindClient,
	}, nil
}

func (netInspect) Actions() ([]pluginsdk.Action, error) {
	return []pluginsdk.Action{
		{ID: "clear", Title: "Clear Requests", Accelerator: "CmdOrCtrl+K"},
		{ID: "har-export", Title: "Export HAR", Accelerator: "CmdOrCtrl+Shift+H"},
	}, nil
}

func (netInspect) Activate() error {
	log.Println("netinspect: activated")
	return nil
}

func (netInspect) Deactivate() error {
	log.Println("netinspect: deactivated")
	return nil
}

func main() {
	pluginsdk.Serve(netInspect{})
}
