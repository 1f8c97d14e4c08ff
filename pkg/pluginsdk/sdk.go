// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

// Package pluginsdk is the public SDK for external tracedeck plugins.
//
// A binary plugin is a standalone executable built against this package.
// It implements DebugPlugin and hands it to Serve; the bridge launches the
// executable and drives it over go-plugin's net/rpc transport.
package pluginsdk

import (
	"net/rpc"

	hplugin "github.com/hashicorp/go-plugin"
)

// Plugin kinds understood by the bridge.
const (
	KindDevice = "device"
	KindClient = "client"
)

// DispenseName is the go-plugin map key for the debug plugin service.
const DispenseName = "debug"

// Handshake guards against launching arbitrary executables as plugins.
var Handshake = hplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "TRACEDECK_PLUGIN",
	MagicCookieValue: "f71c2709-device-bridge",
}

// Metadata is the identity a plugin declares about itself. Empty fields
// are backfilled from the descriptor that referenced the bundle.
type Metadata struct {
	ID      string
	Name    string
	Title   string
	Icon    string
	Version string
	Kind    string // KindDevice or KindClient
}

// Action is a keyboard action the plugin contributes to the menu while it
// has focus.
type Action struct {
	ID          string
	Title       string
	Accelerator string
}

// DebugPlugin is the contract a binary plugin implements.
type DebugPlugin interface {
	// Describe returns the plugin's self-declared metadata.
	Describe() (Metadata, error)

	// Actions returns the keyboard actions the plugin contributes.
	Actions() ([]Action, error)

	// Activate is called when the plugin gains focus in the client.
	Activate() error

	// Deactivate is called when the plugin loses focus.
	Deactivate() error
}

// PluginMap is the go-plugin dispense table shared by host and plugins.
var PluginMap = map[string]hplugin.Plugin{
	DispenseName: &rpcPlugin{},
}

// Serve runs the plugin until the host disconnects. It never returns.
func Serve(impl DebugPlugin) {
	hplugin.Serve(&hplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]hplugin.Plugin{
			DispenseName: &rpcPlugin{impl: impl},
		},
	})
}

// rpcPlugin wires DebugPlugin into go-plugin's net/rpc transport.
type rpcPlugin struct {
	impl DebugPlugin
}

func (p *rpcPlugin) Server(_ *hplugin.MuxBroker) (any, error) {
	return &rpcServer{impl: p.impl}, nil
}

func (p *rpcPlugin) Client(_ *hplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &RPCClient{client: c}, nil
}

// rpcServer is the plugin-side net/rpc receiver.
type rpcServer struct {
	impl DebugPlugin
}

// Empty is a placeholder for calls without arguments or results.
type Empty struct{}

func (s *rpcServer) Describe(_ Empty, reply *Metadata) error {
	md, err := s.impl.Describe()
	if err != nil {
		return err
	}
	*reply = md
	return nil
}

func (s *rpcServer) Actions(_ Empty, reply *[]Action) error {
	actions, err := s.impl.Actions()
	if err != nil {
		return err
	}
	*reply = actions
	return nil
}

func (s *rpcServer) Activate(_ Empty, _ *Empty) error {
	return s.impl.Activate()
}

func (s *rpcServer) Deactivate(_ Empty, _ *Empty) error {
	return s.impl.Deactivate()
}

// RPCClient is the host-side proxy. It satisfies DebugPlugin so the host
// can treat remote plugins like local ones.
type RPCClient struct {
	client *rpc.Client
}

// Compile-time interface check.
var _ DebugPlugin = (*RPCClient)(nil)

func (c *RPCClient) Describe() (Metadata, error) {
	var md Metadata
	err := c.client.Call("Plugin.Describe", Empty{}, &md)
	return md, err
}

func (c *RPCClient) Actions() ([]Action, error) {
	var actions []Action
	err := c.client.Call("Plugin.Actions", Empty{}, &actions)
	return actions, err
}

func (c *RPCClient) Activate() error {
	return c.client.Call("Plugin.Activate", Empty{}, &Empty{})
}

func (c *RPCClient) Deactivate() error {
	return c.client.Call("Plugin.Deactivate", Empty{}, &Empty{})
}
