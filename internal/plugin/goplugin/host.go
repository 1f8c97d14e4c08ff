// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

// Package goplugin provides a Host implementation for binary plugin
// bundles using HashiCorp's go-plugin system over net/rpc.
package goplugin

import (
	"context"
	"errors"
	"os/exec"
	"sync"

	hplugin "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/tracedeck/tracedeck/internal/plugin"
	"github.com/tracedeck/tracedeck/pkg/pluginsdk"
)

// ErrHostClosed is returned when operations are attempted on a closed host.
var ErrHostClosed = errors.New("host is closed")

// Compile-time interface check.
var _ plugin.Host = (*Host)(nil)

// PluginClient wraps the go-plugin client for testability.
type PluginClient interface {
	// Client returns the client protocol once the process handshake completed.
	Client() (hplugin.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hplugin.NewClient(&hplugin.ClientConfig{
		HandshakeConfig:  pluginsdk.Handshake,
		Plugins:          pluginsdk.PluginMap,
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath comes from descriptors validated during discovery
		AllowedProtocols: []hplugin.Protocol{hplugin.ProtocolNetRPC},
	})
}

// Host manages binary plugin bundles via HashiCorp go-plugin.
type Host struct {
	clientFactory ClientFactory
	clients       []PluginClient
	mu            sync.Mutex
	closed        bool
}

// NewHost creates a binary plugin host.
func NewHost() *Host {
	return &Host{clientFactory: &DefaultClientFactory{}}
}

// NewHostWithFactory creates a host with a custom client factory (for
// testing). Panics if factory is nil.
func NewHostWithFactory(factory ClientFactory) *Host {
	if factory == nil {
		panic("goplugin: factory cannot be nil")
	}
	return &Host{clientFactory: factory}
}

// Load launches the bundle executable, performs the handshake and wraps
// the remote plugin as an Instance. The plugin process is killed again if
// any step after launch fails.
func (h *Host) Load(_ context.Context, d plugin.Descriptor) (plugin.Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, oops.In("goplugin").With("plugin", d.Name).Wrap(ErrHostClosed)
	}

	client := h.clientFactory.NewClient(d.BundleLocation)

	proto, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, oops.Code("LOAD_HANDSHAKE_FAILED").In("goplugin").
			With("plugin", d.Name).
			With("bundle", d.BundleLocation).
			Hint("plugin process failed the handshake").
			Wrap(err)
	}

	raw, err := proto.Dispense(pluginsdk.DispenseName)
	if err != nil {
		client.Kill()
		return nil, oops.Code("LOAD_DISPENSE_FAILED").In("goplugin").
			With("plugin", d.Name).Wrap(err)
	}

	remote, ok := raw.(pluginsdk.DebugPlugin)
	if !ok {
		client.Kill()
		return nil, oops.Code("LOAD_SHAPE_MISMATCH").In("goplugin").
			With("plugin", d.Name).
			New("dispensed value does not expose the debug plugin surface")
	}

	md, err := remote.Describe()
	if err != nil {
		client.Kill()
		return nil, oops.Code("LOAD_DESCRIBE_FAILED").In("goplugin").
			With("plugin", d.Name).Wrap(err)
	}

	kind, err := kindFromWire(md.Kind)
	if err != nil {
		client.Kill()
		return nil, oops.In("goplugin").With("plugin", d.Name).Wrap(err)
	}

	h.clients = append(h.clients, client)
	return &instance{
		remote: remote,
		md: plugin.Metadata{
			ID:      md.ID,
			Name:    md.Name,
			Title:   md.Title,
			Icon:    md.Icon,
			Version: md.Version,
			Kind:    kind,
		},
	}, nil
}

// Close kills every plugin process. Idempotent.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for _, client := range h.clients {
		client.Kill()
	}
	h.clients = nil
	return nil
}

func kindFromWire(kind string) (plugin.Kind, error) {
	switch kind {
	case pluginsdk.KindDevice, "":
		return plugin.KindDevice, nil
	case pluginsdk.KindClient:
		return plugin.KindClient, nil
	default:
		return 0, oops.Code("LOAD_SHAPE_MISMATCH").With("kind", kind).New("unrecognized plugin kind")
	}
}

// instance proxies the Instance capability set to a remote plugin.
type instance struct {
	remote pluginsdk.DebugPlugin
	md     plugin.Metadata
}

// Compile-time interface check.
var _ plugin.Instance = (*instance)(nil)

func (i *instance) Metadata() plugin.Metadata { return i.md }

func (i *instance) Actions() []plugin.Action {
	remote, err := i.remote.Actions()
	if err != nil {
		// Action enumeration is advisory; a broken plugin contributes none.
		return nil
	}
	actions := make([]plugin.Action, 0, len(remote))
	for _, a := range remote {
		actions = append(actions, plugin.Action{
			ID:          a.ID,
			Title:       a.Title,
			Accelerator: a.Accelerator,
		})
	}
	return actions
}

func (i *instance) Activate(_ context.Context) error {
	if err := i.remote.Activate(); err != nil {
		return oops.In("goplugin").With("plugin", i.md.Name).Wrap(err)
	}
	return nil
}

func (i *instance) Deactivate(_ context.Context) error {
	if err := i.remote.Deactivate(); err != nil {
		return oops.In("goplugin").With("plugin", i.md.Name).Wrap(err)
	}
	return nil
}
