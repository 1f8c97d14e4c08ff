// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

package goplugin_test

import (
	"context"
	"errors"
	"testing"

	hplugin "github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracedeck/tracedeck/internal/plugin"
	"github.com/tracedeck/tracedeck/internal/plugin/goplugin"
	"github.com/tracedeck/tracedeck/pkg/pluginsdk"
)

// fakeRemote implements the SDK surface a plugin process would expose.
type fakeRemote struct {
	md         pluginsdk.Metadata
	actions    []pluginsdk.Action
	actionsErr error
	activate   error
}

func (r *fakeRemote) Describe() (pluginsdk.Metadata, error)  { return r.md, nil }
func (r *fakeRemote) Actions() ([]pluginsdk.Action, error)   { return r.actions, r.actionsErr }
func (r *fakeRemote) Activate() error                        { return r.activate }
func (r *fakeRemote) Deactivate() error                      { return nil }

// fakeProtocol stands in for go-plugin's client protocol.
type fakeProtocol struct {
	dispensed   any
	dispenseErr error
}

func (p *fakeProtocol) Close() error                  { return nil }
func (p *fakeProtocol) Dispense(string) (any, error)  { return p.dispensed, p.dispenseErr }
func (p *fakeProtocol) Ping() error                   { return nil }

// fakeClient is a PluginClient that tracks process lifetime.
type fakeClient struct {
	proto  hplugin.ClientProtocol
	err    error
	killed bool
}

func (c *fakeClient) Client() (hplugin.ClientProtocol, error) { return c.proto, c.err }
func (c *fakeClient) Kill()                                   { c.killed = true }

type fakeFactory struct {
	client *fakeClient
	paths  []string
}

func (f *fakeFactory) NewClient(execPath string) goplugin.PluginClient {
	f.paths = append(f.paths, execPath)
	return f.client
}

func TestHost_Load(t *testing.T) {
	remote := &fakeRemote{
		md: pluginsdk.Metadata{
			ID:      "netinspect-v2",
			Name:    "netinspect",
			Title:   "Network Inspector",
			Kind:    pluginsdk.KindClient,
		},
		actions: []pluginsdk.Action{{ID: "clear", Title: "Clear", Accelerator: "CmdOrCtrl+K"}},
	}
	client := &fakeClient{proto: &fakeProtocol{dispensed: remote}}
	factory := &fakeFactory{client: client}

	h := goplugin.NewHostWithFactory(factory)
	defer func() { _ = h.Close(context.Background()) }()

	inst, err := h.Load(context.Background(), plugin.Descriptor{
		Name:           "netinspect",
		BundleLocation: "/bundles/netinspect",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bundles/netinspect"}, factory.paths)

	md := inst.Metadata()
	assert.Equal(t, "netinspect-v2", md.ID)
	assert.Equal(t, plugin.KindClient, md.Kind)

	actions := inst.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, "CmdOrCtrl+K", actions[0].Accelerator)

	require.NoError(t, inst.Activate(context.Background()))
	require.NoError(t, inst.Deactivate(context.Background()))
	assert.False(t, client.killed)
}

func TestHost_Load_EmptyKindDefaultsToDevice(t *testing.T) {
	remote := &fakeRemote{md: pluginsdk.Metadata{Name: "plain"}}
	h := goplugin.NewHostWithFactory(&fakeFactory{
		client: &fakeClient{proto: &fakeProtocol{dispensed: remote}},
	})
	defer func() { _ = h.Close(context.Background()) }()

	inst, err := h.Load(context.Background(), plugin.Descriptor{Name: "plain", BundleLocation: "/b/plain"})
	require.NoError(t, err)
	assert.Equal(t, plugin.KindDevice, inst.Metadata().Kind)
}

func TestHost_Load_HandshakeFailureKillsProcess(t *testing.T) {
	client := &fakeClient{err: errors.New("magic cookie mismatch")}
	h := goplugin.NewHostWithFactory(&fakeFactory{client: client})
	defer func() { _ = h.Close(context.Background()) }()

	_, err := h.Load(context.Background(), plugin.Descriptor{Name: "imposter", BundleLocation: "/b/x"})
	require.Error(t, err)
	assert.True(t, client.killed)
}

func TestHost_Load_WrongShapeKillsProcess(t *testing.T) {
	client := &fakeClient{proto: &fakeProtocol{dispensed: struct{}{}}}
	h := goplugin.NewHostWithFactory(&fakeFactory{client: client})
	defer func() { _ = h.Close(context.Background()) }()

	_, err := h.Load(context.Background(), plugin.Descriptor{Name: "odd", BundleLocation: "/b/x"})
	require.Error(t, err)
	assert.True(t, client.killed)
}

func TestHost_Load_UnknownKindKillsProcess(t *testing.T) {
	remote := &fakeRemote{md: pluginsdk.Metadata{Name: "weird", Kind: "toaster"}}
	client := &fakeClient{proto: &fakeProtocol{dispensed: remote}}
	h := goplugin.NewHostWithFactory(&fakeFactory{client: client})
	defer func() { _ = h.Close(context.Background()) }()

	_, err := h.Load(context.Background(), plugin.Descriptor{Name: "weird", BundleLocation: "/b/x"})
	require.Error(t, err)
	assert.True(t, client.killed)
}

func TestHost_Close(t *testing.T) {
	remote := &fakeRemote{md: pluginsdk.Metadata{Name: "p"}}
	client := &fakeClient{proto: &fakeProtocol{dispensed: remote}}
	h := goplugin.NewHostWithFactory(&fakeFactory{client: client})

	_, err := h.Load(context.Background(), plugin.Descriptor{Name: "p", BundleLocation: "/b/p"})
	require.NoError(t, err)

	require.NoError(t, h.Close(context.Background()))
	assert.True(t, client.killed)

	_, err = h.Load(context.Background(), plugin.Descriptor{Name: "p", BundleLocation: "/b/p"})
	assert.ErrorIs(t, err, goplugin.ErrHostClosed)

	require.NoError(t, h.Close(context.Background()))
}

func TestHost_BrokenActionsContributeNone(t *testing.T) {
	remote := &fakeRemote{
		md:         pluginsdk.Metadata{Name: "p"},
		actionsErr: errors.New("rpc gone"),
	}
	h := goplugin.NewHostWithFactory(&fakeFactory{
		client: &fakeClient{proto: &fakeProtocol{dispensed: remote}},
	})
	defer func() { _ = h.Close(context.Background()) }()

	inst, err := h.Load(context.Background(), plugin.Descriptor{Name: "p", BundleLocation: "/b/p"})
	require.NoError(t, err)
	assert.Empty(t, inst.Actions())
}

func TestNewHostWithFactory_NilPanics(t *testing.T) {
	assert.Panics(t, func() { goplugin.NewHostWithFactory(nil) })
}
