// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

package plugin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracedeck/tracedeck/internal/plugin"
)

// fakeHost records loads and serves canned instances.
type fakeHost struct {
	inst   plugin.Instance
	err    error
	loaded []string
	closed bool
}

func (h *fakeHost) Load(_ context.Context, d plugin.Descriptor) (plugin.Instance, error) {
	h.loaded = append(h.loaded, d.BundleLocation)
	return h.inst, h.err
}

func (h *fakeHost) Close(context.Context) error {
	h.closed = true
	return nil
}

func deviceInstance(name string) *fakeInstance {
	return &fakeInstance{md: plugin.Metadata{Name: name, Kind: plugin.KindDevice}}
}

func builtinsWith(t *testing.T, names ...string) *plugin.Builtins {
	t.Helper()
	b := plugin.NewBuiltins()
	for _, name := range names {
		name := name
		require.NoError(t, b.Register(name, func() (plugin.Instance, error) {
			return deviceInstance(name), nil
		}))
	}
	return b
}

func TestBundleLoader_BuiltinDispatch(t *testing.T) {
	l := plugin.NewBundleLoader(builtinsWith(t, "device-logs"))

	inst, err := l.Load(context.Background(), plugin.Descriptor{Name: "device-logs"})
	require.NoError(t, err)
	assert.Equal(t, "device-logs", inst.Metadata().Name)
}

func TestBundleLoader_LuaDispatchByExtension(t *testing.T) {
	lua := &fakeHost{inst: deviceInstance("scripted")}
	binary := &fakeHost{inst: deviceInstance("compiled")}
	l := plugin.NewBundleLoader(builtinsWith(t),
		plugin.WithLuaHost(lua),
		plugin.WithBinaryHost(binary),
	)

	_, err := l.Load(context.Background(), plugin.Descriptor{Name: "scripted", BundleLocation: "/bundles/s.lua"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bundles/s.lua"}, lua.loaded)
	assert.Empty(t, binary.loaded)

	_, err = l.Load(context.Background(), plugin.Descriptor{Name: "compiled", BundleLocation: "/bundles/tool"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bundles/tool"}, binary.loaded)
}

func TestBundleLoader_RuntimeUnavailable(t *testing.T) {
	l := plugin.NewBundleLoader(builtinsWith(t))

	_, err := l.Load(context.Background(), plugin.Descriptor{Name: "s", BundleLocation: "/b/s.lua"})
	assert.Error(t, err)

	_, err = l.Load(context.Background(), plugin.Descriptor{Name: "b", BundleLocation: "/b/tool"})
	assert.Error(t, err)
}

func TestBundleLoader_APIVersion(t *testing.T) {
	l := plugin.NewBundleLoader(builtinsWith(t, "device-logs"))

	tests := []struct {
		name       string
		constraint string
		wantErr    bool
	}{
		{"no constraint", "", false},
		{"satisfied range", ">= 1.0, < 2", false},
		{"exact minor", "1.3.x", false},
		{"too new", ">= 2.0", true},
		{"too old", "< 1.0", true},
		{"unparsable", "not-a-version", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Load(context.Background(), plugin.Descriptor{
				Name:       "device-logs",
				APIVersion: tt.constraint,
			})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBundleLoader_ShapeMismatch(t *testing.T) {
	t.Run("nil instance", func(t *testing.T) {
		binary := &fakeHost{inst: nil}
		l := plugin.NewBundleLoader(builtinsWith(t), plugin.WithBinaryHost(binary))

		_, err := l.Load(context.Background(), plugin.Descriptor{Name: "b", BundleLocation: "/b/tool"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil instance")
	})

	t.Run("unrecognized kind", func(t *testing.T) {
		binary := &fakeHost{inst: &fakeInstance{md: plugin.Metadata{Name: "b", Kind: plugin.Kind(42)}}}
		l := plugin.NewBundleLoader(builtinsWith(t), plugin.WithBinaryHost(binary))

		_, err := l.Load(context.Background(), plugin.Descriptor{Name: "b", BundleLocation: "/b/tool"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kind")
	})
}

func TestBundleLoader_HostErrorPropagates(t *testing.T) {
	binary := &fakeHost{err: errors.New("handshake refused")}
	l := plugin.NewBundleLoader(builtinsWith(t), plugin.WithBinaryHost(binary))

	_, err := l.Load(context.Background(), plugin.Descriptor{Name: "b", BundleLocation: "/b/tool"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake refused")
}

func TestNewBundleLoader_NilBuiltinsPanics(t *testing.T) {
	assert.Panics(t, func() { plugin.NewBundleLoader(nil) })
}
