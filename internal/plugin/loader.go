package plugin

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Host resolves external plugin bundles of one runtime kind.
type Host interface {
	// Load resolves the implementation for a descriptor's bundle.
	Load(ctx context.Context, d Descriptor) (Instance, error)

	// Close shuts down the host and all instances it produced.
	Close(ctx context.Context) error
}

// Loader resolves a descriptor into an implementation.
type Loader interface {
	Load(ctx context.Context, d Descriptor) (Instance, error)
}

// BundleLoader dispatches descriptors to the built-in registry or to a
// runtime host selected by bundle extension.
type BundleLoader struct {
	builtins *Builtins
	lua      Host
	binary   Host
	api      *semver.Version
}

// Compile-time interface check.
var _ Loader = (*BundleLoader)(nil)

// BundleLoaderOption configures a BundleLoader.
type BundleLoaderOption func(*BundleLoader)

// WithLuaHost enables .lua script bundles.
func WithLuaHost(h Host) BundleLoaderOption {
	return func(l *BundleLoader) { l.lua = h }
}

// WithBinaryHost enables external binary bundles.
func WithBinaryHost(h Host) BundleLoaderOption {
	return func(l *BundleLoader) { l.binary = h }
}

// NewBundleLoader creates a loader over the built-in registry.
// Panics if builtins is nil or APIVersion is unparsable.
func NewBundleLoader(builtins *Builtins, opts ...BundleLoaderOption) *BundleLoader {
	if builtins == nil {
		panic("plugin: builtins cannot be nil")
	}
	l := &BundleLoader{
		builtins: builtins,
		api:      semver.MustParse(APIVersion),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves the implementation for a descriptor and verifies it
// structurally satisfies the Instance capability set.
func (l *BundleLoader) Load(ctx context.Context, d Descriptor) (Instance, error) {
	if err := l.checkAPIVersion(d); err != nil {
		return nil, err
	}

	var (
		inst Instance
		err  error
	)
	switch {
	case d.BundleLocation == "":
		inst, err = l.builtins.New(d.Name)
	case strings.EqualFold(filepath.Ext(d.BundleLocation), ".lua"):
		if l.lua == nil {
			return nil, oops.Code("LOAD_RUNTIME_UNAVAILABLE").With("plugin", d.Name).New("no script host configured")
		}
		inst, err = l.lua.Load(ctx, d)
	default:
		if l.binary == nil {
			return nil, oops.Code("LOAD_RUNTIME_UNAVAILABLE").With("plugin", d.Name).New("no binary host configured")
		}
		inst, err = l.binary.Load(ctx, d)
	}
	if err != nil {
		return nil, err
	}

	if err := validateInstance(d, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// checkAPIVersion enforces the descriptor's api-version constraint against
// the host plugin API.
func (l *BundleLoader) checkAPIVersion(d Descriptor) error {
	if d.APIVersion == "" {
		return nil
	}
	c, err := semver.NewConstraint(d.APIVersion)
	if err != nil {
		return oops.Code("LOAD_API_CONSTRAINT_INVALID").
			With("plugin", d.Name).
			With("constraint", d.APIVersion).
			Wrap(err)
	}
	if !c.Check(l.api) {
		return oops.Code("LOAD_API_INCOMPATIBLE").
			With("plugin", d.Name).
			With("constraint", d.APIVersion).
			With("host_api", APIVersion).
			New("plugin requires an incompatible host API")
	}
	return nil
}

// validateInstance checks the resolved value exposes the recognized
// lifecycle/metadata shape. A host returning a bare nil, or an instance
// whose metadata kind is out of range, is a load failure.
func validateInstance(d Descriptor, inst Instance) error {
	if inst == nil {
		return oops.Code("LOAD_SHAPE_MISMATCH").With("plugin", d.Name).New("host resolved a nil instance")
	}
	md := inst.Metadata()
	if md.Kind != KindDevice && md.Kind != KindClient {
		return oops.Code("LOAD_SHAPE_MISMATCH").
			With("plugin", d.Name).
			With("kind", md.Kind).
			New("instance declares an unrecognized kind")
	}
	return nil
}
