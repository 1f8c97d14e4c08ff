// Package plugin provides plugin admission, loading and lifecycle control.
package plugin

import (
	"encoding/json"
	"log/slog"
	"os"
	"regexp"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// DynamicDescriptorEnv names the environment variable holding a JSON array
// of descriptors supplied at launch, e.g. by a development wrapper.
const DynamicDescriptorEnv = "TRACEDECK_DYNAMIC_PLUGINS"

// Descriptor is the static metadata of an installable plugin, independent
// of its loaded implementation. Descriptors are discovered once at startup
// and immutable thereafter.
type Descriptor struct {
	// Name is the stable identifier used for disable-list and gatekeeper
	// matching. Required.
	Name string `yaml:"name" json:"name"`

	// ID is the runtime identity and is reserved for the implementation.
	// A manifest that sets it is rejected during admission.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`

	// GatekeeperKey gates availability behind a feature flag. Absent means
	// always admitted, subject to the disable list.
	GatekeeperKey string `yaml:"gatekeeper,omitempty" json:"gatekeeper,omitempty"`

	// BundleLocation is the path to load the implementation from. Absent
	// means a built-in implementation registered under Name.
	BundleLocation string `yaml:"bundle,omitempty" json:"bundle,omitempty"`

	// APIVersion constrains the host plugin API, e.g. ">= 1.0, < 2".
	// Absent means any.
	APIVersion string `yaml:"api-version,omitempty" json:"api-version,omitempty"`

	// Backfillable presentation metadata. Descriptor values are defaults:
	// they fill gaps on the loaded implementation, never override it.
	Title   string `yaml:"title,omitempty" json:"title,omitempty"`
	Icon    string `yaml:"icon,omitempty" json:"icon,omitempty"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with a lowercase letter,
// followed by lowercase letters, digits, or hyphens, not ending with a
// hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Validate checks descriptor constraints.
func (d *Descriptor) Validate() error {
	if d.Name == "" || !namePattern.MatchString(d.Name) {
		return oops.Code("DESCRIPTOR_NAME_INVALID").With("name", d.Name).
			Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", d.Name)
	}
	if len(d.Name) > maxNameLength {
		return oops.Code("DESCRIPTOR_NAME_INVALID").With("name", d.Name).
			Errorf("name must be %d characters or less, got %d", maxNameLength, len(d.Name))
	}
	return nil
}

// bundledManifest is the on-disk shape of the bundled plugin manifest.
type bundledManifest struct {
	Plugins []Descriptor `yaml:"plugins" json:"plugins"`
}

// ParseBundledManifest parses the bundled YAML manifest. Descriptors that
// fail validation are rejected as a whole: the bundled manifest ships with
// the application, so a broken entry is a packaging bug.
func ParseBundledManifest(data []byte) ([]Descriptor, error) {
	if len(data) == 0 {
		return nil, oops.Code("MANIFEST_EMPTY").New("manifest data is empty")
	}

	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var m bundledManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code("MANIFEST_INVALID").Hint("invalid YAML").Wrap(err)
	}

	for i := range m.Plugins {
		if err := m.Plugins[i].Validate(); err != nil {
			return nil, err
		}
	}
	return m.Plugins, nil
}

// LoadBundledManifest reads and parses the manifest at path. A missing
// file yields an empty descriptor list.
func LoadBundledManifest(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.Code("MANIFEST_UNREADABLE").With("path", path).Wrap(err)
	}
	return ParseBundledManifest(data)
}

// DynamicDescriptors parses the environment-supplied descriptor list.
//
// The value is best-effort input from outside the process: malformed JSON
// or an invalid entry degrades to an empty list, logged and absorbed.
func DynamicDescriptors(logger *slog.Logger) []Descriptor {
	if logger == nil {
		logger = slog.Default()
	}

	raw := os.Getenv(DynamicDescriptorEnv)
	if raw == "" {
		return nil
	}

	var descs []Descriptor
	if err := json.Unmarshal([]byte(raw), &descs); err != nil {
		logger.Warn("malformed dynamic plugin list, ignoring",
			"env", DynamicDescriptorEnv,
			"error", err,
		)
		return nil
	}

	valid := descs[:0]
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			logger.Warn("invalid dynamic plugin descriptor, skipping",
				"name", d.Name,
				"error", err,
			)
			continue
		}
		valid = append(valid, d)
	}
	return valid
}
