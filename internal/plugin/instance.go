package plugin

import "context"

// APIVersion is the host plugin API version checked against descriptor
// api-version constraints.
const APIVersion = "1.3.0"

// Kind partitions plugins by what they attach to.
type Kind uint8

const (
	// KindDevice plugins attach to a device handle and inspect the device
	// itself (logs, layout, network).
	KindDevice Kind = iota
	// KindClient plugins attach to an app client connection.
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

// Metadata is the identity and presentation surface of a loaded plugin.
type Metadata struct {
	ID      string
	Name    string
	Title   string
	Icon    string
	Version string
	Kind    Kind
}

// Action is a keyboard action a plugin contributes to the menu.
type Action struct {
	ID          string
	Title       string
	Accelerator string
}

// Instance is the capability set every loaded implementation must expose.
// Resolved values that do not structurally satisfy it are load failures.
type Instance interface {
	// Metadata returns the implementation-declared identity. Empty fields
	// are backfilled from the descriptor during admission.
	Metadata() Metadata

	// Actions returns the keyboard actions the plugin contributes.
	Actions() []Action

	// Activate is called when the plugin gains focus.
	Activate(ctx context.Context) error

	// Deactivate is called when the plugin loses focus.
	Deactivate(ctx context.Context) error
}

// Loaded is an admitted plugin: the descriptor it came from, the resolved
// implementation, and the merged metadata view.
type Loaded struct {
	Descriptor Descriptor
	Instance   Instance
	Metadata   Metadata
}

// RuntimeID returns the plugin's runtime identity: the implementation id
// when declared, the descriptor name otherwise.
func (l *Loaded) RuntimeID() string {
	if l.Metadata.ID != "" {
		return l.Metadata.ID
	}
	return l.Descriptor.Name
}
