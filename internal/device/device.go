// Package device tracks attached devices and emulators and keeps the
// device registry in sync with the platform tracking daemon.
package device

import "strings"

// Kind identifies how a device is attached.
type Kind uint8

const (
	KindPhysical Kind = iota
	KindEmulator
)

func (k Kind) String() string {
	switch k {
	case KindPhysical:
		return "physical"
	case KindEmulator:
		return "emulator"
	default:
		return "unknown"
	}
}

// emulatorSerialPrefix marks serials assigned to local emulator consoles,
// e.g. "emulator-5554" where 5554 is the console port.
const emulatorSerialPrefix = "emulator-"

// KindForSerial infers the attachment kind from a platform serial.
func KindForSerial(serial string) Kind {
	if strings.HasPrefix(serial, emulatorSerialPrefix) {
		return KindEmulator
	}
	return KindPhysical
}

// Transport is the handle used to open forwarded ports to a device.
// It is owned exclusively by the Handle that carries it.
type Transport struct {
	Serial string
	Addr   string // tracking daemon address the transport routes through
}

// Handle represents one attached device known to the registry.
//
// Exactly one non-archived Handle exists per live serial. An archived
// Handle is retained after disconnect so open panels referencing the
// serial stay valid, and is superseded (removed, not merged) when the
// same serial reconnects.
type Handle struct {
	ID          string
	Kind        Kind
	DisplayName string
	Transport   Transport
	Archived    bool
}

// TrackEventKind identifies a tracking stream event.
type TrackEventKind uint8

const (
	TrackAdd TrackEventKind = iota
	TrackChange
	TrackRemove
)

func (k TrackEventKind) String() string {
	switch k {
	case TrackAdd:
		return "add"
	case TrackChange:
		return "change"
	case TrackRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Device states reported by the tracking daemon. Anything other than
// StateOffline counts as connectable for registration purposes.
const (
	StateDevice       = "device"
	StateOffline      = "offline"
	StateUnauthorized = "unauthorized"
)

// TrackEvent is one entry of the device tracking stream.
type TrackEvent struct {
	Kind   TrackEventKind
	Serial string
	State  string
}

// Online reports whether the event describes a connectable device.
func (e TrackEvent) Online() bool {
	return e.Kind != TrackRemove && e.State != StateOffline
}
