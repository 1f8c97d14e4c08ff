package device

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// consoleProbeTimeout bounds the emulator console name lookup. The probe is
// best-effort: on timeout the caller keeps the raw platform name.
const consoleProbeTimeout = time.Second

// EmulatorTool lists locally installable emulator images.
type EmulatorTool interface {
	ListInstallable(ctx context.Context) []string
}

// CommandRunner abstracts process execution for testing.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// AVDTool lists installable emulator images by shelling out to the
// platform emulator binary.
type AVDTool struct {
	binary string
	run    CommandRunner
	logger *slog.Logger
}

// Compile-time interface check.
var _ EmulatorTool = (*AVDTool)(nil)

// NewAVDTool creates an AVDTool. Empty binary selects "emulator" from PATH;
// a nil logger selects slog.Default.
func NewAVDTool(binary string, logger *slog.Logger) *AVDTool {
	if binary == "" {
		binary = "emulator"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AVDTool{binary: binary, run: runCommand, logger: logger}
}

// ListInstallable returns the names of installable emulator images.
//
// Failures never propagate: a missing tool or non-zero exit is logged and
// yields an empty list, so callers can always treat the result as "what we
// know right now".
func (t *AVDTool) ListInstallable(ctx context.Context) []string {
	out, err := t.run(ctx, t.binary, "-list-avds")
	if err != nil {
		t.logger.Warn("emulator image enumeration failed",
			"binary", t.binary,
			"error", err,
		)
		return nil
	}

	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		// Newer emulator builds prepend an INFO banner line.
		if line == "" || strings.HasPrefix(line, "INFO") {
			continue
		}
		names = append(names, line)
	}
	return names
}

// ConsolePort extracts the console port from an emulator serial like
// "emulator-5554".
func ConsolePort(serial string) (int, error) {
	raw, ok := strings.CutPrefix(serial, emulatorSerialPrefix)
	if !ok {
		return 0, oops.Code("EMULATOR_SERIAL_INVALID").With("serial", serial).New("serial has no emulator prefix")
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, oops.Code("EMULATOR_SERIAL_INVALID").With("serial", serial).Wrap(err)
	}
	return port, nil
}

// ConsoleNamer resolves emulator display names.
type ConsoleNamer interface {
	Name(ctx context.Context, serial string) (string, error)
}

// ConsoleProbe resolves an emulator's image name over its local console
// port. The console greets with a banner terminated by an "OK" line,
// answers "avd name" with the name and another "OK".
type ConsoleProbe struct {
	host   string
	dialer net.Dialer
}

// Compile-time interface check.
var _ ConsoleNamer = (*ConsoleProbe)(nil)

// NewConsoleProbe creates a probe against host (empty selects loopback).
func NewConsoleProbe(host string) *ConsoleProbe {
	if host == "" {
		host = "127.0.0.1"
	}
	return &ConsoleProbe{host: host}
}

// Name performs the console round-trip for one emulator serial. The whole
// exchange is bounded by consoleProbeTimeout.
func (p *ConsoleProbe) Name(ctx context.Context, serial string) (string, error) {
	port, err := ConsolePort(serial)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, consoleProbeTimeout)
	defer cancel()

	addr := net.JoinHostPort(p.host, strconv.Itoa(port))
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", oops.Code("EMULATOR_CONSOLE_UNREACHABLE").With("addr", addr).Wrap(err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	r := bufio.NewReader(conn)
	if err := readUntilOK(r); err != nil {
		return "", oops.Code("EMULATOR_CONSOLE_PROTOCOL").With("addr", addr).Hint("banner not terminated").Wrap(err)
	}

	if _, err := conn.Write([]byte("avd name\n")); err != nil {
		return "", oops.Code("EMULATOR_CONSOLE_WRITE_FAILED").With("addr", addr).Wrap(err)
	}

	name := ""
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", oops.Code("EMULATOR_CONSOLE_PROTOCOL").With("addr", addr).Wrap(err)
		}
		line = strings.TrimSpace(line)
		if line == "OK" {
			break
		}
		if line != "" {
			name = line
		}
	}
	if name == "" {
		return "", oops.Code("EMULATOR_CONSOLE_PROTOCOL").With("addr", addr).New("console returned no name")
	}
	return name, nil
}

func readUntilOK(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "OK" {
			return nil
		}
	}
}
