package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
)

// DefaultTrackerAddr is the default listen address of the platform
// tracking daemon.
const DefaultTrackerAddr = "127.0.0.1:5037"

// ErrTrackingClosed reports that the tracking connection was closed by the
// daemon. Watchers treat it as transient and reconnect; every other
// transport error is fatal to the watch.
var ErrTrackingClosed = errors.New("device tracking connection closed")

// TrackerClient is the subset of the platform daemon the watcher consumes.
type TrackerClient interface {
	// TrackDevices opens the tracking stream. Events are delivered in
	// daemon order until the stream terminates.
	TrackDevices(ctx context.Context) (*TrackStream, error)

	// GetProperties returns the system property map of one device.
	GetProperties(ctx context.Context, serial string) (map[string]string, error)
}

// Client speaks the daemon's smartsocket protocol: requests and responses
// are framed by a four-digit lowercase-hex length prefix, and every request
// is answered with an OKAY or FAIL status.
type Client struct {
	addr   string
	dialer net.Dialer
}

// Compile-time interface check.
var _ TrackerClient = (*Client)(nil)

// NewClient creates a client for the tracking daemon at addr. An empty
// addr selects DefaultTrackerAddr.
func NewClient(addr string) *Client {
	if addr == "" {
		addr = DefaultTrackerAddr
	}
	return &Client{addr: addr}
}

// Addr returns the daemon address the client dials.
func (c *Client) Addr() string { return c.addr }

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, oops.Code("TRACKER_DIAL_FAILED").With("addr", c.addr).Wrap(err)
	}
	return conn, nil
}

// writeRequest sends one hex-length-framed request.
func writeRequest(conn net.Conn, req string) error {
	if _, err := fmt.Fprintf(conn, "%04x%s", len(req), req); err != nil {
		return oops.Code("TRACKER_WRITE_FAILED").With("request", req).Wrap(err)
	}
	return nil
}

// readStatus consumes the four-byte status. A FAIL status carries a framed
// reason which is folded into the returned error.
func readStatus(r *bufio.Reader) error {
	status := make([]byte, 4)
	if _, err := io.ReadFull(r, status); err != nil {
		return wrapStreamErr(err)
	}
	switch string(status) {
	case "OKAY":
		return nil
	case "FAIL":
		reason, err := readFrame(r)
		if err != nil {
			return oops.Code("TRACKER_REQUEST_REJECTED").New("daemon rejected request")
		}
		return oops.Code("TRACKER_REQUEST_REJECTED").With("reason", reason).New("daemon rejected request")
	default:
		return oops.Code("TRACKER_PROTOCOL_ERROR").With("status", string(status)).New("unexpected status")
	}
}

// readFrame reads one hex-length-framed payload.
func readFrame(r *bufio.Reader) (string, error) {
	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, sizeBuf); err != nil {
		return "", wrapStreamErr(err)
	}
	var size int
	if _, err := fmt.Sscanf(string(sizeBuf), "%04x", &size); err != nil {
		return "", oops.Code("TRACKER_PROTOCOL_ERROR").With("prefix", string(sizeBuf)).New("malformed length prefix")
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", wrapStreamErr(err)
	}
	return string(payload), nil
}

// wrapStreamErr maps daemon hangups onto ErrTrackingClosed so callers can
// distinguish the reconnectable case.
func wrapStreamErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTrackingClosed
	}
	// Wrap rather than replace so local closes stay recognizable as
	// net.ErrClosed.
	var netErr *net.OpError
	if errors.Is(err, net.ErrClosed) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrTrackingClosed, err)
	}
	return oops.Code("TRACKER_READ_FAILED").Wrap(err)
}

// TrackStream is a live device tracking stream. Events are delivered on
// Events in arrival order; after the channel closes, Err reports why.
type TrackStream struct {
	conn      net.Conn
	events    chan TrackEvent
	done      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
	err       error
}

// Events returns the event channel. It closes when the stream ends.
func (s *TrackStream) Events() <-chan TrackEvent { return s.events }

// Err returns the terminal error after Events has closed. A nil error
// means the stream was closed locally via Close.
func (s *TrackStream) Err() error {
	<-s.done
	return s.err
}

// Close tears down the stream. Idempotent. Undelivered buffered events are
// discarded; the read goroutine observes quit even while blocked on a send.
func (s *TrackStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		err = s.conn.Close()
	})
	return err
}

// emit delivers one event unless the stream has been closed locally.
// Reports whether the read loop should keep going.
func (s *TrackStream) emit(ev TrackEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// TrackDevices subscribes to the daemon's device tracking service.
//
// The daemon answers with a full device snapshot after every change; the
// stream diffs consecutive snapshots into add, change and remove events so
// consumers see a per-device event sequence in daemon order.
func (c *Client) TrackDevices(ctx context.Context) (*TrackStream, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	r := bufio.NewReader(conn)
	if err := writeRequest(conn, "host:track-devices"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := readStatus(r); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &TrackStream{
		conn:   conn,
		events: make(chan TrackEvent, 16),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}

	go s.readLoop(r)

	// Tie stream lifetime to the caller's context.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

func (s *TrackStream) readLoop(r *bufio.Reader) {
	defer close(s.events)
	defer close(s.done)

	known := make(map[string]string) // serial -> last reported state

	for {
		payload, err := readFrame(r)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.err = err
			}
			return
		}

		seen := make(map[string]bool)
		for _, line := range strings.Split(payload, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			serial, state, ok := strings.Cut(line, "\t")
			if !ok {
				// Some daemon builds separate with runs of spaces.
				fields := strings.Fields(line)
				if len(fields) != 2 {
					continue
				}
				serial, state = fields[0], fields[1]
			}
			seen[serial] = true

			prev, existed := known[serial]
			known[serial] = state
			switch {
			case !existed:
				if !s.emit(TrackEvent{Kind: TrackAdd, Serial: serial, State: state}) {
					return
				}
			case prev != state:
				if !s.emit(TrackEvent{Kind: TrackChange, Serial: serial, State: state}) {
					return
				}
			}
		}

		for serial := range known {
			if !seen[serial] {
				delete(known, serial)
				if !s.emit(TrackEvent{Kind: TrackRemove, Serial: serial}) {
					return
				}
			}
		}
	}
}

// ListDevices queries the current device snapshot without subscribing to
// tracking. Each entry is a serial and its reported state.
func (c *Client) ListDevices(ctx context.Context) ([]TrackEvent, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	r := bufio.NewReader(conn)
	if err := writeRequest(conn, "host:devices"); err != nil {
		return nil, err
	}
	if err := readStatus(r); err != nil {
		return nil, err
	}
	payload, err := readFrame(r)
	if err != nil {
		return nil, wrapStreamErr(err)
	}

	var out []TrackEvent
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		serial, state, ok := strings.Cut(line, "\t")
		if !ok {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				continue
			}
			serial, state = fields[0], fields[1]
		}
		out = append(out, TrackEvent{Kind: TrackAdd, Serial: serial, State: state})
	}
	return out, nil
}

// propertyLine matches one line of property output: [key]: [value]
var propertyLine = regexp.MustCompile(`^\[([^\]]+)\]:\s*\[(.*)\]$`)

// GetProperties queries the full system property map of a device over a
// dedicated daemon connection.
func (c *Client) GetProperties(ctx context.Context, serial string) (map[string]string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	r := bufio.NewReader(conn)
	if err := writeRequest(conn, "host:transport:"+serial); err != nil {
		return nil, err
	}
	if err := readStatus(r); err != nil {
		return nil, oops.With("serial", serial).Wrap(err)
	}
	if err := writeRequest(conn, "shell:getprop"); err != nil {
		return nil, err
	}
	if err := readStatus(r); err != nil {
		return nil, oops.With("serial", serial).Wrap(err)
	}

	// Shell output is unframed and runs to EOF.
	out, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, oops.Code("TRACKER_READ_FAILED").With("serial", serial).Wrap(err)
	}

	props := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		m := propertyLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		props[m[1]] = m[2]
	}
	return props, nil
}

// propQueryTimeout bounds the secondary property round-trip during device
// registration. Failure falls back to the raw platform name.
const propQueryTimeout = 5 * time.Second
