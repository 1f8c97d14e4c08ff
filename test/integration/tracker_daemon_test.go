// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

//go:build integration

package integration

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

// trackerDaemon emulates the platform tracking daemon's smartsocket
// protocol: hex-length-framed requests, OKAY/FAIL statuses, a streaming
// host:track-devices service and per-device property shells.
type trackerDaemon struct {
	ln net.Listener

	mu       sync.Mutex
	snapshot string
	props    map[string]map[string]string
	streams  []net.Conn
}

func startTrackerDaemon() (*trackerDaemon, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	d := &trackerDaemon{
		ln:    ln,
		props: make(map[string]map[string]string),
	}
	go d.serve()
	return d, nil
}

func (d *trackerDaemon) addr() string { return d.ln.Addr().String() }

func (d *trackerDaemon) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *trackerDaemon) handle(conn net.Conn) {
	r := bufio.NewReader(conn)
	req, err := readRequest(r)
	if err != nil {
		_ = conn.Close()
		return
	}

	switch {
	case req == "host:track-devices":
		d.mu.Lock()
		d.streams = append(d.streams, conn)
		snapshot := d.snapshot
		d.mu.Unlock()
		_, _ = io.WriteString(conn, "OKAY")
		writeFrame(conn, snapshot)
		// The connection stays open; updates arrive via setDevices.

	case req == "host:devices":
		d.mu.Lock()
		snapshot := d.snapshot
		d.mu.Unlock()
		_, _ = io.WriteString(conn, "OKAY")
		writeFrame(conn, snapshot)
		_ = conn.Close()

	case strings.HasPrefix(req, "host:transport:"):
		serial := strings.TrimPrefix(req, "host:transport:")
		d.mu.Lock()
		props, known := d.props[serial]
		d.mu.Unlock()
		if !known {
			_, _ = io.WriteString(conn, "FAIL")
			writeFrame(conn, "device '"+serial+"' not found")
			_ = conn.Close()
			return
		}
		_, _ = io.WriteString(conn, "OKAY")
		if shellReq, err := readRequest(r); err == nil && shellReq == "shell:getprop" {
			_, _ = io.WriteString(conn, "OKAY")
			for k, v := range props {
				fmt.Fprintf(conn, "[%s]: [%s]\n", k, v)
			}
		}
		_ = conn.Close()

	default:
		_, _ = io.WriteString(conn, "FAIL")
		writeFrame(conn, "unknown service "+req)
		_ = conn.Close()
	}
}

// setDevices replaces the device snapshot and pushes it to every open
// tracking stream, mirroring the daemon's notify-on-change behavior.
func (d *trackerDaemon) setDevices(lines ...string) {
	payload := ""
	if len(lines) > 0 {
		payload = strings.Join(lines, "\n") + "\n"
	}

	d.mu.Lock()
	d.snapshot = payload
	streams := append([]net.Conn(nil), d.streams...)
	d.mu.Unlock()

	for _, conn := range streams {
		writeFrame(conn, payload)
	}
}

func (d *trackerDaemon) setProperties(serial string, props map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.props[serial] = props
}

// hangupStreams closes every tracking connection, simulating a daemon
// restart. The snapshot survives for the reconnect.
func (d *trackerDaemon) hangupStreams() {
	d.mu.Lock()
	streams := d.streams
	d.streams = nil
	d.mu.Unlock()

	for _, conn := range streams {
		_ = conn.Close()
	}
}

func (d *trackerDaemon) close() {
	_ = d.ln.Close()
	d.hangupStreams()
}

func readRequest(r *bufio.Reader) (string, error) {
	lenHex := make([]byte, 4)
	if _, err := io.ReadFull(r, lenHex); err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(string(lenHex), 16, 32)
	if err != nil {
		return "", err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", err
	}
	return string(payload), nil
}

func writeFrame(w io.Writer, payload string) {
	fmt.Fprintf(w, "%04x%s", len(payload), payload)
}
