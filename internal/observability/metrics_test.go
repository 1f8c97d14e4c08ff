// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

package observability_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracedeck/tracedeck/internal/device"
	"github.com/tracedeck/tracedeck/internal/observability"
)

func TestRegistryMutationsDriveDeviceMetrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())

	// The action counters are cumulative across the process; assert deltas.
	registerBase := testutil.ToFloat64(m.ActionsTotal.WithLabelValues("register-device"))
	unregisterBase := testutil.ToFloat64(m.ActionsTotal.WithLabelValues("unregister-devices"))

	r := device.NewRegistry()
	r.Register(device.Handle{ID: "serial-1"})
	r.Register(device.Handle{ID: "emulator-5554", Kind: device.KindEmulator})

	require.Equal(t, 2.0, testutil.ToFloat64(m.DevicesLive))
	require.Equal(t, 0.0, testutil.ToFloat64(m.DevicesArchived))

	r.Archive("serial-1")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DevicesLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DevicesArchived))

	assert.Equal(t, registerBase+2, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("register-device")))
	assert.Equal(t, unregisterBase+1, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("unregister-devices")))
}

func TestRegistryMetricsSupersedeOnReconnect(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())

	r := device.NewRegistry()
	r.Register(device.Handle{ID: "serial-1"})
	r.Archive("serial-1")
	r.Register(device.Handle{ID: "serial-1"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DevicesLive))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DevicesArchived))
}
