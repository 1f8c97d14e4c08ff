// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/tracedeck/tracedeck/internal/device"
	"github.com/tracedeck/tracedeck/internal/history"
)

var _ = Describe("Device tracking", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		daemon   *trackerDaemon
		registry *device.Registry
		watcher  *device.Watcher
		repo     *history.SQLiteRepository
		recorder *history.Recorder
		tmpDir   string
	)

	liveSerials := func() []string {
		var out []string
		for _, h := range registry.Live() {
			out = append(out, h.ID)
		}
		return out
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)

		var err error
		daemon, err = startTrackerDaemon()
		Expect(err).NotTo(HaveOccurred())

		tmpDir, err = os.MkdirTemp("", "tracedeck-integration-*")
		Expect(err).NotTo(HaveOccurred())

		registry = device.NewRegistry()

		repo, err = history.Open(filepath.Join(tmpDir, "history.db"))
		Expect(err).NotTo(HaveOccurred())
		recorder = history.NewRecorder(repo, registry, nil)
		recorder.Start(ctx)

		client := device.NewClient(daemon.addr())
		watcher = device.NewWatcher(client, registry,
			device.WithTransportAddr(daemon.addr()),
		)
		watcher.Start(ctx)
	})

	AfterEach(func() {
		watcher.Stop()
		<-watcher.Done()
		recorder.Stop()
		Expect(repo.Close()).To(Succeed())
		daemon.close()
		cancel()
		Expect(os.RemoveAll(tmpDir)).To(Succeed())
	})

	It("registers an attached device with its model name", func() {
		daemon.setProperties("R5CT20ABCDE", map[string]string{
			"ro.product.model": "SM-G998B",
		})
		daemon.setDevices("R5CT20ABCDE\tdevice")

		Eventually(liveSerials, 5*time.Second, 50*time.Millisecond).
			Should(ConsistOf("R5CT20ABCDE"))

		h, ok := registry.Get("R5CT20ABCDE")
		Expect(ok).To(BeTrue())
		Expect(h.DisplayName).To(Equal("SM-G998B"))
		Expect(h.Kind).To(Equal(device.KindPhysical))
		Expect(h.Transport.Addr).To(Equal(daemon.addr()))
	})

	It("archives a detached device and persists both transitions", func() {
		daemon.setProperties("emulator-5554", map[string]string{
			"ro.product.model": "sdk_gphone64_arm64",
		})
		daemon.setDevices("emulator-5554\tdevice")
		Eventually(liveSerials, 5*time.Second, 50*time.Millisecond).
			Should(ConsistOf("emulator-5554"))

		daemon.setDevices()
		Eventually(liveSerials, 5*time.Second, 50*time.Millisecond).Should(BeEmpty())

		Eventually(func() ([]history.Event, error) {
			return repo.Recent(ctx, "emulator-5554", 10)
		}, 5*time.Second, 50*time.Millisecond).Should(HaveLen(2))

		events, err := repo.Recent(ctx, "emulator-5554", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events[0].Kind).To(Equal(history.EventArchived))
		Expect(events[1].Kind).To(Equal(history.EventConnected))
	})

	It("never registers a device reported offline", func() {
		daemon.setDevices("R5CT20ABCDE\toffline")

		Consistently(liveSerials, 1*time.Second, 50*time.Millisecond).Should(BeEmpty())
	})

	It("archives everything on a daemon restart and re-registers after reconnect", func() {
		daemon.setProperties("R5CT20ABCDE", map[string]string{
			"ro.product.model": "SM-G998B",
		})
		daemon.setDevices("R5CT20ABCDE\tdevice")
		Eventually(liveSerials, 5*time.Second, 50*time.Millisecond).
			Should(ConsistOf("R5CT20ABCDE"))

		daemon.hangupStreams()
		Eventually(liveSerials, 5*time.Second, 50*time.Millisecond).Should(BeEmpty())

		// The snapshot survives the restart; the reconnected stream replays it.
		Eventually(liveSerials, 5*time.Second, 50*time.Millisecond).
			Should(ConsistOf("R5CT20ABCDE"))
	})

	It("falls back to the serial when the property shell fails", func() {
		// No properties registered for this serial: the transport request fails.
		daemon.setDevices("0099ffaa\tdevice")

		Eventually(liveSerials, 5*time.Second, 50*time.Millisecond).
			Should(ConsistOf("0099ffaa"))
		h, _ := registry.Get("0099ffaa")
		Expect(h.DisplayName).To(Equal("0099ffaa"))
	})
})
