// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/tracedeck/tracedeck/internal/action"
	"github.com/tracedeck/tracedeck/internal/plugin"
	"github.com/tracedeck/tracedeck/internal/plugin/builtins"
	"github.com/tracedeck/tracedeck/internal/plugin/lua"
)

var _ = Describe("Plugin admission", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		tmpDir   string
		manifest string
		luaHost  *lua.Host
	)

	writeFile := func(name, content string) string {
		path := filepath.Join(tmpDir, name)
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
		return path
	}

	newPipeline := func(disabled []string, gatekeeperFile string) *plugin.Pipeline {
		compiled := plugin.NewBuiltins()
		Expect(builtins.RegisterAll(compiled)).To(Succeed())

		loader := plugin.NewBundleLoader(compiled, plugin.WithLuaHost(luaHost))

		var gate plugin.Gatekeeper
		if gatekeeperFile != "" {
			gate = plugin.NewFileGatekeeper(gatekeeperFile, nil)
		}
		return plugin.NewPipeline(plugin.NewDisabledSet(disabled, nil), gate, loader)
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)

		var err error
		tmpDir, err = os.MkdirTemp("", "tracedeck-admission-*")
		Expect(err).NotTo(HaveOccurred())

		luaHost = lua.NewHost()
	})

	AfterEach(func() {
		Expect(luaHost.Close(ctx)).To(Succeed())
		cancel()
		Expect(os.RemoveAll(tmpDir)).To(Succeed())
	})

	It("admits builtins and script bundles through one manifest", func() {
		writeFile("netinspect.lua", `
plugin = {
  name = "netinspect",
  title = "Network Inspector",
  version = "2.0.0",
  kind = "client",
}
actions = {
  { id = "clear", title = "Clear Requests", accelerator = "ctrl+k" },
}
`)
		manifest = writeFile("plugins.yaml", `
plugins:
  - name: device-logs
  - name: netinspect
    bundle: `+filepath.Join(tmpDir, "netinspect.lua")+`
  - name: crash-watcher
`)

		manager := plugin.NewManager(manifest, newPipeline([]string{"crash-*"}, ""))
		defer func() { _ = manager.Close() }()
		Expect(manager.Refresh(ctx)).To(Succeed())

		part := plugin.PartitionOutcomes(manager.Outcomes())
		Expect(part.Failed).To(BeEmpty())
		Expect(part.Gatekept).To(BeEmpty())
		Expect(part.Disabled).To(HaveLen(1))
		Expect(part.Disabled[0].Name).To(Equal("crash-watcher"))

		var admitted []string
		for _, p := range part.Admitted {
			admitted = append(admitted, p.RuntimeID())
		}
		Expect(admitted).To(ConsistOf("device-logs", "netinspect"))
	})

	It("wires admitted plugin actions into the accelerator registry", func() {
		manifest = writeFile("plugins.yaml", "plugins:\n  - name: device-logs\n")

		actions := action.NewRegistry()
		manager := plugin.NewManager(manifest, newPipeline(nil, ""),
			plugin.WithRefreshHook(func(p plugin.Partition) {
				Expect(actions.Sync(p.Admitted)).To(BeEmpty())
			}),
		)
		defer func() { _ = manager.Close() }()
		Expect(manager.Refresh(ctx)).To(Succeed())

		actions.ActivateFor("device-logs")
		active := actions.Active()
		Expect(active).To(HaveLen(2))
		Expect(active[0].ActionID).To(Equal("clear"))
	})

	It("gates plugins behind the feature-flag snapshot", func() {
		gatefile := writeFile("gates.json", `{"experiments.device-logs": false}`)
		manifest = writeFile("plugins.yaml", `
plugins:
  - name: device-logs
    gatekeeper: experiments.device-logs
`)

		manager := plugin.NewManager(manifest, newPipeline(nil, gatefile))
		defer func() { _ = manager.Close() }()
		Expect(manager.Refresh(ctx)).To(Succeed())

		part := plugin.PartitionOutcomes(manager.Outcomes())
		Expect(part.Admitted).To(BeEmpty())
		Expect(part.Gatekept).To(HaveLen(1))
	})

	It("re-admits when a watched bundle changes", func() {
		bundle := writeFile("marker.lua", "plugin = { name = \"marker\", kind = \"device\" }\n")
		manifest = writeFile("plugins.yaml", "plugins:\n  - name: marker\n    bundle: "+bundle+"\n")

		var refreshes atomic.Int32
		manager := plugin.NewManager(manifest, newPipeline(nil, ""),
			plugin.WithRefreshHook(func(plugin.Partition) { refreshes.Add(1) }),
		)
		defer func() { _ = manager.Close() }()

		Expect(manager.Refresh(ctx)).To(Succeed())
		Expect(manager.Watch(ctx, tmpDir)).To(Succeed())

		Expect(os.WriteFile(bundle, []byte("plugin = { name = \"marker\", kind = \"client\" }\n"), 0o600)).To(Succeed())

		Eventually(func() int32 { return refreshes.Load() }, 5*time.Second, 50*time.Millisecond).
			Should(BeNumerically(">=", 2))

		Eventually(func() plugin.Kind {
			admitted := manager.Admitted()
			if len(admitted) != 1 {
				return plugin.KindDevice
			}
			return admitted[0].Metadata.Kind
		}, 5*time.Second, 50*time.Millisecond).Should(Equal(plugin.KindClient))
	})
})
