// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

// Command gen-schema generates the plugin manifest JSON Schema file.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/tracedeck/tracedeck/internal/plugin"
)

// sampleManifest exercises every manifest field. It is validated against
// the freshly generated schema so a generation regression fails here
// rather than at the next bridge start.
const sampleManifest = `plugins:
  - name: device-logs
    title: Device Logs
    version: 1.0.0
    api-version: ">= 1.0, < 2"
  - name: netinspect
    bundle: bundles/netinspect.lua
    gatekeeper: experiments.netinspect
`

func main() {
	outPath := pflag.String("out", filepath.Join("schemas", "plugin-manifest.schema.json"), "schema output path")
	pflag.Parse()

	schema, err := plugin.GenerateSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
		os.Exit(1)
	}

	if err := plugin.ValidateSchema([]byte(sampleManifest)); err != nil {
		fmt.Fprintf(os.Stderr, "Generated schema rejects a canonical manifest: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(*outPath), 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*outPath, schema, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s\n", *outPath)
}
