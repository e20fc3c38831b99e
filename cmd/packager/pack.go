// Copyright 2024 The Taskkernel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main implements the packager CLI: the §4.L image packager
// that merges board-overlay TOML into a base app descriptor and
// allocates each task's memory requests out of the descriptor's output
// pools. It wraps the packager library package; it holds no parsing or
// allocation logic of its own.
package main

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/oxidecomputer/taskkernel/packager"
)

// decodeTOMLMap decodes a TOML document into the generic map shape
// packager.MergeTOML operates over.
func decodeTOMLMap(data []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("packager: decode: %w", err)
	}
	return m, nil
}

// mergeOverlays deep-merges each overlay document into base in order,
// the way applying a sequence of board-specific patches on top of a
// generic app descriptor would.
func mergeOverlays(base map[string]interface{}, overlays [][]byte) (map[string]interface{}, error) {
	merged := base
	for _, overlay := range overlays {
		patch, err := decodeTOMLMap(overlay)
		if err != nil {
			return nil, err
		}
		merged, err = packager.MergeTOML(merged, patch)
		if err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// reencodeConfig round-trips a merged generic TOML map back through
// BurntSushi/toml's struct decoder to get a typed packager.Config,
// since MergeTOML necessarily operates on the untyped map shape.
func reencodeConfig(merged map[string]interface{}) (*packager.Config, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(merged); err != nil {
		return nil, fmt.Errorf("packager: re-encode merged document: %w", err)
	}
	return packager.LoadConfig(buf.Bytes(), "")
}

// encodeMergedForDisplay renders a merged generic TOML map back to
// text for the merge subcommand's output, without round-tripping it
// through packager.Config (merge's caller may not have a full valid
// descriptor, just a fragment worth inspecting).
func encodeMergedForDisplay(merged map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(merged); err != nil {
		return "", fmt.Errorf("packager: encode merged document: %w", err)
	}
	return buf.String(), nil
}

// memoryPlan is one task's carved-out ranges across every output pool
// it declared a requirement against.
type memoryPlan struct {
	Task   string
	Ranges map[string]packager.Range
}

// planMemory runs packager.Allocate once per task, in a stable
// (alphabetical) task order so two runs against the same descriptor
// produce the same layout regardless of Go's map iteration order.
func planMemory(cfg *packager.Config) ([]memoryPlan, error) {
	free := make(map[string]*packager.Range, len(cfg.Outputs))
	for name, out := range cfg.Outputs {
		r := packager.Range{Start: out.Address, End: out.Address + out.Size}
		free[name] = &r
	}

	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	plans := make([]memoryPlan, 0, len(names))
	for _, name := range names {
		t := cfg.Tasks[name]
		if len(t.Requires) == 0 {
			continue
		}
		taken, err := packager.Allocate(free, t.Requires)
		if err != nil {
			return nil, fmt.Errorf("packager: allocating for task %q: %w", name, err)
		}
		plans = append(plans, memoryPlan{Task: name, Ranges: taken})
	}
	return plans, nil
}
