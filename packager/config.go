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

package packager

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver"
)

// Config is the packager's TOML application descriptor, grounded on
// original_source/packager/src/main.rs's Config/Kernel/Output/Task/
// Peripheral/Supervisor structs.
type Config struct {
	SchemaVersion string                `toml:"schema-version"`
	Name          string                `toml:"name"`
	Target        string                `toml:"target"`
	Kernel        Kernel                `toml:"kernel"`
	Outputs       map[string]Output     `toml:"outputs"`
	Tasks         map[string]Task       `toml:"tasks"`
	Peripherals   map[string]Peripheral `toml:"peripherals"`
	Supervisor    *Supervisor           `toml:"supervisor"`
}

type Kernel struct {
	Path     string         `toml:"path"`
	Name     string         `toml:"name"`
	Requires map[string]uint32 `toml:"requires"`
	Features []string       `toml:"features"`
}

type Supervisor struct {
	Notification uint32 `toml:"notification"`
}

type Output struct {
	Address uint32 `toml:"address"`
	Size    uint32 `toml:"size"`
	Read    bool   `toml:"read"`
	Write   bool   `toml:"write"`
	Execute bool   `toml:"execute"`
}

type Task struct {
	Path       string            `toml:"path"`
	Name       string            `toml:"name"`
	Requires   map[string]uint32 `toml:"requires"`
	Priority   uint32            `toml:"priority"`
	Uses       []string          `toml:"uses"`
	Start      bool              `toml:"start"`
	Features   []string          `toml:"features"`
	Interrupts map[string]uint32 `toml:"interrupts"`
}

type Peripheral struct {
	Address uint32 `toml:"address"`
	Size    uint32 `toml:"size"`
}

// LoadConfig decodes a TOML application descriptor and validates its
// schema-version field against the version range this packager
// understands.
func LoadConfig(data []byte, supportedRange string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("packager: decode config: %w", err)
	}
	if cfg.SchemaVersion != "" {
		if err := checkSchemaVersion(cfg.SchemaVersion, supportedRange); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// checkSchemaVersion parses cfg's schema-version field with
// Masterminds/semver and checks it against supportedRange (a semver
// constraint string, e.g. ">= 1.0.0, < 2.0.0").
func checkSchemaVersion(version, supportedRange string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("packager: schema-version %q: %w", version, err)
	}
	if supportedRange == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(supportedRange)
	if err != nil {
		return fmt.Errorf("packager: invalid supported range %q: %w", supportedRange, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("packager: schema-version %s does not satisfy %s", version, supportedRange)
	}
	return nil
}
