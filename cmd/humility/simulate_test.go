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

package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxidecomputer/taskkernel/domain"
	"github.com/oxidecomputer/taskkernel/kernel/caboose"
	"github.com/oxidecomputer/taskkernel/packager"
)

func sampleSimConfig() *packager.Config {
	return &packager.Config{
		Name: "demo",
		Tasks: map[string]packager.Task{
			"jefe":    {Name: "jefe", Priority: 0, Start: true},
			"sensors": {Name: "sensors", Priority: 2, Start: true},
			"idle":    {Name: "idle", Priority: 5, Start: false},
		},
		Supervisor: &packager.Supervisor{Notification: 1},
	}
}

func TestBuildTaskConfigsPutsSupervisorFirst(t *testing.T) {
	configs := buildTaskConfigs(sampleSimConfig())
	require.Len(t, configs, 3)
	assert.Equal(t, "jefe", configs[0].Name)
	// remaining tasks are alphabetically ordered after the supervisor.
	assert.Equal(t, "idle", configs[1].Name)
	assert.Equal(t, "sensors", configs[2].Name)
}

func TestNewSimulatorAssignsSupervisorIndexZero(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	sim := newSimulator(sampleSimConfig(), log)

	require.NotNil(t, sim.supervisor)
	assert.Equal(t, domain.TaskIndex(0), sim.indexOf["jefe"])
}

func TestRunTicksAdvancesKernelClock(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	sim := newSimulator(sampleSimConfig(), log)

	results := runTicks(sim.kernel, domain.Ticks(10), 5)
	require.Len(t, results, 5)
	assert.Equal(t, domain.Ticks(50), results[4].Now)
}

func TestExtractBuildTagsDecodesWrittenRecords(t *testing.T) {
	w := caboose.NewWriter()
	w.Put(caboose.TagVersion, []byte("1.2.3"))
	w.Put(caboose.TagBoard, []byte("gimletlet"))

	tags, err := extractBuildTags(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", tags["VERS"])
	assert.Equal(t, "gimletlet", tags["BORD"])
}

func TestExtractBuildTagsPropagatesTruncationError(t *testing.T) {
	_, err := extractBuildTags([]byte{1, 2, 3})
	assert.Error(t, err)
}
