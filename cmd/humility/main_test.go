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
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func profilingContext(t *testing.T, cpu, mem bool) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.Bool("cpu-profiling", cpu, "")
	set.Bool("memory-profiling", mem, "")
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestRunProfilerRejectsBothFlags(t *testing.T) {
	_, err := runProfiler(profilingContext(t, true, true))
	assert.Error(t, err)
}

func TestRunProfilerNoopWhenNeitherFlagSet(t *testing.T) {
	prof, err := runProfiler(profilingContext(t, false, false))
	require.NoError(t, err)
	assert.Nil(t, prof)
}
