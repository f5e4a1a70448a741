// Copyright 2021 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSplit2(t *testing.T) {
	sep := byte('=')
	for _, testcase := range []string{
		"",
		"a=b",
		"=a=b=",
		"a=b=",
	} {
		expected := strings.SplitN(testcase, string(sep), 2)
		var actualL, actualR string
		var ok bool
		allocs := testing.AllocsPerRun(1, func() {
			actualL, actualR, ok = split2(testcase, sep)
		})
		require.Zero(t, allocs)
		require.True(t, len(expected) <= 2)
		if len(expected) < 2 {
			require.False(t, ok)
		} else {
			require.True(t, ok)
			require.Equal(t, expected[0], actualL)
			require.Equal(t, expected[1], actualR)
		}
	}
}

type cli struct {
	t              *testing.T
	stdout, stderr bytes.Buffer
}

func (c *cli) run(args ...string) error {
	c.stdout.Reset()
	c.stderr.Reset()
	return mainImpl(args, &c.stdout, &c.stderr)
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	c := &cli{t: t}

	storePath := filepath.Join(dir, "city.store")
	require.NoError(t, c.run("gen", "--prims", "20", "--samples", "3", "--seed", "1", "--codec", "zstd", storePath))

	readme := filepath.Join(dir, "README")
	require.NoError(t, os.WriteFile(readme, []byte("hello readme"), 0o644))
	pkg := filepath.Join(dir, "shot.pkg")
	require.NoError(t, c.run("--log-level", "debug", "pack", pkg, "city.store="+storePath, "docs/README="+readme))

	require.NoError(t, c.run("ls", pkg))
	assert.Contains(t, c.stdout.String(), "city.store")
	assert.Contains(t, c.stdout.String(), "docs/README")
	assert.Contains(t, c.stdout.String(), "2 files total")

	require.NoError(t, c.run("cat", pkg+"[docs/README]"))
	assert.Equal(t, "hello readme", c.stdout.String())

	require.NoError(t, c.run("verify", pkg))
	assert.Equal(t, 2, strings.Count(c.stdout.String(), "ok "))

	require.NoError(t, c.run("dump", "--prefix", "/World/mesh_00003", pkg+"[city.store]"))
	var specs []map[string]any
	require.NoError(t, yaml.Unmarshal(c.stdout.Bytes(), &specs))
	require.Len(t, specs, 2)
	assert.Equal(t, "/World/mesh_00003", specs[0]["path"])
	assert.Equal(t, "Prim", specs[0]["kind"])
	assert.Equal(t, "/World/mesh_00003.xformOp:translate", specs[1]["path"])
	fields := specs[1]["fields"].(map[string]any)
	assert.Len(t, fields["timeSamples"], 3)

	// a corrupted entry fails verification
	b, err := os.ReadFile(pkg)
	require.NoError(t, err)
	i := bytes.Index(b, []byte("hello readme"))
	require.True(t, i > 0)
	b[i] = 'j'
	require.NoError(t, os.WriteFile(pkg, b, 0o644))
	err = c.run("verify", pkg)
	require.Error(t, err)
	assert.Contains(t, c.stdout.String(), "FAIL")
}

func TestUsage(t *testing.T) {
	c := &cli{t: t}
	assert.ErrorIs(t, c.run(), errUsage)
	assert.Contains(t, c.stderr.String(), "commands:")

	assert.Error(t, c.run("frobnicate"))
	assert.Error(t, c.run("--log-level", "loud", "ls", "x"))

	err := c.run("cat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage: scenestore cat ID")
}
