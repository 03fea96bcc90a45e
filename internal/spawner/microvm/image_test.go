package microvm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int64]int64{
		0:         1,
		1:         1,
		2:         2,
		3:         4,
		1024:      1024,
		1025:      2048,
		70*1024*1024 + 1: 134217728,
	}
	for in, want := range cases {
		assert.Equal(t, want, nextPowerOfTwo(in), "input %d", in)
	}
}

func TestBuildLauncherScript_ContainsSortedExports(t *testing.T) {
	script := buildLauncherScript(map[string]string{"B": "2", "A": "1"})
	assert.Contains(t, script, "#!/bin/sh")
	assert.Contains(t, script, `export A="1"`)
	assert.Contains(t, script, `export B="2"`)
	assert.Contains(t, script, "exec /srv/service")
	assert.Less(t, indexOf(script, "A="), indexOf(script, "B="))
}

func TestBuildBinaryImage_CreatesImageFile(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "svc")
	require.NoError(t, os.WriteFile(binPath, []byte("fake-elf-binary"), 0o755))

	imgPath := filepath.Join(dir, "svc.img")
	err := buildBinaryImage(imgPath, binPath, map[string]string{"FOO": "bar"})
	require.NoError(t, err)

	info, err := os.Stat(imgPath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.Size(), int64(minImgSize))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
