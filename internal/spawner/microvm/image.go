package microvm

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"

	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

const (
	imgOverhead = 64 * 1024
	minImgSize  = 1 * 1024 * 1024

	launcherHeader = "#!/bin/sh\nset -e\n"
)

// buildBinaryImage packages binaryPath and a generated launcher script into
// a FAT-formatted raw disk image at imagePath, sized to the binary plus a
// fixed FAT overhead, rounded up to the next power of two.
func buildBinaryImage(imagePath, binaryPath string, env map[string]string) error {
	info, err := os.Stat(binaryPath)
	if err != nil {
		return apierrors.New(apierrors.SpawnFailed, "stat artifact").WithCause(err)
	}

	size := nextPowerOfTwo(info.Size() + imgOverhead)
	if size < minImgSize {
		size = minImgSize
	}

	d, err := diskfs.Create(imagePath, size, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return apierrors.New(apierrors.SpawnFailed, "create disk image").WithCause(err)
	}

	fs, err := d.CreateFilesystem(disk.FilesystemSpec{Partition: 0, FSType: filesystem.TypeFat32, VolumeLabel: "SVC"})
	if err != nil {
		return apierrors.New(apierrors.SpawnFailed, "format fat32 volume").WithCause(err)
	}

	if err := copyIntoVolume(fs, "service", binaryPath); err != nil {
		return err
	}

	launcher, err := fs.OpenFile("launch", os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return apierrors.New(apierrors.SpawnFailed, "create launcher").WithCause(err)
	}
	defer launcher.Close()
	if _, err := launcher.Write([]byte(buildLauncherScript(env))); err != nil {
		return apierrors.New(apierrors.SpawnFailed, "write launcher").WithCause(err)
	}
	return nil
}

func copyIntoVolume(fs filesystem.FileSystem, name, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return apierrors.New(apierrors.SpawnFailed, "open artifact").WithCause(err)
	}
	defer src.Close()

	dst, err := fs.OpenFile(name, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return apierrors.New(apierrors.SpawnFailed, "create volume entry").WithCause(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return apierrors.New(apierrors.SpawnFailed, "write volume entry").WithCause(err)
	}
	return nil
}

// buildLauncherScript mirrors the VM's boot contract: /launch runs as
// the init program and execs the packaged /service binary.
func buildLauncherScript(env map[string]string) string {
	script := launcherHeader
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		script += fmt.Sprintf("export %s=%q\n", k, env[k])
	}
	script += "exec /srv/service\n"
	return script
}

func nextPowerOfTwo(n int64) int64 {
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}
