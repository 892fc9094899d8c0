// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package host reports system resource facts the pipeline sizes itself by.
package host

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// MemoryInfo holds system memory statistics.
type MemoryInfo struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AvailableBytes uint64
}

const memInfoPath = "/proc/meminfo"

// GetMemoryInfo reads /proc/meminfo, falling back to sysinfo(2) where the
// procfs file is unavailable.
func GetMemoryInfo() (*MemoryInfo, error) {
	info, err := readMemInfo(memInfoPath)
	if err == nil {
		return info, nil
	}

	var si unix.Sysinfo_t
	if serr := unix.Sysinfo(&si); serr != nil {
		return nil, err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	return &MemoryInfo{
		TotalBytes: uint64(si.Totalram) * unit,
		FreeBytes:  uint64(si.Freeram) * unit,
		// sysinfo has no MemAvailable equivalent; free is the conservative stand-in.
		AvailableBytes: uint64(si.Freeram) * unit,
	}, nil
}

func readMemInfo(path string) (*MemoryInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info := &MemoryInfo{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		// Field format: "Key: VALUE kB"
		val, _ := strconv.ParseUint(fields[1], 10, 64)
		valBytes := val * 1024

		switch fields[0] {
		case "MemTotal:":
			info.TotalBytes = valBytes
		case "MemFree:":
			info.FreeBytes = valBytes
		case "MemAvailable:":
			info.AvailableBytes = valBytes
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Older kernels do not report MemAvailable.
	if info.AvailableBytes == 0 {
		info.AvailableBytes = info.FreeBytes
	}

	return info, nil
}
