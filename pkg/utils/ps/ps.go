package ps

import (
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

func CPUStatus() (CPU, error) {
	list, err := cpu.Percent(time.Millisecond*50, false)
	if err != nil {
		return CPU{}, err
	}
	if len(list) == 0 {
		return CPU{}, nil
	}

	return CPU{
		Percent: list[0],
	}, nil
}

func MemoryStatus() (Memory, error) {
	memory, err := mem.VirtualMemory()
	if err != nil {
		return Memory{}, err
	}
	swapMemory, err := mem.SwapMemory()
	if err != nil {
		return Memory{}, err
	}

	return Memory{
		Total:       memory.Total,
		Used:        memory.Used,
		UsedPercent: memory.UsedPercent,

		SwapTotal:       swapMemory.Total,
		SwapUsed:        swapMemory.Used,
		SwapUsedPercent: swapMemory.UsedPercent,
	}, nil
}

func DiskStatus(path string) (Disk, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return Disk{}, err
	}

	return Disk{
		Total:       usage.Total,
		Used:        usage.Used,
		Free:        usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// DiskFree returns the bytes available on the filesystem holding path.
func DiskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}

	return usage.Free, nil
}

func DirDiskUsage(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return size, nil
}

type CPU struct {
	Percent float64 `json:"percent"`
}

type Memory struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`

	SwapTotal       uint64  `json:"swapTotal"`
	SwapUsed        uint64  `json:"swapUsed"`
	SwapUsedPercent float64 `json:"swapUsedPercent"`
}

type Disk struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"usedPercent"`
}
