package probe

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/vigilstack/vigil-heal/internal/models"
)

// LoadProbe reports the 1-minute load average normalised to CPU count,
// as a percentage. 100 means one runnable task per core.
type LoadProbe struct {
	// Path overrides /proc/loadavg in tests.
	Path string
}

func (p *LoadProbe) Name() string { return "cpu_load_pct" }

func (p *LoadProbe) Sample(_ context.Context) (models.Value, error) {
	path := p.Path
	if path == "" {
		path = "/proc/loadavg"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Unknown(), fmt.Errorf("read %s: %w", path, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return models.Unknown(), fmt.Errorf("malformed loadavg %q", strings.TrimSpace(string(data)))
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return models.Unknown(), fmt.Errorf("parse loadavg: %w", err)
	}

	cores := float64(runtime.NumCPU())
	return models.Numeric(load / cores * 100), nil
}

// MemoryProbe reports used memory as a percentage of MemTotal, derived
// from MemAvailable in /proc/meminfo.
type MemoryProbe struct {
	Path string
}

func (p *MemoryProbe) Name() string { return "mem_used_pct" }

func (p *MemoryProbe) Sample(_ context.Context) (models.Value, error) {
	path := p.Path
	if path == "" {
		path = "/proc/meminfo"
	}
	f, err := os.Open(path)
	if err != nil {
		return models.Unknown(), fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var totalKB, availableKB float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			totalKB = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			availableKB = parseMeminfoKB(line)
		}
		if totalKB > 0 && availableKB > 0 {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return models.Unknown(), fmt.Errorf("scan %s: %w", path, err)
	}
	if totalKB <= 0 {
		return models.Unknown(), fmt.Errorf("missing MemTotal in %s", path)
	}

	used := (totalKB - availableKB) / totalKB * 100
	return models.Numeric(used), nil
}

func parseMeminfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0
	}
	return v
}

// DiskProbe reports used space on a mount point as a percentage.
type DiskProbe struct {
	Mount string
}

func (p *DiskProbe) Name() string { return "disk_used_pct" }

func (p *DiskProbe) Sample(_ context.Context) (models.Value, error) {
	mount := p.Mount
	if mount == "" {
		mount = "/"
	}

	var st syscall.Statfs_t
	if err := syscall.Statfs(mount, &st); err != nil {
		return models.Unknown(), fmt.Errorf("statfs %s: %w", mount, err)
	}
	if st.Blocks == 0 {
		return models.Unknown(), fmt.Errorf("statfs %s: zero total blocks", mount)
	}

	used := float64(st.Blocks-st.Bavail) / float64(st.Blocks) * 100
	return models.Numeric(used), nil
}
