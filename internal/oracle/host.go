package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"adaptived/internal/task/model"
)

const observeWindow = 50

type observation struct {
	ok  bool
	dur time.Duration
}

// Host reads the system vector from the local machine. ErrorRate and
// ResponseTimeMS come from the last observed hook outcomes.
type Host struct {
	diskPath  string
	cpuSample time.Duration

	cpuPct   func(ctx context.Context, sample time.Duration) (float64, error)
	memPct   func(ctx context.Context) (float64, error)
	diskPct  func(ctx context.Context, path string) (float64, error)
	connsNum func(ctx context.Context) (int, error)

	mu   sync.Mutex
	obs  [observeWindow]observation
	next int
	n    int
}

func NewHost(diskPath string, cpuSample time.Duration) *Host {
	if diskPath == "" {
		diskPath = "/"
	}
	if cpuSample <= 0 {
		cpuSample = 200 * time.Millisecond
	}
	return &Host{
		diskPath:  diskPath,
		cpuSample: cpuSample,
		cpuPct:    hostCPU,
		memPct:    hostMemory,
		diskPct:   hostDisk,
		connsNum:  hostConnections,
	}
}

func (h *Host) System(ctx context.Context) (model.SystemStatus, error) {
	cpuPct, err := h.cpuPct(ctx, h.cpuSample)
	if err != nil {
		return model.SystemStatus{}, fmt.Errorf("cpu: %w", err)
	}
	memPct, err := h.memPct(ctx)
	if err != nil {
		return model.SystemStatus{}, fmt.Errorf("memory: %w", err)
	}
	diskPct, err := h.diskPct(ctx, h.diskPath)
	if err != nil {
		return model.SystemStatus{}, fmt.Errorf("disk %s: %w", h.diskPath, err)
	}
	// Connection listing needs extra privileges on some hosts; report 0 then.
	conns, err := h.connsNum(ctx)
	if err != nil {
		conns = 0
	}
	errRate, respMS := h.recent()
	return model.SystemStatus{
		CPUPct:            cpuPct,
		MemoryPct:         memPct,
		DiskPct:           diskPct,
		ActiveConnections: conns,
		ErrorRate:         errRate,
		ResponseTimeMS:    respMS,
	}, nil
}

func (h *Host) Observe(ok bool, dur time.Duration) {
	h.mu.Lock()
	h.obs[h.next] = observation{ok: ok, dur: dur}
	h.next = (h.next + 1) % observeWindow
	if h.n < observeWindow {
		h.n++
	}
	h.mu.Unlock()
}

func (h *Host) recent() (errRate, respMS float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n == 0 {
		return 0, 0
	}
	var fails int
	var total time.Duration
	for i := 0; i < h.n; i++ {
		o := h.obs[i]
		if !o.ok {
			fails++
		}
		total += o.dur
	}
	return float64(fails) / float64(h.n), float64(total.Milliseconds()) / float64(h.n)
}

func hostCPU(ctx context.Context, sample time.Duration) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, sample, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("no cpu samples")
	}
	return pcts[0], nil
}

func hostMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func hostDisk(ctx context.Context, path string) (float64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}

func hostConnections(ctx context.Context) (int, error) {
	cs, err := net.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return 0, err
	}
	return len(cs), nil
}
