package hooks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	st "github.com/showwin/speedtest-go/speedtest"

	"adaptived/internal/task/model"
)

// HealthReport is the payload of a Health run.
type HealthReport struct {
	MemoryPct     float64       `json:"memory_pct"`
	Load1         float64       `json:"load1"`
	LatencyServer string        `json:"latency_server,omitempty"`
	Latency       time.Duration `json:"latency,omitempty"`
	LatencyError  string        `json:"latency_error,omitempty"`
}

// Health checks host memory and load. When the task params ask for a
// latency check and the check is enabled, it also pings the nearest
// speedtest server.
type Health struct {
	MaxMemoryPct   float64
	LatencyCheck   bool
	LatencyTimeout time.Duration

	memory func(ctx context.Context) (float64, error)
	load1  func(ctx context.Context) (float64, error)
	ping   func(ctx context.Context) (string, time.Duration, error)
}

func NewHealth(maxMemoryPct float64, latencyCheck bool, latencyTimeout time.Duration) *Health {
	if maxMemoryPct <= 0 {
		maxMemoryPct = 95
	}
	if latencyTimeout <= 0 {
		latencyTimeout = 10 * time.Second
	}
	return &Health{
		MaxMemoryPct:   maxMemoryPct,
		LatencyCheck:   latencyCheck,
		LatencyTimeout: latencyTimeout,
		memory:         hostMemory,
		load1:          hostLoad1,
		ping:           nearestServerPing,
	}
}

func (h *Health) Execute(ctx context.Context, _ model.Category, params model.Params) (Result, error) {
	memPct, err := h.memory(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read memory: %w", err)
	}
	rep := HealthReport{MemoryPct: memPct}
	// Load average is unavailable on some platforms; report what we have.
	if l, err := h.load1(ctx); err == nil {
		rep.Load1 = l
	}

	if h.LatencyCheck && params.Bool("network_check") {
		pctx, cancel := context.WithTimeout(ctx, h.LatencyTimeout)
		name, lat, err := h.ping(pctx)
		cancel()
		if err != nil {
			rep.LatencyError = err.Error()
		} else {
			rep.LatencyServer = name
			rep.Latency = lat
		}
	}

	if memPct > h.MaxMemoryPct {
		return Result{OK: false, Payload: rep}, fmt.Errorf("memory at %.1f%% exceeds %.1f%%", memPct, h.MaxMemoryPct)
	}
	return Result{OK: true, Payload: rep}, nil
}

func hostMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func hostLoad1(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

// nearestServerPing pings the closest speedtest server by distance.
func nearestServerPing(ctx context.Context) (string, time.Duration, error) {
	stc := st.New()
	defer stc.Reset()

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return "", 0, fmt.Errorf("no speedtest servers available")
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	s := servers[0]
	if err := s.PingTestContext(ctx, nil); err != nil {
		return "", 0, fmt.Errorf("ping %s: %w", s.Host, err)
	}
	return s.Sponsor, s.Latency, nil
}
