package bolt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ValentinKolb/nKV/lib/db/util"
	"github.com/rcrowley/go-metrics"
)

// profile records per-operation latencies of one engine instance.
// A nil *profile records nothing.
type profile struct {
	registry metrics.Registry
	sizes    *util.SizeHistogram
}

func newProfile() *profile {
	return &profile{
		registry: metrics.NewRegistry(),
		sizes:    util.NewSizeHistogram(),
	}
}

// track records the latency of op, started at start
func (p *profile) track(op string, start time.Time) {
	if p == nil {
		return
	}
	metrics.GetOrRegisterTimer(op, p.registry).UpdateSince(start)
}

// value records the size of a written value
func (p *profile) value(size int) {
	if p == nil {
		return
	}
	p.sizes.AddSample(size)
}

// String renders one line per operation, sorted by name
func (p *profile) String() string {
	if p == nil {
		return ""
	}

	type row struct {
		name  string
		timer metrics.Timer
	}
	var rows []row
	p.registry.Each(func(name string, i interface{}) {
		if t, ok := i.(metrics.Timer); ok {
			rows = append(rows, row{name, t.Snapshot()})
		}
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	var sb strings.Builder
	sb.WriteString("latency profile\n")
	for _, r := range rows {
		ps := r.timer.Percentiles([]float64{0.5, 0.99})
		sb.WriteString(fmt.Sprintf("  %-14s count=%-8d mean=%-10s p50=%-10s p99=%-10s max=%s\n",
			r.name,
			r.timer.Count(),
			time.Duration(r.timer.Mean()).Round(time.Microsecond),
			time.Duration(ps[0]).Round(time.Microsecond),
			time.Duration(ps[1]).Round(time.Microsecond),
			time.Duration(r.timer.Max()).Round(time.Microsecond),
		))
	}
	sb.WriteString(fmt.Sprintf("  %-14s %s\n", "value sizes", p.sizes))
	return sb.String()
}

// close stops the timers' background meters
func (p *profile) close() {
	if p == nil {
		return
	}
	p.registry.UnregisterAll()
}
