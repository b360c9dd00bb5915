package pathtracer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loov/hrtime"
)

// Profiler records host-side scope timings for the stats overlay and logs.
type Profiler struct {
	Scopes     map[string]time.Duration
	StartTimes map[string]time.Duration
	Counts     map[string]int
	Order      []string

	now func() time.Duration
}

func NewProfiler() *Profiler {
	return &Profiler{
		Scopes:     make(map[string]time.Duration),
		StartTimes: make(map[string]time.Duration),
		Counts:     make(map[string]int),
		now:        hrtime.Now,
	}
}

func (p *Profiler) BeginScope(name string) {
	p.StartTimes[name] = p.now()
	if _, ok := p.Scopes[name]; !ok {
		p.Order = append(p.Order, name)
		p.Scopes[name] = 0
	}
}

func (p *Profiler) EndScope(name string) {
	if start, ok := p.StartTimes[name]; ok {
		p.Scopes[name] = p.now() - start
	}
}

func (p *Profiler) SetCount(name string, count int) {
	p.Counts[name] = count
}

// Reset zeroes the timings but keeps the scope order.
func (p *Profiler) Reset() {
	for k := range p.Scopes {
		p.Scopes[k] = 0
	}
}

func (p *Profiler) GetStatsString() string {
	var sb strings.Builder

	sb.WriteString("Timings (CPU):\n")
	for _, name := range p.Order {
		ms := float64(p.Scopes[name].Microseconds()) / 1000.0
		sb.WriteString(fmt.Sprintf("  %-15s: %.2f ms\n", name, ms))
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.Counts))
	for k := range p.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-15s: %d\n", k, p.Counts[k]))
	}
	return sb.String()
}

const (
	fpsInterval     = 500 * time.Millisecond
	renderSmoothing = 0.01
)

// FPSMeter counts presented frames over half-second windows and keeps an
// exponentially smoothed frame render time.
type FPSMeter struct {
	start  time.Duration
	frames int
	fps    float64

	renderMS float64
	seeded   bool
}

// Frame records one presented frame at now. It reports whether the FPS
// value was recomputed.
func (m *FPSMeter) Frame(now time.Duration) bool {
	if m.frames == 0 && m.start == 0 {
		m.start = now
	}
	m.frames++
	elapsed := now - m.start
	if elapsed <= fpsInterval {
		return false
	}
	m.fps = float64(m.frames) / elapsed.Seconds()
	m.frames = 0
	m.start = now
	return true
}

// RenderTime folds one measured frame time into the smoothed value.
func (m *FPSMeter) RenderTime(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	if !m.seeded {
		m.renderMS, m.seeded = ms, true
		return
	}
	m.renderMS += (ms - m.renderMS) * renderSmoothing
}

func (m *FPSMeter) FPS() float64 { return m.fps }

// RenderMS is the smoothed render time in milliseconds.
func (m *FPSMeter) RenderMS() float64 { return m.renderMS }
