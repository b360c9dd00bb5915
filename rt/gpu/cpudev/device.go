// Package cpudev is a software implementation of gpu.Backend. Images and
// buffers live in host memory with the exact byte layout the WGSL shaders
// see, and passes run the rt/kernel functions on a bounded worker pool.
package cpudev

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/gpu"
)

type Options struct {
	// Workers bounds the number of concurrently traced row tiles.
	// Zero means GOMAXPROCS.
	Workers int
	// TileRows is the number of image rows per task. Zero means 8.
	TileRows int
	// MemoryLimit caps the bytes of live resources. Zero is unlimited.
	MemoryLimit uint64
}

type Device struct {
	opts Options
	log  core.Logger

	mu      sync.Mutex
	used    uint64
	lost    error
	closed  bool
	submits int
	history []gpu.PassKind
}

const historyLen = 64

func New(opts Options, log core.Logger) *Device {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.TileRows <= 0 {
		opts.TileRows = 8
	}
	return &Device{opts: opts, log: core.OrNop(log)}
}

func (d *Device) Name() string { return "cpu" }

type image struct {
	dev  *Device
	desc gpu.ImageDesc
	data []byte
	once sync.Once
}

func (i *image) Release() {
	i.once.Do(func() { i.dev.unreserve(uint64(len(i.data))) })
}

type buffer struct {
	dev  *Device
	desc gpu.BufferDesc
	data []byte
	once sync.Once
}

func (b *buffer) Release() {
	b.once.Do(func() { b.dev.unreserve(uint64(len(b.data))) })
}

func (d *Device) checkLocked() error {
	if d.closed {
		return fmt.Errorf("cpudev: %w", core.ErrClosed)
	}
	if d.lost != nil {
		return d.lost
	}
	return nil
}

func (d *Device) reserve(n uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(); err != nil {
		return err
	}
	if d.opts.MemoryLimit > 0 && d.used+n > d.opts.MemoryLimit {
		return fmt.Errorf("cpudev: %w: %d bytes requested, %d of %d in use",
			core.ErrResourceExhaustion, n, d.used, d.opts.MemoryLimit)
	}
	d.used += n
	return nil
}

func (d *Device) unreserve(n uint64) {
	d.mu.Lock()
	d.used -= n
	d.mu.Unlock()
}

// Used reports the bytes held by live resources.
func (d *Device) Used() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Resource, error) {
	size := desc.ByteSize()
	if err := d.reserve(size); err != nil {
		return nil, err
	}
	return &image{dev: d, desc: desc, data: make([]byte, size)}, nil
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Resource, error) {
	if err := d.reserve(desc.Size); err != nil {
		return nil, err
	}
	return &buffer{dev: d, desc: desc, data: make([]byte, desc.Size)}, nil
}

func (d *Device) WriteBuffer(res gpu.Resource, offset uint64, data []byte) error {
	d.mu.Lock()
	err := d.checkLocked()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	b, ok := res.(*buffer)
	if !ok {
		return fmt.Errorf("cpudev: write into %T", res)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("cpudev: write past end of %q", b.desc.Label)
	}
	copy(b.data[offset:], data)
	return nil
}

func (d *Device) ReadImage(ctx context.Context, res gpu.Resource) ([]byte, error) {
	d.mu.Lock()
	err := d.checkLocked()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	img, ok := res.(*image)
	if !ok {
		return nil, fmt.Errorf("cpudev: read from %T", res)
	}
	out := make([]byte, len(img.data))
	copy(out, img.data)
	return out, nil
}

// Lose simulates losing the device: in-flight work fails and every later
// call returns an error wrapping core.ErrDeviceLost.
func (d *Device) Lose(reason string) {
	d.mu.Lock()
	d.lost = fmt.Errorf("cpudev: %w: %s", core.ErrDeviceLost, reason)
	d.mu.Unlock()
}

// Submissions counts accepted submissions.
func (d *Device) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

// History returns the kinds of the most recently executed passes, oldest
// first.
func (d *Device) History() []gpu.PassKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpu.PassKind(nil), d.history...)
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warnf("cpudev: device already closed")
		return nil
	}
	d.closed = true
	if d.used != 0 {
		d.log.Warnf("cpudev: closing with %d bytes still allocated", d.used)
	}
	return nil
}
