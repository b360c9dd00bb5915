// Package wgpudev runs the path tracing passes on a WebGPU device.
//
// The accumulation image is a storage buffer of vec4<f32> rather than a
// texture: core WebGPU has no read_write rgba32float storage textures. The
// display image is an rgba8unorm texture that the fullscreen blit samples.
package wgpudev

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gekko3d/pathtracer/rt/core"
	"github.com/gekko3d/pathtracer/rt/gpu"

	"github.com/cogentcore/webgpu/wgpu"
)

type Device struct {
	log core.Logger

	instance *wgpu.Instance // nil when the device is borrowed
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	pipes *pipelines

	mu     sync.Mutex
	lost   error
	closed bool
}

// New opens a headless device on the highest performance adapter.
func New(log core.Logger) (*Device, error) {
	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("wgpudev: request adapter: %w", err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("wgpudev: request device: %w", err)
	}

	d, err := newDevice(adapter, device, log)
	if err != nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, err
	}
	d.instance = instance
	return d, nil
}

// NewWithDevice wraps a device the caller already opened, typically one
// that also drives a window surface. Close leaves device and adapter alone.
func NewWithDevice(adapter *wgpu.Adapter, device *wgpu.Device, log core.Logger) (*Device, error) {
	return newDevice(adapter, device, log)
}

func newDevice(adapter *wgpu.Adapter, device *wgpu.Device, log core.Logger) (*Device, error) {
	d := &Device{
		log:     core.OrNop(log),
		adapter: adapter,
		device:  device,
		queue:   device.GetQueue(),
	}
	var err error
	d.pipes, err = newPipelines(device)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) Name() string { return "wgpu" }

// Native exposes the underlying device for presentation code.
func (d *Device) Native() (*wgpu.Adapter, *wgpu.Device, *wgpu.Queue) {
	return d.adapter, d.device, d.queue
}

func (d *Device) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("wgpudev: %w", core.ErrClosed)
	}
	return d.lost
}

// fail classifies a native error. Messages mentioning a lost device put the
// backend into the lost state for good.
func (d *Device) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "lost") {
		d.mu.Lock()
		if d.lost == nil {
			d.lost = fmt.Errorf("wgpudev: %w: %s: %v", core.ErrDeviceLost, op, err)
			d.log.Errorf("wgpudev: device lost during %s: %v", op, err)
		}
		lost := d.lost
		d.mu.Unlock()
		return lost
	}
	return fmt.Errorf("wgpudev: %s: %w", op, err)
}

// storageImage is an rgba32float image kept in a storage buffer, row major
// with no padding.
type storageImage struct {
	desc gpu.ImageDesc
	buf  *wgpu.Buffer
	once sync.Once
}

func (i *storageImage) Release() { i.once.Do(i.buf.Release) }

type textureImage struct {
	desc gpu.ImageDesc
	tex  *wgpu.Texture
	view *wgpu.TextureView
	once sync.Once
}

func (i *textureImage) Release() {
	i.once.Do(func() {
		i.view.Release()
		i.tex.Release()
	})
}

type buffer struct {
	desc gpu.BufferDesc
	buf  *wgpu.Buffer
	once sync.Once
}

func (b *buffer) Release() { b.once.Do(b.buf.Release) }

func bufferUsage(u gpu.Usage) wgpu.BufferUsage {
	usage := wgpu.BufferUsageCopyDst
	if u.Has(gpu.UsageUniform) {
		usage |= wgpu.BufferUsageUniform
	}
	if u&(gpu.UsageStorageRead|gpu.UsageStorageWrite) != 0 {
		usage |= wgpu.BufferUsageStorage
	}
	if u.Has(gpu.UsageCopySrc) {
		usage |= wgpu.BufferUsageCopySrc
	}
	return usage
}

func exhausted(label string, err error) error {
	return fmt.Errorf("wgpudev: allocate %q: %w: %v", label, core.ErrResourceExhaustion, err)
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Resource, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	switch desc.Format {
	case gpu.FormatRGBA32Float:
		buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: desc.Label,
			Size:  desc.ByteSize(),
			Usage: bufferUsage(desc.Usage) | wgpu.BufferUsageStorage,
		})
		if err != nil {
			return nil, exhausted(desc.Label, err)
		}
		return &storageImage{desc: desc, buf: buf}, nil

	case gpu.FormatRGBA8Unorm:
		usage := wgpu.TextureUsageCopyDst
		if desc.Usage.Has(gpu.UsageStorageWrite) {
			usage |= wgpu.TextureUsageStorageBinding
		}
		if desc.Usage.Has(gpu.UsageSampled) {
			usage |= wgpu.TextureUsageTextureBinding
		}
		if desc.Usage.Has(gpu.UsageCopySrc) {
			usage |= wgpu.TextureUsageCopySrc
		}
		tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
			Label:         desc.Label,
			Size:          wgpu.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension2D,
			Format:        wgpu.TextureFormatRGBA8Unorm,
			Usage:         usage,
		})
		if err != nil {
			return nil, exhausted(desc.Label, err)
		}
		view, err := tex.CreateView(nil)
		if err != nil {
			tex.Release()
			return nil, exhausted(desc.Label, err)
		}
		return &textureImage{desc: desc, tex: tex, view: view}, nil
	}
	return nil, fmt.Errorf("wgpudev: unsupported format %s", desc.Format)
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Resource, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	// WriteBuffer and uniform bindings want 4-byte multiples
	size := (desc.Size + 3) &^ 3
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, exhausted(desc.Label, err)
	}
	return &buffer{desc: desc, buf: buf}, nil
}

func (d *Device) WriteBuffer(res gpu.Resource, offset uint64, data []byte) error {
	if err := d.check(); err != nil {
		return err
	}
	b, ok := res.(*buffer)
	if !ok {
		return fmt.Errorf("wgpudev: write into %T", res)
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("wgpudev: write past end of %q", b.desc.Label)
	}
	if len(data) == 0 {
		return nil
	}
	if len(data)%4 != 0 {
		padded := make([]byte, (len(data)+3)&^3)
		copy(padded, data)
		data = padded
	}
	d.queue.WriteBuffer(b.buf, offset, data)
	return nil
}

// View returns the sampled view of a display image for the blit pass.
func (d *Device) View(res gpu.Resource) (*wgpu.TextureView, error) {
	img, ok := res.(*textureImage)
	if !ok {
		return nil, fmt.Errorf("wgpudev: %T has no texture view", res)
	}
	return img.view, nil
}

// Lose marks the device as lost. Every later call fails with
// core.ErrDeviceLost.
func (d *Device) Lose(reason string) {
	d.mu.Lock()
	if d.lost == nil {
		d.lost = fmt.Errorf("wgpudev: %w: %s", core.ErrDeviceLost, reason)
	}
	d.mu.Unlock()
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warnf("wgpudev: device already closed")
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.pipes.release()
	if d.instance != nil {
		d.device.Release()
		d.adapter.Release()
		d.instance.Release()
	}
	return nil
}

var errMapFailed = errors.New("map failed")
