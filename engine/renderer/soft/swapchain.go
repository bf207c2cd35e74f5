package soft

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

type SwapchainOptions struct {
	Width       uint32
	Height      uint32
	Format      gpu.Format
	ColorSpace  gpu.ColorSpace
	BufferCount uint32
	// DumpDir receives a BMP of every DumpEvery-th presented frame. Empty disables dumps.
	DumpDir   string
	DumpEvery uint32
}

// Swapchain is an offscreen swapchain. Back buffers start in the present state.
type Swapchain struct {
	device  *Device
	opts    SwapchainOptions
	buffers []*resource
	rtvHeap *descriptorHeap
	current uint32
	frames  uint64
}

func NewSwapchain(device *Device, opts SwapchainOptions) (*Swapchain, error) {
	if opts.BufferCount == 0 {
		opts.BufferCount = 2
	}
	if opts.Format == gpu.FormatUnknown {
		opts.Format = gpu.FormatB8G8R8A8Unorm
	}
	if opts.ColorSpace == gpu.ColorSpaceHDR10 && opts.Format != gpu.FormatR10G10B10A2Unorm {
		return nil, fmt.Errorf("%w: HDR10 needs a %s swapchain", gpu.ErrUnsupported, gpu.FormatR10G10B10A2Unorm)
	}
	heap, err := device.CreateDescriptorHeap(gpu.HeapKindRTV, opts.BufferCount, false)
	if err != nil {
		return nil, err
	}
	sc := &Swapchain{device: device, opts: opts, rtvHeap: heap.(*descriptorHeap)}
	if err := sc.createBuffers(); err != nil {
		heap.Release()
		return nil, err
	}
	if opts.DumpDir != "" {
		if err := os.MkdirAll(opts.DumpDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create frame dump directory: %w", err)
		}
	}
	return sc, nil
}

func (s *Swapchain) createBuffers() error {
	s.buffers = s.buffers[:0]
	for i := uint32(0); i < s.opts.BufferCount; i++ {
		res, err := s.device.CreateCommittedResource(gpu.HeapDefault,
			gpu.Tex2DDesc(s.opts.Format, uint64(s.opts.Width), s.opts.Height, 1, gpu.ResourceFlagAllowRenderTarget),
			gpu.StatePresent, nil)
		if err != nil {
			return err
		}
		res.SetName(fmt.Sprintf("back buffer %d", i))
		if err := s.device.CreateRenderTargetView(res, nil, s.rtvHeap.CPUStart().Offset(i, s.rtvHeap.Stride())); err != nil {
			return err
		}
		s.buffers = append(s.buffers, res.(*resource))
	}
	s.current = 0
	return nil
}

func (s *Swapchain) Width() uint32 { return s.opts.Width }

func (s *Swapchain) Height() uint32 { return s.opts.Height }

func (s *Swapchain) Format() gpu.Format { return s.opts.Format }

func (s *Swapchain) ColorSpace() gpu.ColorSpace { return s.opts.ColorSpace }

func (s *Swapchain) BufferCount() uint32 { return s.opts.BufferCount }

func (s *Swapchain) CurrentBackBufferIndex() uint32 { return s.current }

func (s *Swapchain) CurrentBackBuffer() gpu.Resource { return s.buffers[s.current] }

func (s *Swapchain) CurrentRTV() gpu.CPUDescriptorHandle {
	return s.rtvHeap.CPUStart().Offset(s.current, s.rtvHeap.Stride())
}

func (s *Swapchain) Resize(width, height uint32) error {
	if s.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	for _, b := range s.buffers {
		b.Release()
	}
	s.opts.Width, s.opts.Height = width, height
	return s.createBuffers()
}

func (s *Swapchain) Present(_ uint32) error {
	if s.device.IsRemoved() {
		return gpu.ErrDeviceRemoved
	}
	bb := s.buffers[s.current]
	if bb.state != gpu.StatePresent {
		s.device.validationError("%s: presented while in %s", bb.label(), bb.state)
	}
	if s.opts.DumpDir != "" && s.opts.DumpEvery > 0 && s.frames%uint64(s.opts.DumpEvery) == 0 {
		path := filepath.Join(s.opts.DumpDir, fmt.Sprintf("frame_%06d.bmp", s.frames))
		if err := dumpBMP(bb, path); err != nil {
			core.LogWarn("failed to dump frame %d: %s", s.frames, err)
		}
	}
	s.frames++
	s.current = (s.current + 1) % s.opts.BufferCount
	return nil
}

// Frames is the number of presented frames.
func (s *Swapchain) Frames() uint64 { return s.frames }

func (s *Swapchain) Release() {
	for _, b := range s.buffers {
		b.Release()
	}
	s.buffers = nil
	s.rtvHeap.Release()
}

func dumpBMP(r *resource, path string) error {
	img := image.NewRGBA(image.Rect(0, 0, int(r.desc.Width), int(r.desc.Height)))
	for y := 0; y < int(r.desc.Height); y++ {
		for x := 0; x < int(r.desc.Width); x++ {
			t := r.Texel(uint32(x), uint32(y), 0, 0)
			img.SetRGBA(x, y, color.RGBA{R: unorm8(t[0]), G: unorm8(t[1]), B: unorm8(t[2]), A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return bmp.Encode(f, img)
}
