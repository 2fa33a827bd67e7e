package instant

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/nasa-jpl/instacam/grab"
)

// printer serializes writes from handlers running on different goroutines
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(c *color.Color, format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.Fprintf(p.w, format, args...)
}

var (
	configColor = color.New(color.FgCyan)
	imageColor  = color.New(color.FgGreen)
	failColor   = color.New(color.FgRed)
	eventColor  = color.New(color.FgYellow)
)

func hook(p *printer, name string) func(*Camera) error {
	return func(c *Camera) error {
		p.printf(configColor, "%s %s\n", name, c.DeviceInfo())
		return nil
	}
}

// ConfigurationEventPrinter writes a line to w for every lifecycle event
func ConfigurationEventPrinter(w io.Writer) *ConfigurationHandler {
	p := &printer{w: w}
	return &ConfigurationHandler{
		OnAttach:      hook(p, "OnAttach"),
		OnAttached:    hook(p, "OnAttached"),
		OnOpen:        hook(p, "OnOpen"),
		OnOpened:      hook(p, "OnOpened"),
		OnGrabStart:   hook(p, "OnGrabStart"),
		OnGrabStarted: hook(p, "OnGrabStarted"),
		OnGrabStop:    hook(p, "OnGrabStop"),
		OnGrabStopped: hook(p, "OnGrabStopped"),
		OnClose:       hook(p, "OnClose"),
		OnClosed:      hook(p, "OnClosed"),
		OnDestroy:     hook(p, "OnDestroy"),
		OnDestroyed:   hook(p, "OnDestroyed"),
		OnDetach:      hook(p, "OnDetach"),
		OnDetached:    hook(p, "OnDetached"),
		OnGrabError: func(c *Camera, err error) {
			p.printf(failColor, "OnGrabError %s: %v\n", c.DeviceInfo(), err)
		},
		OnCameraDeviceRemoved: func(c *Camera) error {
			p.printf(failColor, "OnCameraDeviceRemoved %s\n", c.DeviceInfo())
			return nil
		},
	}
}

// ImageEventPrinter writes the size, first pixel, and status of every result
func ImageEventPrinter(w io.Writer) *ImageEventHandler {
	p := &printer{w: w}
	return &ImageEventHandler{
		OnImagesSkipped: func(c *Camera, n int) error {
			p.printf(eventColor, "OnImagesSkipped: %d images skipped\n", n)
			return nil
		},
		OnImageGrabbed: func(c *Camera, r *grab.Result) error {
			p.printf(imageColor, "%s\n", describe(r))
			return nil
		},
	}
}

// describe summarizes a result the way the grab samples print it
func describe(r *grab.Result) string {
	if !r.GrabSucceeded() {
		return fmt.Sprintf("OnImageGrabbed: block %d failed: %#x %s", r.BlockID(), r.ErrorCode(), r.ErrorDescription())
	}
	first := "none"
	if buf := r.Buffer(); len(buf) > 0 {
		first = fmt.Sprint(buf[0])
	}
	return fmt.Sprintf("OnImageGrabbed: block %d, %dx%d %s, gray value of first pixel %s",
		r.BlockID(), r.Width(), r.Height(), r.PixelFormat(), first)
}

// CameraEventPrinter writes the node's value for every camera event
func CameraEventPrinter(w io.Writer) *CameraEventHandler {
	p := &printer{w: w}
	return &CameraEventHandler{
		OnCameraEvent: func(c *Camera, userID int, node string) error {
			v, err := c.NodeMap().ValueString(node)
			if err != nil {
				v = err.Error()
			}
			p.printf(eventColor, "OnCameraEvent %d: %s = %s\n", userID, node, v)
			return nil
		},
	}
}
