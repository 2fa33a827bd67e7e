package instant

import (
	"github.com/nasa-jpl/instacam/dispatch"
	"github.com/nasa-jpl/instacam/grab"
)

// ConfigurationHandler observes a camera's lifecycle.  Every field is
// optional; set only the hooks you need.  The On<X> hooks run before a
// transition and may veto it by returning an error, the On<X>ed hooks run
// after it.
//
// Hooks run on the goroutine performing the transition, except
// OnCameraDeviceRemoved, which runs on the camera's removal watcher.
type ConfigurationHandler struct {
	OnAttach, OnAttached   func(c *Camera) error
	OnDetach, OnDetached   func(c *Camera) error
	OnDestroy, OnDestroyed func(c *Camera) error
	OnOpen, OnOpened       func(c *Camera) error
	OnClose, OnClosed      func(c *Camera) error

	OnGrabStart, OnGrabStarted func(c *Camera) error
	OnGrabStop, OnGrabStopped  func(c *Camera) error

	// OnGrabError is told when the grab engine stops on its own because of
	// a transport failure
	OnGrabError func(c *Camera, err error)

	// OnCameraDeviceRemoved replaces OnClose/OnClosed when the device is unplugged
	OnCameraDeviceRemoved func(c *Camera) error

	// OnConfigurationRegistered and OnConfigurationDeregistered are told when
	// the handler joins or leaves a camera's chain
	OnConfigurationRegistered   func(c *Camera)
	OnConfigurationDeregistered func(c *Camera)

	// OnReleased is called when a camera that owns the handler lets go of it
	OnReleased func()
}

// Release satisfies dispatch.Releaser
func (h *ConfigurationHandler) Release() {
	if h.OnReleased != nil {
		h.OnReleased()
	}
}

// ImageEventHandler receives grab results.  In push mode the hooks run on the
// camera's grab loop goroutine; in pull mode they run inside RetrieveResult,
// before it returns.  The result is released after the dispatch unless a
// hook keeps it with Clone.
type ImageEventHandler struct {
	// OnImagesSkipped reports results dropped by the grab strategy since the
	// previous delivery.  It runs before OnImageGrabbed.
	OnImagesSkipped func(c *Camera, n int) error

	OnImageGrabbed func(c *Camera, r *grab.Result) error

	OnImageEventHandlerRegistered   func(c *Camera)
	OnImageEventHandlerDeregistered func(c *Camera)

	OnReleased func()
}

// Release satisfies dispatch.Releaser
func (h *ImageEventHandler) Release() {
	if h.OnReleased != nil {
		h.OnReleased()
	}
}

// CameraEventHandler is told when a device event has updated a node it was
// registered for.  UserID is the value given at registration, so one
// handler can serve several nodes.
type CameraEventHandler struct {
	OnCameraEvent func(c *Camera, userID int, node string) error

	OnReleased func()
}

// Release satisfies dispatch.Releaser
func (h *CameraEventHandler) Release() {
	if h.OnReleased != nil {
		h.OnReleased()
	}
}

// eventBinding is one camera event registration
type eventBinding struct {
	h      *CameraEventHandler
	node   string
	userID int
}

func (b *eventBinding) Release() {
	b.h.Release()
}

// RegisterConfiguration adds a configuration handler.  The handler's
// OnConfigurationRegistered hook runs right away.
func (c *Camera) RegisterConfiguration(h *ConfigurationHandler, mode dispatch.Mode, own dispatch.Ownership) {
	if mode == dispatch.ReplaceAll {
		for _, old := range c.config.Handlers() {
			if old.OnConfigurationDeregistered != nil {
				old.OnConfigurationDeregistered(c)
			}
		}
	}
	c.config.Register(h, mode, own)
	if h.OnConfigurationRegistered != nil {
		h.OnConfigurationRegistered(c)
	}
}

// DeregisterConfiguration removes one registration of h.  It is a no-op if h
// is not registered.
func (c *Camera) DeregisterConfiguration(h *ConfigurationHandler) bool {
	if !c.config.Contains(h) {
		return false
	}
	if h.OnConfigurationDeregistered != nil {
		h.OnConfigurationDeregistered(c)
	}
	return c.config.Deregister(h)
}

// RegisterImageEventHandler adds an image event handler
func (c *Camera) RegisterImageEventHandler(h *ImageEventHandler, mode dispatch.Mode, own dispatch.Ownership) {
	if mode == dispatch.ReplaceAll {
		for _, old := range c.images.Handlers() {
			if old.OnImageEventHandlerDeregistered != nil {
				old.OnImageEventHandlerDeregistered(c)
			}
		}
	}
	c.images.Register(h, mode, own)
	if h.OnImageEventHandlerRegistered != nil {
		h.OnImageEventHandlerRegistered(c)
	}
}

// DeregisterImageEventHandler removes one registration of h, if any
func (c *Camera) DeregisterImageEventHandler(h *ImageEventHandler) bool {
	if !c.images.Contains(h) {
		return false
	}
	if h.OnImageEventHandlerDeregistered != nil {
		h.OnImageEventHandlerDeregistered(c)
	}
	return c.images.Deregister(h)
}

// RegisterCameraEventHandler asks for h to be called with userID whenever a
// device event updates node.  The node does not have to exist yet; events
// are matched by name.
func (c *Camera) RegisterCameraEventHandler(h *CameraEventHandler, node string, userID int, mode dispatch.Mode, own dispatch.Ownership) {
	c.events.Register(&eventBinding{h: h, node: node, userID: userID}, mode, own)
}

// DeregisterCameraEventHandler removes the first registration of h for node
func (c *Camera) DeregisterCameraEventHandler(h *CameraEventHandler, node string) bool {
	return c.events.DeregisterFunc(func(b *eventBinding) bool {
		return b.h == h && b.node == node
	})
}

// SetConfigurationPolicy, SetImageEventPolicy, and SetCameraEventPolicy choose
// whether a failing handler stops the rest of its chain
func (c *Camera) SetConfigurationPolicy(p dispatch.Policy) {
	c.config.SetPolicy(p)
}

// SetImageEventPolicy see SetConfigurationPolicy
func (c *Camera) SetImageEventPolicy(p dispatch.Policy) {
	c.images.SetPolicy(p)
}

// SetCameraEventPolicy see SetConfigurationPolicy
func (c *Camera) SetCameraEventPolicy(p dispatch.Policy) {
	c.events.SetPolicy(p)
}

// fire runs one lifecycle hook across the configuration chain
func (c *Camera) fire(pick func(*ConfigurationHandler) func(*Camera) error) error {
	return c.config.Dispatch(func(h *ConfigurationHandler) error {
		if fn := pick(h); fn != nil {
			return fn(c)
		}
		return nil
	})
}

func (c *Camera) dispatchImage(r *grab.Result) error {
	skipped := r.NumberOfSkippedImages()
	return c.images.Dispatch(func(h *ImageEventHandler) error {
		if skipped > 0 && h.OnImagesSkipped != nil {
			if err := h.OnImagesSkipped(c, skipped); err != nil {
				return err
			}
		}
		if h.OnImageGrabbed != nil {
			return h.OnImageGrabbed(c, r)
		}
		return nil
	})
}

func (c *Camera) dispatchCameraEvent(nodes []string) error {
	return c.events.Dispatch(func(b *eventBinding) error {
		if b.h.OnCameraEvent == nil {
			return nil
		}
		for _, n := range nodes {
			if n == b.node {
				return b.h.OnCameraEvent(c, b.userID, n)
			}
		}
		return nil
	})
}
