/*Package tl brings the transport layers up and down and creates devices.

A Runtime brackets all device work.  Create one with Initialize and defer its
Terminate; there is no process wide instance, so tests and programs that
drive several independent sets of transports do not interfere.
*/
package tl

import (
	"errors"
	"fmt"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/nasa-jpl/instacam/camera"
)

// ErrTerminated is returned by every method after Terminate
var ErrTerminated = errors.New("transport runtime has been terminated")

// Runtime owns a set of transports
type Runtime struct {
	mu         sync.Mutex
	transports []camera.Transport
	terminated bool
}

// Initialize starts a runtime over the given transports
func Initialize(transports ...camera.Transport) (*Runtime, error) {
	if len(transports) == 0 {
		return nil, errors.New("tl: at least one transport is required")
	}
	seen := map[string]bool{}
	for _, t := range transports {
		if seen[t.Name()] {
			return nil, fmt.Errorf("tl: two transports for device class %s", t.Name())
		}
		seen[t.Name()] = true
	}
	return &Runtime{transports: transports}, nil
}

// Terminate closes every transport.  It is safe to call more than once, so it
// can be deferred right after Initialize and also called explicitly.
func (r *Runtime) Terminate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return nil
	}
	r.terminated = true
	var errs []error
	for _, t := range r.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "closing transport %s", t.Name()))
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) live() ([]camera.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminated {
		return nil, ErrTerminated
	}
	return r.transports, nil
}

// Transport returns the transport for a device class
func (r *Runtime) Transport(class string) (camera.Transport, error) {
	ts, err := r.live()
	if err != nil {
		return nil, err
	}
	for _, t := range ts {
		if t.Name() == class {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: no transport for device class %s", camera.ErrNotSupported, class)
}

// EnumerateDevices lists the reachable devices that match any of the filters,
// or all of them without filters
func (r *Runtime) EnumerateDevices(filters ...camera.DeviceInfo) ([]camera.DeviceInfo, error) {
	ts, err := r.live()
	if err != nil {
		return nil, err
	}
	var out []camera.DeviceInfo
	for _, t := range ts {
		infos, err := t.EnumerateDevices()
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "enumerating %s devices", t.Name())
		}
		for _, info := range infos {
			if matchAny(info, filters) {
				out = append(out, info)
			}
		}
	}
	return out, nil
}

func matchAny(info camera.DeviceInfo, filters []camera.DeviceInfo) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if info.Matches(f) {
			return true
		}
	}
	return false
}

// CreateFirstDevice creates the first device matching any of the filters
func (r *Runtime) CreateFirstDevice(filters ...camera.DeviceInfo) (camera.Device, error) {
	infos, err := r.EnumerateDevices(filters...)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, camera.ErrNoDevice
	}
	return r.CreateDevice(infos[0])
}

// CreateDevice creates the device described by info, which may be partial:
// it is used as a filter and must match exactly one device
func (r *Runtime) CreateDevice(info camera.DeviceInfo) (camera.Device, error) {
	infos, err := r.EnumerateDevices(info)
	if err != nil {
		return nil, err
	}
	switch len(infos) {
	case 0:
		return nil, pkgerrors.Wrapf(camera.ErrNoDevice, "creating %s", info)
	case 1:
	default:
		return nil, fmt.Errorf("tl: %d devices match %s, be more specific", len(infos), info)
	}
	t, err := r.Transport(infos[0].DeviceClass)
	if err != nil {
		return nil, err
	}
	return t.CreateDevice(infos[0])
}

// IssueActionCommand broadcasts an action command on every transport that
// supports them
func (r *Runtime) IssueActionCommand(deviceKey, groupKey, groupMask uint32, subnet string) error {
	ts, err := r.live()
	if err != nil {
		return err
	}
	sent := false
	var errs []error
	for _, t := range ts {
		ac, ok := t.(camera.ActionCommander)
		if !ok {
			continue
		}
		err := ac.IssueActionCommand(deviceKey, groupKey, groupMask, subnet)
		if errors.Is(err, camera.ErrNotSupported) {
			continue
		}
		sent = true
		if err != nil {
			errs = append(errs, err)
		}
	}
	if !sent {
		return fmt.Errorf("%w: no transport issues action commands", camera.ErrNotSupported)
	}
	return errors.Join(errs...)
}
