package instant

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	pkgerrors "github.com/pkg/errors"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/tl"
)

// ReconnectOptions tune Reconnect.  Zero durations take the defaults.
type ReconnectOptions struct {
	// InitialInterval is the first wait between attempts, default 100 ms
	InitialInterval time.Duration

	// MaxInterval caps the wait between attempts, default 2 s
	MaxInterval time.Duration

	// MaxElapsedTime gives up after this long.  0 retries until ctx is done.
	MaxElapsedTime time.Duration

	// Notify, if not nil, is called after every failed attempt
	Notify func(err error, next time.Duration)
}

// Reconnect replaces a removed device with the same physical camera once it
// shows up again.  The old device is destroyed, then the runtime is searched
// for the serial number with exponential backoff; the device found is
// attached and opened, which runs the configuration handlers again.
//
// Grabbing is not restarted.
func (c *Camera) Reconnect(ctx context.Context, rt *tl.Runtime, o ReconnectOptions) error {
	info := c.DeviceInfo()
	if info.SerialNumber == "" {
		return pkgerrors.Wrap(camera.ErrNoDevice, "reconnect needs a device with a serial number")
	}
	if err := c.DestroyDevice(); err != nil {
		return err
	}
	filter := camera.DeviceInfo{SerialNumber: info.SerialNumber, DeviceClass: info.DeviceClass}

	if o.InitialInterval == 0 {
		o.InitialInterval = 100 * time.Millisecond
	}
	if o.MaxInterval == 0 {
		o.MaxInterval = 2 * time.Second
	}
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     o.InitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         o.MaxInterval,
		MaxElapsedTime:      o.MaxElapsedTime,
		Clock:               backoff.SystemClock}
	eb.Reset()

	op := func() error {
		dev, err := rt.CreateDevice(filter)
		if err != nil {
			if errors.Is(err, tl.ErrTerminated) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := c.Attach(dev); err != nil {
			return backoff.Permanent(err)
		}
		if err := c.Open(); err != nil {
			// the device may be flapping; drop it and look again
			c.DestroyDevice()
			return err
		}
		return nil
	}

	// the policy only runs out on MaxElapsedTime; a deadline on ctx is
	// waited out in full so the caller sees ctx's error
	t := time.NewTimer(0)
	if !t.Stop() {
		<-t.C
	}
	defer t.Stop()
	for {
		err := op()
		if err == nil {
			return nil
		}
		if perm, ok := err.(*backoff.PermanentError); ok {
			return pkgerrors.Wrapf(perm.Err, "reconnecting %s", filter)
		}
		next := eb.NextBackOff()
		if next == backoff.Stop {
			return pkgerrors.Wrapf(err, "reconnecting %s", filter)
		}
		if o.Notify != nil {
			o.Notify(err, next)
		}
		t.Reset(next)
		select {
		case <-ctx.Done():
			return pkgerrors.Wrapf(ctx.Err(), "reconnecting %s", filter)
		case <-t.C:
		}
	}
}
