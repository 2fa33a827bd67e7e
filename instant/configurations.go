package instant

import (
	"errors"

	"github.com/nasa-jpl/instacam/genicam"
)

// The standard configurations below are ConfigurationHandlers which set the
// device up when it is opened.  Register one with dispatch.ReplaceAll to make
// it the only configuration, or Append it to add to the current chain.
// Features a camera family does not have are skipped.

// triggerSelector returns the trigger selector entry to configure: the
// frame trigger, or the acquisition trigger on cameras without one
func triggerSelector(nm *genicam.NodeMap) (string, bool) {
	sel := nm.Enum("TriggerSelector")
	for _, s := range []string{"FrameStart", "AcquisitionStart"} {
		if sel.CanSetValue(s) {
			return s, true
		}
	}
	return "", false
}

// disableTriggers switches every trigger off
func disableTriggers(nm *genicam.NodeMap) error {
	sel := nm.Enum("TriggerSelector")
	entries, err := sel.Symbolics()
	if err != nil {
		// no selector, a single trigger at most
		_, err := nm.Enum("TriggerMode").TrySetValue("Off")
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := sel.SetValue(e); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := nm.Enum("TriggerMode").TrySetValue("Off"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// enableTrigger turns on the frame trigger with the given source
func enableTrigger(nm *genicam.NodeMap, source string) error {
	if err := disableTriggers(nm); err != nil {
		return err
	}
	if s, ok := triggerSelector(nm); ok {
		if err := nm.Enum("TriggerSelector").SetValue(s); err != nil {
			return err
		}
	}
	if err := nm.Enum("TriggerMode").SetValue("On"); err != nil {
		return err
	}
	return nm.Enum("TriggerSource").SetValue(source)
}

func continuousAcquisition(nm *genicam.NodeMap) error {
	_, err := nm.Enum("AcquisitionMode").TrySetValue("Continuous")
	return err
}

// SoftwareTriggerConfiguration triggers every frame with
// ExecuteSoftwareTrigger
func SoftwareTriggerConfiguration() *ConfigurationHandler {
	return &ConfigurationHandler{
		OnOpened: func(c *Camera) error {
			nm := c.NodeMap()
			if err := enableTrigger(nm, "Software"); err != nil {
				return err
			}
			return continuousAcquisition(nm)
		},
	}
}

// AcquireContinuousConfiguration free runs the camera
func AcquireContinuousConfiguration() *ConfigurationHandler {
	return &ConfigurationHandler{
		OnOpened: func(c *Camera) error {
			nm := c.NodeMap()
			if err := disableTriggers(nm); err != nil {
				return err
			}
			return continuousAcquisition(nm)
		},
	}
}

// AcquireSingleFrameConfiguration makes the camera stop after one frame,
// which suits GrabOne
func AcquireSingleFrameConfiguration() *ConfigurationHandler {
	return &ConfigurationHandler{
		OnOpened: func(c *Camera) error {
			nm := c.NodeMap()
			if err := disableTriggers(nm); err != nil {
				return err
			}
			_, err := nm.Enum("AcquisitionMode").TrySetValue("SingleFrame")
			return err
		},
	}
}

// ActionTriggerConfiguration triggers frames from action commands carrying
// the given keys.  It fails on cameras without action command support.
func ActionTriggerConfiguration(deviceKey, groupKey, groupMask uint32) *ConfigurationHandler {
	return &ConfigurationHandler{
		OnOpened: func(c *Camera) error {
			nm := c.NodeMap()
			if err := nm.Integer("ActionDeviceKey").SetValue(int64(deviceKey)); err != nil {
				return err
			}
			if err := nm.Integer("ActionGroupKey").SetValue(int64(groupKey)); err != nil {
				return err
			}
			if err := nm.Integer("ActionGroupMask").SetValue(int64(groupMask)); err != nil {
				return err
			}
			if err := enableTrigger(nm, "Action1"); err != nil {
				return err
			}
			return continuousAcquisition(nm)
		},
	}
}
