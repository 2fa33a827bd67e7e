package emulator

import "math"

// The scene is lit so that the default exposure without gain gives a mean
// gray level of half the full scale.  Exposure and gain scale it linearly
// until the sensor saturates.
const sceneLevel = 0.5

// autoTolerance is how close to the target a Once function has to get
// before it switches itself off
const autoTolerance = 0.02

func (d *Device) autoTargetNode() string {
	return d.sfncName("AutoTargetBrightness", "AutoTargetValue")
}

func (d *Device) autoExposureLimitNodes() (lower, upper string) {
	if d.sfnc2 {
		return "AutoExposureTimeLowerLimit", "AutoExposureTimeUpperLimit"
	}
	return "AutoExposureTimeAbsLowerLimit", "AutoExposureTimeAbsUpperLimit"
}

// brightness is the linear factor applied to the test pattern
func (d *Device) brightness() float64 {
	return d.gainFactor() * d.exposure().Seconds() / (defaultExposureUs * 1e-6)
}

// meanLevel is the mean gray level of a frame, 0 to 1
func (d *Device) meanLevel() float64 {
	return math.Min(sceneLevel*d.brightness(), 1)
}

func (d *Device) autoTarget() float64 {
	if d.sfnc2 {
		return d.floatValue("AutoTargetBrightness")
	}
	return float64(d.intValue("AutoTargetValue")) / 255
}

// autoAdjust runs the auto functions after a frame was exposed.  Exposure
// is adjusted before gain; a function set to Once returns to Off when the
// frame brightness is within tolerance of the target.
func (d *Device) autoAdjust() {
	expMode, gainMode := d.enumValue("ExposureAuto"), d.enumValue("GainAuto")
	if expMode == "Off" && gainMode == "Off" {
		return
	}
	target := d.autoTarget()
	level := d.meanLevel()
	if math.Abs(level-target) <= autoTolerance {
		if expMode == "Once" {
			d.nm.StoreAt("ExposureAuto", "", "Off")
		}
		if gainMode == "Once" {
			d.nm.StoreAt("GainAuto", "", "Off")
		}
		return
	}
	// a saturated frame under-reports how far off it is
	ratio := target / level
	if level >= 1 {
		ratio = target / 2
	}
	if expMode != "Off" && d.scaleExposure(math.Sqrt(ratio)) {
		return
	}
	if gainMode != "Off" {
		d.scaleGain(math.Sqrt(ratio))
	}
}

// scaleExposure multiplies the exposure time within the auto limits and
// reports whether it changed
func (d *Device) scaleExposure(f float64) bool {
	lo, hi := d.autoExposureLimitNodes()
	lower, upper := d.floatOrInt(lo), d.floatOrInt(hi)
	us := d.exposure().Seconds() * 1e6
	next := math.Max(lower, math.Min(upper, us*f))
	if math.Abs(next-us) < 1 {
		return false
	}
	if d.sfnc2 {
		d.nm.StoreAt("ExposureTime", "", next)
	} else {
		d.nm.StoreAt("ExposureTimeRaw", "", int64(math.Round(next)))
	}
	return true
}

// scaleGain multiplies the linear gain within the feature's range
func (d *Device) scaleGain(f float64) {
	db := 20*math.Log10(d.gainFactor()) + 20*math.Log10(f)
	if d.sfnc2 {
		db = math.Max(0, math.Min(24, db))
		d.nm.StoreAt("Gain", "", db)
		return
	}
	raw := math.Max(0, math.Min(511, math.Round(db*511/24)))
	d.nm.StoreAt("GainRaw", "", int64(raw))
}

func (d *Device) floatOrInt(name string) float64 {
	if d.sfnc2 {
		return d.floatValue(name)
	}
	return float64(d.intValue(name))
}
