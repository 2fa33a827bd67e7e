package genicam

import (
	"errors"

	"github.com/nasa-jpl/instacam/util"
)

// feature is the part shared by all typed views
type feature struct {
	m    *NodeMap
	name string
	kind Kind
}

// Name of the feature
func (f feature) Name() string {
	return f.name
}

// IsValid reports whether the feature exists with the view's kind
func (f feature) IsValid() bool {
	k, err := f.m.Kind(f.name)
	return err == nil && k == f.kind
}

// IsAvailable reports whether the feature exists and is not NA
func (f feature) IsAvailable() bool {
	return f.IsValid() && f.m.Access(f.name) != NA
}

// IsReadable reports whether the feature can be read now
func (f feature) IsReadable() bool {
	return f.IsValid() && f.m.Access(f.name).Readable()
}

// IsWritable reports whether the feature can be written now
func (f feature) IsWritable() bool {
	return f.IsValid() && f.m.Access(f.name).Writable()
}

// try runs set when the feature is writable, reporting whether it did
func (f feature) try(set func() error) (bool, error) {
	if !f.IsWritable() {
		return false, nil
	}
	if err := set(); err != nil {
		return false, err
	}
	return true, nil
}

// IntegerParam is a typed view of an integer feature
type IntegerParam struct{ feature }

// Integer returns a view of the named integer feature.  The feature need
// not exist; IsValid tells.
func (m *NodeMap) Integer(name string) IntegerParam {
	return IntegerParam{feature{m, name, KindInteger}}
}

// Value reads the feature
func (p IntegerParam) Value() (int64, error) {
	v, err := p.m.get(p.name, KindInteger)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// SetValue writes the feature.  Invalid values are refused with ErrOutOfRange.
func (p IntegerParam) SetValue(v int64) error {
	return p.m.set(p.name, KindInteger, v)
}

// SetValueCorrected adjusts v to the feature's range and increment with c
// before writing it
func (p IntegerParam) SetValueCorrected(v int64, c Correction) error {
	min, max, inc, err := p.Range()
	if err != nil {
		return err
	}
	return p.SetValue(correctInt(v, min, max, inc, c))
}

// TrySetValue writes v if the feature is writable, and reports whether it did
func (p IntegerParam) TrySetValue(v int64) (bool, error) {
	return p.try(func() error { return p.SetValue(v) })
}

// Range returns the bounds and increment
func (p IntegerParam) Range() (min, max, inc int64, err error) {
	n, err := p.m.Info(p.name)
	if err != nil {
		return 0, 0, 0, err
	}
	if n.Kind != KindInteger {
		return 0, 0, 0, accessErr(p.name, "range", ErrWrongKind)
	}
	if n.Access == NA {
		return 0, 0, 0, accessErr(p.name, "range", ErrNotAvailable)
	}
	return n.Min, n.Max, n.inc(), nil
}

// TrySetToMinimum writes the minimum if the feature is writable
func (p IntegerParam) TrySetToMinimum() (bool, error) {
	return p.try(func() error {
		min, _, _, err := p.Range()
		if err != nil {
			return err
		}
		return p.SetValue(min)
	})
}

// TrySetToMaximum writes the largest valid value if the feature is writable
func (p IntegerParam) TrySetToMaximum() (bool, error) {
	return p.try(func() error {
		min, max, inc, err := p.Range()
		if err != nil {
			return err
		}
		return p.SetValue(correctInt(max, min, max, inc, Down))
	})
}

// SetValuePercentOfRange writes min + pct% of (max-min), rounded to the
// nearest increment.  pct is clamped to [0, 100].
func (p IntegerParam) SetValuePercentOfRange(pct float64) error {
	min, max, inc, err := p.Range()
	if err != nil {
		return err
	}
	v := min + int64(float64(max-min)*clampPct(pct)/100)
	return p.SetValue(correctInt(v, min, max, inc, Nearest))
}

// TrySetValuePercentOfRange is SetValuePercentOfRange when the feature is writable
func (p IntegerParam) TrySetValuePercentOfRange(pct float64) (bool, error) {
	return p.try(func() error { return p.SetValuePercentOfRange(pct) })
}

// FloatParam is a typed view of a float feature
type FloatParam struct{ feature }

// Float returns a view of the named float feature
func (m *NodeMap) Float(name string) FloatParam {
	return FloatParam{feature{m, name, KindFloat}}
}

// Value reads the feature
func (p FloatParam) Value() (float64, error) {
	v, err := p.m.get(p.name, KindFloat)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// SetValue writes the feature
func (p FloatParam) SetValue(v float64) error {
	return p.m.set(p.name, KindFloat, v)
}

// SetValueCorrected clamps v to the range with any correction but NoCorrection
func (p FloatParam) SetValueCorrected(v float64, c Correction) error {
	min, max, err := p.Range()
	if err != nil {
		return err
	}
	return p.SetValue(correctFloat(v, min, max, c))
}

// TrySetValue writes v if the feature is writable
func (p FloatParam) TrySetValue(v float64) (bool, error) {
	return p.try(func() error { return p.SetValue(v) })
}

// Range returns the bounds
func (p FloatParam) Range() (min, max float64, err error) {
	n, err := p.m.Info(p.name)
	if err != nil {
		return 0, 0, err
	}
	if n.Kind != KindFloat {
		return 0, 0, accessErr(p.name, "range", ErrWrongKind)
	}
	if n.Access == NA {
		return 0, 0, accessErr(p.name, "range", ErrNotAvailable)
	}
	return n.FMin, n.FMax, nil
}

// Unit is the physical unit, e.g. "us"
func (p FloatParam) Unit() string {
	n, err := p.m.Info(p.name)
	if err != nil {
		return ""
	}
	return n.Unit
}

// TrySetToMinimum writes the minimum if the feature is writable
func (p FloatParam) TrySetToMinimum() (bool, error) {
	return p.try(func() error {
		min, _, err := p.Range()
		if err != nil {
			return err
		}
		return p.SetValue(min)
	})
}

// TrySetToMaximum writes the maximum if the feature is writable
func (p FloatParam) TrySetToMaximum() (bool, error) {
	return p.try(func() error {
		_, max, err := p.Range()
		if err != nil {
			return err
		}
		return p.SetValue(max)
	})
}

// SetValuePercentOfRange writes min + pct% of (max-min)
func (p FloatParam) SetValuePercentOfRange(pct float64) error {
	min, max, err := p.Range()
	if err != nil {
		return err
	}
	return p.SetValue(correctFloat(min+(max-min)*clampPct(pct)/100, min, max, Nearest))
}

// TrySetValuePercentOfRange is SetValuePercentOfRange when the feature is writable
func (p FloatParam) TrySetValuePercentOfRange(pct float64) (bool, error) {
	return p.try(func() error { return p.SetValuePercentOfRange(pct) })
}

// ValuePercentOfRange is where the current value lies in the range, in percent
func (p FloatParam) ValuePercentOfRange() (float64, error) {
	min, max, err := p.Range()
	if err != nil {
		return 0, err
	}
	v, err := p.Value()
	if err != nil || max == min {
		return 0, err
	}
	return 100 * (v - min) / (max - min), nil
}

// EnumParam is a typed view of an enumeration
type EnumParam struct{ feature }

// Enum returns a view of the named enumeration
func (m *NodeMap) Enum(name string) EnumParam {
	return EnumParam{feature{m, name, KindEnumeration}}
}

// Value returns the current symbolic value
func (p EnumParam) Value() (string, error) {
	v, err := p.m.get(p.name, KindEnumeration)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SetValue writes a symbolic value
func (p EnumParam) SetValue(s string) error {
	return p.m.set(p.name, KindEnumeration, s)
}

// Symbolics lists the values the feature can take now
func (p EnumParam) Symbolics() ([]string, error) {
	n, err := p.m.Info(p.name)
	if err != nil {
		return nil, err
	}
	if n.Kind != KindEnumeration {
		return nil, accessErr(p.name, "entries", ErrWrongKind)
	}
	return n.Entries, nil
}

// CanSetValue reports whether s could be written now
func (p EnumParam) CanSetValue(s string) bool {
	if !p.IsWritable() {
		return false
	}
	entries, err := p.Symbolics()
	return err == nil && contains(entries, s)
}

// TrySetValue writes the first of the candidates the feature accepts, and
// reports whether one was written
func (p EnumParam) TrySetValue(candidates ...string) (bool, error) {
	for _, s := range candidates {
		if p.CanSetValue(s) {
			return true, p.SetValue(s)
		}
	}
	return false, nil
}

// StringParam is a typed view of a string feature
type StringParam struct{ feature }

// Str returns a view of the named string feature
func (m *NodeMap) Str(name string) StringParam {
	return StringParam{feature{m, name, KindString}}
}

// Value reads the feature
func (p StringParam) Value() (string, error) {
	v, err := p.m.get(p.name, KindString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SetValue writes the feature
func (p StringParam) SetValue(s string) error {
	return p.m.set(p.name, KindString, s)
}

// TrySetValue writes s if the feature is writable
func (p StringParam) TrySetValue(s string) (bool, error) {
	return p.try(func() error { return p.SetValue(s) })
}

// BooleanParam is a typed view of a boolean feature
type BooleanParam struct{ feature }

// Boolean returns a view of the named boolean feature
func (m *NodeMap) Boolean(name string) BooleanParam {
	return BooleanParam{feature{m, name, KindBoolean}}
}

// Value reads the feature
func (p BooleanParam) Value() (bool, error) {
	v, err := p.m.get(p.name, KindBoolean)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// SetValue writes the feature
func (p BooleanParam) SetValue(b bool) error {
	return p.m.set(p.name, KindBoolean, b)
}

// TrySetValue writes b if the feature is writable
func (p BooleanParam) TrySetValue(b bool) (bool, error) {
	return p.try(func() error { return p.SetValue(b) })
}

// CommandParam is a typed view of a command
type CommandParam struct{ feature }

// Command returns a view of the named command
func (m *NodeMap) Command(name string) CommandParam {
	return CommandParam{feature{m, name, KindCommand}}
}

// Execute runs the command
func (p CommandParam) Execute() error {
	return p.m.execute(p.name)
}

// TryExecute runs the command if it is writable
func (p CommandParam) TryExecute() (bool, error) {
	return p.try(p.Execute)
}

func clampPct(pct float64) float64 {
	return util.Clamp(pct, 0, 100)
}

// IsAccessError reports whether err is a feature access failure of any kind
func IsAccessError(err error) bool {
	var ae *AccessError
	return errors.As(err, &ae)
}
