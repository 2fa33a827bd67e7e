package genicam

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Configure writes a map of feature name to value, such as the bootup
// arguments of a server's config file.  Values are weakly decoded to the
// feature's kind, so 1, "1", and 1.0 all set an integer; a command is
// executed when its value decodes to true.  Features are written in node map
// order, so dependent features (Width before OffsetX) behave the same as on a
// hand written device.  Every failure is reported, joined into one error.
func Configure(m *NodeMap, settings map[string]interface{}) error {
	var errs []error
	seen := make(map[string]bool, len(settings))
	for _, name := range m.Names() {
		v, ok := settings[name]
		if !ok {
			continue
		}
		seen[name] = true
		if err := configureOne(m, name, v); err != nil {
			errs = append(errs, err)
		}
	}
	var unknown []string
	for k := range settings {
		if !seen[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs = append(errs, accessErr(k, "configure", ErrNotFound))
	}
	return errors.Join(errs...)
}

func configureOne(m *NodeMap, name string, v interface{}) error {
	k, err := m.Kind(name)
	if err != nil {
		return err
	}
	decodeErr := func(err error) error {
		return accessErr(name, "configure", fmt.Errorf("%w: %v", ErrWrongKind, err))
	}
	switch k {
	case KindInteger:
		var i int64
		if err := mapstructure.WeakDecode(v, &i); err != nil {
			return decodeErr(err)
		}
		return m.Integer(name).SetValue(i)
	case KindFloat:
		var f float64
		if err := mapstructure.WeakDecode(v, &f); err != nil {
			return decodeErr(err)
		}
		return m.Float(name).SetValue(f)
	case KindBoolean:
		var b bool
		if err := mapstructure.WeakDecode(v, &b); err != nil {
			return decodeErr(err)
		}
		return m.Boolean(name).SetValue(b)
	case KindEnumeration:
		var s string
		if err := mapstructure.WeakDecode(v, &s); err != nil {
			return decodeErr(err)
		}
		return m.Enum(name).SetValue(s)
	case KindString:
		var s string
		if err := mapstructure.WeakDecode(v, &s); err != nil {
			return decodeErr(err)
		}
		return m.Str(name).SetValue(s)
	case KindCommand:
		var b bool
		if err := mapstructure.WeakDecode(v, &b); err != nil {
			return decodeErr(err)
		}
		if b {
			return m.Command(name).Execute()
		}
		return nil
	}
	return accessErr(name, "configure", ErrWrongKind)
}
