/*Package genicam is a dynamic parameter map in the manner of a GenICam node map.

Features are looked up by name at runtime.  Each one has a kind (integer,
float, enumeration, string, boolean, command, category) and an access mode
that may change while the device runs, so callers ask IsReadable/IsWritable
before touching features that only some camera families implement, or use
the Try variants which do nothing when the feature is unavailable.

A NodeMap is concurrent safe.  Device implementations populate it with Add
and react to writes through the OnWrite and OnExecute hooks; applications use
the typed views returned by Integer, Float, Enum, String, Boolean and Command.
*/
package genicam

import (
	"fmt"
	"strconv"
)

// Kind is the type of a feature
type Kind int

const (
	// KindInteger is an int64 feature with a min, max, and increment
	KindInteger Kind = iota + 1

	// KindFloat is a float64 feature with a min and max
	KindFloat

	// KindEnumeration takes one of a set of symbolic string values
	KindEnumeration

	// KindString is free text
	KindString

	// KindBoolean is true or false
	KindBoolean

	// KindCommand is executed, it has no value
	KindCommand

	// KindCategory groups other features
	KindCategory
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "Integer"
	case KindFloat:
		return "Float"
	case KindEnumeration:
		return "Enumeration"
	case KindString:
		return "String"
	case KindBoolean:
		return "Boolean"
	case KindCommand:
		return "Command"
	case KindCategory:
		return "Category"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Access is the access mode of a feature
type Access int

const (
	// NA is not available
	NA Access = iota
	// RO is read only
	RO
	// WO is write only
	WO
	// RW is read-write
	RW
)

// Readable is true for RO and RW
func (a Access) Readable() bool {
	return a == RO || a == RW
}

// Writable is true for WO and RW
func (a Access) Writable() bool {
	return a == WO || a == RW
}

func (a Access) String() string {
	return [...]string{"NA", "RO", "WO", "RW"}[a&3]
}

// Correction says how an integer or float that violates its feature's
// constraints is adjusted before it is written
type Correction int

const (
	// NoCorrection writes the value as is and fails if it is invalid
	NoCorrection Correction = iota

	// Nearest clamps to the range and rounds to the nearest increment
	Nearest

	// Up clamps to the range and rounds up to an increment
	Up

	// Down clamps to the range and rounds down to an increment
	Down
)

// Node describes one feature.  The exported fields are its definition and
// are read once when the node is added to a map; afterwards the map owns
// the node's state and changes to the struct have no effect.
type Node struct {
	Name        string
	Kind        Kind
	Description string
	Unit        string

	// Access is the initial access mode
	Access Access

	// Min, Max and Inc bound an integer.  An Inc below 1 is treated as 1.
	Min, Max, Inc int64

	// FMin and FMax bound a float
	FMin, FMax float64

	// Entries are the symbolic values of an enumeration
	Entries []string

	// Selector names the enumeration that selects which of several values
	// this node shows, e.g. TriggerMode is selected by TriggerSelector
	Selector string

	// Children of a category
	Children []string

	// Streamable nodes are written to and read from feature streams
	Streamable bool

	// Value is the initial value: int64, float64, string, or bool
	Value interface{}

	// Get, if not nil, computes the value on every read
	Get func() interface{}

	// OnWrite, if not nil, is called with the new value before it is stored.
	// A non-nil error rejects the write.  It runs without the map's lock held
	// and may use the map.
	OnWrite func(v interface{}) error

	// OnExecute is the body of a command.  It runs without the map's lock held.
	OnExecute func() error
}

// zero returns the zero value of a kind
func zero(k Kind) interface{} {
	switch k {
	case KindInteger:
		return int64(0)
	case KindFloat:
		return float64(0)
	case KindEnumeration, KindString:
		return ""
	case KindBoolean:
		return false
	}
	return nil
}

// normalize converts convenient Go types to the kind's storage type
func normalize(k Kind, v interface{}) (interface{}, bool) {
	switch k {
	case KindInteger:
		switch t := v.(type) {
		case int64:
			return t, true
		case int:
			return int64(t), true
		case int32:
			return int64(t), true
		case uint32:
			return int64(t), true
		}
	case KindFloat:
		switch t := v.(type) {
		case float64:
			return t, true
		case float32:
			return float64(t), true
		case int:
			return float64(t), true
		case int64:
			return float64(t), true
		}
	case KindEnumeration, KindString:
		s, ok := v.(string)
		return s, ok
	case KindBoolean:
		b, ok := v.(bool)
		return b, ok
	}
	return nil, false
}

// check validates a normalized value against the node's constraints
func (n *Node) check(v interface{}) error {
	switch n.Kind {
	case KindInteger:
		i := v.(int64)
		if i < n.Min || i > n.Max {
			return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, i, n.Min, n.Max)
		}
		if inc := n.inc(); inc > 1 && (i-n.Min)%inc != 0 {
			return fmt.Errorf("%w: %d is not %d plus a multiple of %d", ErrOutOfRange, i, n.Min, inc)
		}
	case KindFloat:
		f := v.(float64)
		if f < n.FMin || f > n.FMax {
			return fmt.Errorf("%w: %g not in [%g, %g]", ErrOutOfRange, f, n.FMin, n.FMax)
		}
	case KindEnumeration:
		s := v.(string)
		if !contains(n.Entries, s) {
			return fmt.Errorf("%w: %q is not one of %v", ErrOutOfRange, s, n.Entries)
		}
	}
	return nil
}

func (n *Node) inc() int64 {
	if n.Inc < 1 {
		return 1
	}
	return n.Inc
}

func contains(ss []string, s string) bool {
	for _, e := range ss {
		if e == s {
			return true
		}
	}
	return false
}

// format renders a value the way feature streams and HTTP clients see it
func format(k Kind, v interface{}) string {
	switch k {
	case KindInteger:
		return strconv.FormatInt(v.(int64), 10)
	case KindFloat:
		return strconv.FormatFloat(v.(float64), 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.(bool))
	case KindEnumeration, KindString:
		return v.(string)
	}
	return ""
}

// parse is the inverse of format.  Integers accept 0x and 0b prefixes.
func parse(k Kind, s string) (interface{}, error) {
	switch k {
	case KindInteger:
		return strconv.ParseInt(s, 0, 64)
	case KindFloat:
		return strconv.ParseFloat(s, 64)
	case KindBoolean:
		return strconv.ParseBool(s)
	case KindEnumeration, KindString:
		return s, nil
	}
	return nil, ErrWrongKind
}

// correctInt applies a correction to an integer with the given constraints
func correctInt(v, min, max, inc int64, c Correction) int64 {
	if c == NoCorrection {
		return v
	}
	if inc < 1 {
		inc = 1
	}
	// the largest valid value may sit below max when the range is not a
	// whole number of increments
	top := max - (max-min)%inc
	if v <= min {
		return min
	}
	if v >= top {
		return top
	}
	r := (v - min) % inc
	if r == 0 {
		return v
	}
	down := v - r
	up := down + inc
	switch c {
	case Up:
		return up
	case Down:
		return down
	}
	if 2*r >= inc {
		return up
	}
	return down
}

func correctFloat(v, min, max float64, c Correction) float64 {
	if c == NoCorrection {
		return v
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
