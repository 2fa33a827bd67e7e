// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// AllElementsNumbers reports whether s is a plain decimal number, such as
// "1.5", with no unit
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}

// Clamp limits x to [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// SecsToDuration converts a float number of seconds to a duration,
// rounded to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	if secs < 0 {
		return -SecsToDuration(-secs)
	}
	return time.Duration(secs*1e9 + 0.5)
}

// SetBit returns b with the bit at index set or cleared
func SetBit(b uint32, index uint, value bool) uint32 {
	if value {
		return b | 1<<index
	}
	return b &^ (1 << index)
}

// GetBit returns the value of a given bit
func GetBit(b uint32, index uint) bool {
	return b&(1<<index) != 0
}

// BitMask has one bit set for each index, e.g. the action command group
// mask of a list of cameras
func BitMask(indices ...int) uint32 {
	var m uint32
	for _, i := range indices {
		m = SetBit(m, uint(i), true)
	}
	return m
}
