// Package pfnc names the pixel formats a camera can deliver and describes their layout
package pfnc

import (
	"fmt"
	"strings"
)

// PixelFormat identifies the memory layout of one image
type PixelFormat uint32

// the numeric values follow the GenICam PFNC codes for the formats we know
const (
	Undefined PixelFormat = 0
	Mono8     PixelFormat = 0x01080001
	Mono10    PixelFormat = 0x01100003
	Mono12    PixelFormat = 0x01100005
	Mono16    PixelFormat = 0x01100007
	BayerGR8  PixelFormat = 0x01080008
	BayerRG8  PixelFormat = 0x01080009
	BayerGB8  PixelFormat = 0x0108000A
	BayerBG8  PixelFormat = 0x0108000B
	RGB8      PixelFormat = 0x02180014
	BGR8      PixelFormat = 0x02180015
	RGBa8     PixelFormat = 0x02200016
	BGRa8     PixelFormat = 0x02200017
)

var names = map[PixelFormat]string{
	Undefined: "Undefined",
	Mono8:     "Mono8",
	Mono10:    "Mono10",
	Mono12:    "Mono12",
	Mono16:    "Mono16",
	BayerGR8:  "BayerGR8",
	BayerRG8:  "BayerRG8",
	BayerGB8:  "BayerGB8",
	BayerBG8:  "BayerBG8",
	RGB8:      "RGB8",
	BGR8:      "BGR8",
	RGBa8:     "RGBa8",
	BGRa8:     "BGRa8",
}

// String returns the PFNC name, e.g. "Mono8"
func (p PixelFormat) String() string {
	if s, ok := names[p]; ok {
		return s
	}
	return fmt.Sprintf("PixelFormat(0x%08X)", uint32(p))
}

// Parse looks up a pixel format by its PFNC name, case insensitive
func Parse(s string) (PixelFormat, error) {
	for k, v := range names {
		if strings.EqualFold(v, s) && k != Undefined {
			return k, nil
		}
	}
	return Undefined, fmt.Errorf("unknown pixel format %q", s)
}

// Known lists every named format except Undefined
func Known() []PixelFormat {
	return []PixelFormat{Mono8, Mono10, Mono12, Mono16, BayerGR8, BayerRG8, BayerGB8, BayerBG8, RGB8, BGR8, RGBa8, BGRa8}
}

// BitsPerPixel is the storage size of one pixel, padding included
func (p PixelFormat) BitsPerPixel() int {
	// bits 16..23 of the PFNC code carry the effective size
	return int((uint32(p) >> 16) & 0xFF)
}

// BytesPerPixel rounds BitsPerPixel up to whole bytes
func (p PixelFormat) BytesPerPixel() int {
	return (p.BitsPerPixel() + 7) / 8
}

// ValidBits is the number of significant bits per channel
func (p PixelFormat) ValidBits() int {
	switch p {
	case Mono10:
		return 10
	case Mono12:
		return 12
	case Mono16:
		return 16
	}
	return 8
}

// Channels is the number of color channels stored per pixel
func (p PixelFormat) Channels() int {
	switch p {
	case RGB8, BGR8:
		return 3
	case RGBa8, BGRa8:
		return 4
	}
	return 1
}

// IsMono is true for single channel grayscale formats
func (p PixelFormat) IsMono() bool {
	switch p {
	case Mono8, Mono10, Mono12, Mono16:
		return true
	}
	return false
}

// IsBayer is true for raw color filter array formats
func (p PixelFormat) IsBayer() bool {
	switch p {
	case BayerGR8, BayerRG8, BayerGB8, BayerBG8:
		return true
	}
	return false
}

// IsColor is true for formats carrying color information, Bayer included
func (p PixelFormat) IsColor() bool {
	return !p.IsMono() && p != Undefined
}

// ImageSize returns the bytes needed for a width x height image with no padding
func (p PixelFormat) ImageSize(width, height int) int {
	return width * height * p.BytesPerPixel()
}
