package pixbuf

import (
	"errors"
	"fmt"
)

// ErrInvalidPixelType is returned when no sample width can be derived from a pixel type.
var ErrInvalidPixelType = errors.New("invalid pixel type")

// PixelType is an OMERO pixels type name, e.g., "uint16".
type PixelType string

const (
	Int8   PixelType = "int8"
	Uint8  PixelType = "uint8"
	Int16  PixelType = "int16"
	Uint16 PixelType = "uint16"
	Int32  PixelType = "int32"
	Uint32 PixelType = "uint32"
	Float  PixelType = "float"
	Double PixelType = "double"
	Bit    PixelType = "bit"
)

var pixelBytes = map[PixelType]int{
	Int8:   1,
	Uint8:  1,
	Int16:  2,
	Uint16: 2,
	Int32:  4,
	Uint32: 4,
	Float:  4,
	Double: 8,
}

// BytesPerPixel returns the width of one sample.  Packed bit planes have no byte width.
func (p PixelType) BytesPerPixel() (int, error) {
	if n, found := pixelBytes[p]; found {
		return n, nil
	}
	return 0, fmt.Errorf("%w %q", ErrInvalidPixelType, string(p))
}

// BitDepth returns the number of bits per sample, or 0 for unknown types.
func (p PixelType) BitDepth() int {
	if p == Bit {
		return 1
	}
	return pixelBytes[p] * 8
}

// Valid reports whether the type is a known OMERO pixels type.
func (p PixelType) Valid() bool {
	_, found := pixelBytes[p]
	return found || p == Bit
}
