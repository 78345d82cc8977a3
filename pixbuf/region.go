package pixbuf

import "fmt"

// Region is a rectangle within an image plane.  A zero Width or Height requests the
// full extent of the plane in that dimension.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d) %dx%d", r.X, r.Y, r.Width, r.Height)
}

// Within reports whether r is a non-empty rectangle inside a plane of the given size.
// The comparisons are arranged so that no sum can overflow.
func (r Region) Within(planeWidth, planeHeight int) bool {
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 {
		return false
	}
	if r.Width > planeWidth || r.Height > planeHeight {
		return false
	}
	return r.X <= planeWidth-r.Width && r.Y <= planeHeight-r.Height
}

// NormalizeRegion resolves full-extent sentinels against a plane of the given size,
// bounds checks the result and returns it with the byte length of the tile buffer.
func NormalizeRegion(r Region, planeWidth, planeHeight, bpp int) (Region, int, error) {
	if bpp <= 0 {
		return Region{}, 0, fmt.Errorf("%w: %d bytes per pixel", ErrInvalidPixelType, bpp)
	}
	if r.Width == 0 {
		r.Width = planeWidth
	}
	if r.Height == 0 {
		r.Height = planeHeight
	}
	if !r.Within(planeWidth, planeHeight) {
		return Region{}, 0, NewError(KindInvalidRegion, "region %s outside %dx%d plane", r, planeWidth, planeHeight)
	}
	return r, r.Width * r.Height * bpp, nil
}
