package pixbuf

import (
	"fmt"
	"net/url"
	"strconv"
)

// FullResolution is the Resolution of a TileAddress that did not select a pyramid level.
const FullResolution = -1

// Format is a requested output encoding.  The empty Format means raw.
type Format string

const (
	FormatRaw Format = "raw"
	FormatPNG Format = "png"
	FormatTIF Format = "tif"
)

// Extension returns the file extension used in download filenames.
func (f Format) Extension() string {
	if f == "" {
		return "bin"
	}
	return string(f)
}

// ContentType returns the MIME type of a tile in this format.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatTIF:
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// TileAddress identifies one tile of one image plane.  It is built once per request
// and never modified.
type TileAddress struct {
	ImageID    int64
	Z          int
	C          int
	T          int
	Resolution int
	Region     Region
	Format     Format
}

// HasResolution reports whether a pyramid level was requested.
func (a TileAddress) HasResolution() bool {
	return a.Resolution != FullResolution
}

// Filename returns the suggested download name for the tile, built from the
// requested, not normalized, region.
func (a TileAddress) Filename() string {
	return fmt.Sprintf("image%d_z%d_c%d_t%d_x%d_y%d_w%d_h%d.%s",
		a.ImageID, a.Z, a.C, a.T, a.Region.X, a.Region.Y, a.Region.Width, a.Region.Height,
		a.Format.Extension())
}

func (a TileAddress) String() string {
	s := fmt.Sprintf("image %d z=%d c=%d t=%d region %s", a.ImageID, a.Z, a.C, a.T, a.Region)
	if a.HasResolution() {
		s += fmt.Sprintf(" resolution %d", a.Resolution)
	}
	if a.Format != "" {
		s += " format " + string(a.Format)
	}
	return s
}

// ParseTileAddress builds a TileAddress from the imageId, z, c and t path parameters
// and the x, y, w, h, resolution and format query parameters.
func ParseTileAddress(params map[string]string, query url.Values) (TileAddress, error) {
	var a TileAddress
	var err error
	idStr, found := params["imageId"]
	if !found {
		return a, NewError(KindBadRequest, "missing imageId")
	}
	if a.ImageID, err = strconv.ParseInt(idStr, 10, 64); err != nil {
		return a, NewError(KindBadRequest, "bad imageId %q", idStr)
	}
	if a.ImageID <= 0 {
		return a, NewError(KindBadRequest, "imageId must be positive, got %d", a.ImageID)
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"z", &a.Z}, {"c", &a.C}, {"t", &a.T}} {
		s, found := params[p.name]
		if !found {
			return a, NewError(KindBadRequest, "missing %s", p.name)
		}
		if *p.dst, err = strconv.Atoi(s); err != nil {
			return a, NewError(KindBadRequest, "bad %s %q", p.name, s)
		}
		if *p.dst < 0 {
			return a, NewError(KindBadRequest, "%s must be non-negative, got %d", p.name, *p.dst)
		}
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"x", &a.Region.X}, {"y", &a.Region.Y}, {"w", &a.Region.Width}, {"h", &a.Region.Height}} {
		s := query.Get(p.name)
		if s == "" {
			return a, NewError(KindBadRequest, "missing query parameter %s", p.name)
		}
		if *p.dst, err = strconv.Atoi(s); err != nil {
			return a, NewError(KindBadRequest, "bad query parameter %s %q", p.name, s)
		}
	}

	a.Resolution = FullResolution
	if s := query.Get("resolution"); s != "" {
		if a.Resolution, err = strconv.Atoi(s); err != nil {
			return a, NewError(KindBadRequest, "bad resolution %q", s)
		}
		if a.Resolution < 0 {
			return a, NewError(KindBadRequest, "resolution must be non-negative, got %d", a.Resolution)
		}
	}
	a.Format = Format(query.Get("format"))
	return a, nil
}
