// Package encode converts raw tile bytes into the requested container format.
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

// Encode returns the tile in the given format.  Raw tiles are returned unchanged.  PNG
// and TIFF hold one grayscale plane and support 8 and 16 bit samples; samples are the
// big-endian bytes read from the store.
func Encode(format pixbuf.Format, raw []byte, width, height int, pt pixbuf.PixelType) ([]byte, error) {
	switch format {
	case "", pixbuf.FormatRaw:
		return raw, nil
	case pixbuf.FormatPNG, pixbuf.FormatTIF:
	default:
		return nil, pixbuf.NewError(pixbuf.KindUnsupportedFormat, "unsupported tile format %q", string(format))
	}

	img, err := plane(raw, width, height, pt)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if format == pixbuf.FormatPNG {
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	} else {
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	}
	if err != nil {
		return nil, pixbuf.WrapError(pixbuf.KindInternal, "encode", fmt.Errorf("%s encoding of %dx%d %s tile: %v", format, width, height, pt, err))
	}
	return buf.Bytes(), nil
}

// plane wraps raw samples in a single-channel image without copying them.  Signed
// samples keep their two's complement bit patterns.
func plane(raw []byte, width, height int, pt pixbuf.PixelType) (image.Image, error) {
	var bpp int
	switch pt {
	case pixbuf.Uint8, pixbuf.Int8:
		bpp = 1
	case pixbuf.Uint16, pixbuf.Int16:
		bpp = 2
	default:
		return nil, pixbuf.NewError(pixbuf.KindUnsupportedFormat, "can't encode %q samples as an image", string(pt))
	}
	if width <= 0 || height <= 0 || len(raw) != width*height*bpp {
		return nil, pixbuf.NewError(pixbuf.KindInternal, "tile buffer of %d bytes doesn't hold %dx%d %s samples", len(raw), width, height, pt)
	}
	rect := image.Rect(0, 0, width, height)
	if bpp == 1 {
		return &image.Gray{Pix: raw, Stride: width, Rect: rect}, nil
	}
	return &image.Gray16{Pix: raw, Stride: 2 * width, Rect: rect}, nil
}
