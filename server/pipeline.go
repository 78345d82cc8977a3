package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/encode"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/storage"
)

// Pipeline is the tile Processor: open the image, describe the requested level,
// normalize the region, read it and encode it.
type Pipeline struct {
	store        storage.PixelStore
	revealDenial bool
}

// NewPipeline returns a Pipeline reading from store.  Unless revealDenial is set, an
// image the caller may not read is reported as not found.
func NewPipeline(store storage.PixelStore, revealDenial bool) *Pipeline {
	return &Pipeline{store: store, revealDenial: revealDenial}
}

func (p *Pipeline) Process(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
	body, err := p.tile(ctx, addr, cred)
	if err != nil {
		return Failed(hideDenial(pixbuf.Classify("tile", err), p.revealDenial))
	}
	return Result{
		Body:        body,
		Filename:    addr.Filename(),
		ContentType: addr.Format.ContentType(),
	}
}

// hideDenial reports a permission denial as not found unless reveal is set.  The
// denial keeps its cause, so the gateway still logs it as one.
func hideDenial(e *pixbuf.Error, reveal bool) *pixbuf.Error {
	if reveal || !errors.Is(e, storage.ErrPermissionDenied) {
		return e
	}
	return &pixbuf.Error{Kind: pixbuf.KindNotFound, Op: e.Op, Err: e.Err}
}

func (p *Pipeline) tile(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) (out []byte, err error) {
	switch addr.Format {
	case "", pixbuf.FormatRaw, pixbuf.FormatPNG, pixbuf.FormatTIF:
	default:
		return nil, pixbuf.NewError(pixbuf.KindUnsupportedFormat, "unsupported tile format %q", string(addr.Format))
	}

	h, err := p.store.Open(ctx, addr.ImageID, cred)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			out, err = nil, pixbuf.WrapError(pixbuf.KindStoreError, "close", cerr)
		}
	}()

	md, err := h.Describe(addr.Resolution)
	if err != nil {
		return nil, err
	}
	bpp, err := md.PixelType.BytesPerPixel()
	if err != nil {
		return nil, pixbuf.WrapError(pixbuf.KindUnsupportedFormat, "describe", fmt.Errorf("image %d: %w", addr.ImageID, err))
	}
	region, size, err := pixbuf.NormalizeRegion(addr.Region, md.PlaneWidth, md.PlaneHeight, bpp)
	if err != nil {
		return nil, err
	}
	raw, err := h.ReadRegion(ctx, addr.Z, addr.C, addr.T, addr.Resolution, region)
	if err != nil {
		return nil, err
	}
	if len(raw) != size {
		return nil, pixbuf.NewError(pixbuf.KindStoreError, "store returned %d bytes for %s, expected %d", len(raw), region, size)
	}
	return encode.Encode(addr.Format, raw, region.Width, region.Height, md.PixelType)
}
