package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

const DefaultPrefix = "images"

// BlobStore is a PixelStore backed by a gocloud.dev bucket.
type BlobStore struct {
	url    string
	prefix string
	bucket *blob.Bucket
}

// Open opens the bucket named by the configuration URL.
func Open(ctx context.Context, c Config) (*BlobStore, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("no store url configured")
	}
	pixbuf.Infof("Opening pixel store @ %q ...\n", c.URL)
	bucket, err := blob.OpenBucket(ctx, c.URL)
	if err != nil {
		return nil, fmt.Errorf("can't open pixel store @ %q: %v", c.URL, err)
	}
	s := NewBlobStore(bucket, c.Prefix)
	s.url = c.URL
	return s, nil
}

// NewBlobStore returns a store over an already opened bucket.
func NewBlobStore(bucket *blob.Bucket, prefix string) *BlobStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &BlobStore{prefix: strings.Trim(prefix, "/"), bucket: bucket}
}

func (s *BlobStore) String() string {
	return fmt.Sprintf("blob pixel store @ %s/%s", s.url, s.prefix)
}

func (s *BlobStore) infoKey(imageID int64) string {
	return path.Join(s.prefix, fmt.Sprintf("%d", imageID), "info.json")
}

func (s *BlobStore) planeKey(imageID int64, level, z, c, t int) string {
	return path.Join(s.prefix, fmt.Sprintf("%d", imageID), fmt.Sprintf("%d", level), fmt.Sprintf("%d_%d_%d", z, c, t))
}

// Ping checks the bucket can be queried.
func (s *BlobStore) Ping(ctx context.Context) error {
	if _, err := s.bucket.Exists(ctx, s.prefix+"/"); err != nil {
		return fmt.Errorf("pixel store unreachable: %v", err)
	}
	return nil
}

func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

// Open reads the image's info document and checks the credential may read the image.
func (s *BlobStore) Open(ctx context.Context, imageID int64, cred pixbuf.Credential) (Handle, error) {
	data, err := s.bucket.ReadAll(ctx, s.infoKey(imageID))
	if err != nil {
		return nil, classifyBlobError("open", fmt.Errorf("image %d: %w", imageID, err))
	}
	info, err := ParseImageInfo(data)
	if err != nil {
		return nil, pixbuf.WrapError(pixbuf.KindStoreError, "open", fmt.Errorf("image %d: %v", imageID, err))
	}
	if !info.Readable(cred) {
		return nil, pixbuf.WrapError(pixbuf.KindUnauthorized, "open",
			fmt.Errorf("user %d on image %d: %w", cred.UserID, imageID, ErrPermissionDenied))
	}
	codec, err := CodecFor(info.encoding())
	if err != nil {
		return nil, pixbuf.WrapError(pixbuf.KindStoreError, "open", err)
	}
	// packed bit planes open fine for Describe but can't be read by region
	bpp, bppErr := info.PixelsType.BytesPerPixel()
	return &blobHandle{store: s, imageID: imageID, info: info, codec: codec, bpp: bpp, bppErr: bppErr}, nil
}

func classifyBlobError(op string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return pixbuf.WrapError(pixbuf.KindNotFound, op, fmt.Errorf("%v: %w", err, ErrNotFound))
	}
	return pixbuf.WrapError(pixbuf.KindStoreError, op, err)
}

type blobHandle struct {
	store   *BlobStore
	imageID int64
	info    *ImageInfo
	codec   Codec
	bpp     int
	bppErr  error
	closed  int32
}

func (h *blobHandle) Describe(resolution int) (Metadata, error) {
	lvl, err := h.info.level(resolution)
	if err != nil {
		return Metadata{}, pixbuf.WrapError(pixbuf.KindNotFound, "describe", err)
	}
	return Metadata{
		PlaneWidth:  h.info.Levels[lvl].SizeX,
		PlaneHeight: h.info.Levels[lvl].SizeY,
		PixelType:   h.info.PixelsType,
		BitDepth:    h.info.PixelsType.BitDepth(),
		SizeZ:       h.info.SizeZ,
		SizeC:       h.info.SizeC,
		SizeT:       h.info.SizeT,
		Levels:      len(h.info.Levels),
	}, nil
}

func (h *blobHandle) ReadRegion(ctx context.Context, z, c, t, resolution int, r pixbuf.Region) ([]byte, error) {
	if atomic.LoadInt32(&h.closed) != 0 {
		return nil, pixbuf.NewError(pixbuf.KindInternal, "read on closed handle for image %d", h.imageID)
	}
	if h.bppErr != nil {
		return nil, pixbuf.WrapError(pixbuf.KindUnsupportedFormat, "read", fmt.Errorf("image %d: %w", h.imageID, h.bppErr))
	}
	if z < 0 || z >= h.info.SizeZ || c < 0 || c >= h.info.SizeC || t < 0 || t >= h.info.SizeT {
		return nil, pixbuf.WrapError(pixbuf.KindNotFound, "read",
			fmt.Errorf("plane z=%d c=%d t=%d of image %d: %w", z, c, t, h.imageID, ErrNotFound))
	}
	lvl, err := h.info.level(resolution)
	if err != nil {
		return nil, pixbuf.WrapError(pixbuf.KindNotFound, "read", err)
	}
	sizeX, sizeY := h.info.Levels[lvl].SizeX, h.info.Levels[lvl].SizeY
	if !r.Within(sizeX, sizeY) {
		return nil, pixbuf.NewError(pixbuf.KindInvalidRegion, "region %s outside %dx%d plane", r, sizeX, sizeY)
	}

	timedLog := pixbuf.NewTimeLog()
	key := h.store.planeKey(h.imageID, lvl, z, c, t)
	rowBytes := sizeX * h.bpp

	var rows []byte
	if h.codec.Name() == "raw" {
		rows, err = h.rangeRead(ctx, key, int64(r.Y*rowBytes), int64(r.Height*rowBytes))
		if err != nil {
			return nil, err
		}
	} else {
		data, err := h.store.bucket.ReadAll(ctx, key)
		if err != nil {
			return nil, classifyBlobError("read", err)
		}
		plane, err := h.codec.Decode(data)
		if err != nil {
			return nil, pixbuf.WrapError(pixbuf.KindStoreError, "read", fmt.Errorf("object %q: %v", key, err))
		}
		if len(plane) != sizeY*rowBytes {
			return nil, pixbuf.NewError(pixbuf.KindStoreError, "object %q decodes to %d bytes, expected %d", key, len(plane), sizeY*rowBytes)
		}
		rows = plane[r.Y*rowBytes : (r.Y+r.Height)*rowBytes]
	}

	out := rows
	if r.Width != sizeX {
		out = make([]byte, r.Width*r.Height*h.bpp)
		tileRow := r.Width * h.bpp
		for y := 0; y < r.Height; y++ {
			src := y*rowBytes + r.X*h.bpp
			copy(out[y*tileRow:(y+1)*tileRow], rows[src:src+tileRow])
		}
	}
	timedLog.Debugf("Read %s of image %d plane z=%d c=%d t=%d level %d (%s)", r, h.imageID, z, c, t, lvl, h.codec.Name())
	return out, nil
}

func (h *blobHandle) rangeRead(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	rd, err := h.store.bucket.NewRangeReader(ctx, key, offset, size, nil)
	if err != nil {
		return nil, classifyBlobError("read", err)
	}
	defer rd.Close()
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(buf, rd); err != nil {
		return nil, pixbuf.WrapError(pixbuf.KindStoreError, "read", err)
	}
	if int64(buf.Len()) != size {
		return nil, pixbuf.NewError(pixbuf.KindStoreError, "object %q short read: got %d bytes at offset %d, expected %d", key, buf.Len(), offset, size)
	}
	return buf.Bytes(), nil
}

func (h *blobHandle) Close() error {
	atomic.StoreInt32(&h.closed, 1)
	return nil
}
