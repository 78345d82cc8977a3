/*
	Package storage provides access to image pixel data held in a blob store.  Each image
	is described by an info document and split into one object per plane and pyramid
	level.  A PixelStore opens a Handle per request; the Handle is closed when the
	request's job is done.
*/
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
)

var (
	// ErrNotFound is returned when an image, plane or pyramid level does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is returned when the credential may not read the image.
	ErrPermissionDenied = errors.New("permission denied")
)

// Metadata describes one image plane at a chosen resolution level.
type Metadata struct {
	PlaneWidth  int
	PlaneHeight int
	PixelType   pixbuf.PixelType
	BitDepth    int

	SizeZ  int
	SizeC  int
	SizeT  int
	Levels int
}

// PixelStore opens per-request handles on images.  Implementations must allow
// concurrent Open calls without global locking.
type PixelStore interface {
	// Open returns a handle on the image if the credential may read it.  Failures are
	// classified as NotFound, Unauthorized (wrapping ErrPermissionDenied) or StoreError.
	Open(ctx context.Context, imageID int64, cred pixbuf.Credential) (Handle, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Handle is a scoped resource on one image.  It must be closed on every exit path.
type Handle interface {
	// Describe returns plane metadata for the given resolution level, where
	// pixbuf.FullResolution selects the full resolution plane.
	Describe(resolution int) (Metadata, error)

	// ReadRegion returns exactly Width*Height*bytes-per-pixel bytes of the plane at z, c, t
	// and resolution level.  The region must already be normalized.
	ReadRegion(ctx context.Context, z, c, t, resolution int, r pixbuf.Region) ([]byte, error)

	Close() error
}

// Config holds the [store] section of the server configuration.
type Config struct {
	// URL is a gocloud.dev blob URL, e.g., "file:///data/pixels", "gs://bucket" or "mem://".
	URL string

	// Prefix is the key prefix under which images are stored.  Defaults to "images".
	Prefix string
}

// FileStore serves the original files an image was imported from.
type FileStore interface {
	// OriginalFile returns a file's info if the credential may read it.
	OriginalFile(ctx context.Context, fileID int64, cred pixbuf.Credential) (*FileInfo, error)

	// FileAnnotation returns the file linked by a file annotation.
	FileAnnotation(ctx context.Context, annotationID int64, cred pixbuf.Credential) (*FileInfo, error)

	// ImageFiles returns every original file of an image.
	ImageFiles(ctx context.Context, imageID int64, cred pixbuf.Credential) ([]*FileInfo, error)

	// OpenFile returns a reader over a file's bytes and their length.
	OpenFile(ctx context.Context, f *FileInfo) (io.ReadCloser, int64, error)
}
