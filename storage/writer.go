package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
)

// PutInfo validates and stores an image's info document.
func (s *BlobStore) PutInfo(ctx context.Context, imageID int64, info *ImageInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if _, err := ParseImageInfo(data); err != nil {
		return err
	}
	return s.bucket.WriteAll(ctx, s.infoKey(imageID), data, nil)
}

// PutPlane stores one plane at a pyramid level index (0 is full resolution), encoding it
// with the codec named in the image's info document.
func (s *BlobStore) PutPlane(ctx context.Context, imageID int64, info *ImageInfo, level, z, c, t int, plane []byte) error {
	if level < 0 || level >= len(info.Levels) {
		return fmt.Errorf("image %d has no level %d", imageID, level)
	}
	bpp, err := info.PixelsType.BytesPerPixel()
	if err != nil {
		return err
	}
	expected := info.Levels[level].SizeX * info.Levels[level].SizeY * bpp
	if len(plane) != expected {
		return fmt.Errorf("plane for image %d level %d has %d bytes, expected %d", imageID, level, len(plane), expected)
	}
	codec, err := CodecFor(info.encoding())
	if err != nil {
		return err
	}
	data, err := codec.Encode(plane)
	if err != nil {
		return err
	}
	key := s.planeKey(imageID, level, z, c, t)
	if err := s.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return err
	}
	pixbuf.Debugf("Stored %q: %s -> %s (%s)\n", key, humanize.Bytes(uint64(len(plane))), humanize.Bytes(uint64(len(data))), codec.Name())
	return nil
}

// Downsample halves a plane in both dimensions by keeping every other sample.
func Downsample(plane []byte, sizeX, sizeY, bpp int) (out []byte, outX, outY int) {
	outX, outY = (sizeX+1)/2, (sizeY+1)/2
	out = make([]byte, outX*outY*bpp)
	for y := 0; y < outY; y++ {
		for x := 0; x < outX; x++ {
			src := ((2*y)*sizeX + 2*x) * bpp
			dst := (y*outX + x) * bpp
			copy(out[dst:dst+bpp], plane[src:src+bpp])
		}
	}
	return
}
