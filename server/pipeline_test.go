package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/storage"

	"gocloud.dev/blob/memblob"
)

var (
	ownerCred    = pixbuf.Credential{SessionKey: "owner", UserID: 2, GroupIDs: []int64{3}}
	strangerCred = pixbuf.Credential{SessionKey: "stranger", UserID: 5, GroupIDs: []int64{9}}
)

// testPlane returns a big-endian 16-bit plane whose samples encode their position.
func testPlane(sizeX, sizeY int) []byte {
	data := make([]byte, sizeX*sizeY*2)
	for i := 0; i < sizeX*sizeY; i++ {
		binary.BigEndian.PutUint16(data[2*i:], uint16(i))
	}
	return data
}

// crop returns the rows and columns of a 16-bit plane covered by r.
func crop(plane []byte, sizeX int, r pixbuf.Region) []byte {
	var out []byte
	for y := r.Y; y < r.Y+r.Height; y++ {
		start := (y*sizeX + r.X) * 2
		out = append(out, plane[start:start+r.Width*2]...)
	}
	return out
}

// newTestStore holds image 1, a private 100x80 uint16 image of user 2 with a 50x40
// level, and image 2, a 16x16 uint8 image readable by group 3.  Images 3 and 4 belong
// to user 2 and hold bit and float samples.
func newTestStore(t *testing.T) *storage.BlobStore {
	ctx := context.Background()
	s := storage.NewBlobStore(memblob.OpenBucket(nil), "")

	info := &storage.ImageInfo{
		Owner:       2,
		Group:       3,
		Permissions: "rw----",
		PixelsType:  pixbuf.Uint16,
		SizeZ:       1,
		SizeC:       2,
		SizeT:       1,
		Levels:      []storage.LevelInfo{{SizeX: 100, SizeY: 80}, {SizeX: 50, SizeY: 40}},
	}
	if err := s.PutInfo(ctx, 1, info); err != nil {
		t.Fatalf("can't store image info: %v\n", err)
	}
	full := testPlane(100, 80)
	half, _, _ := storage.Downsample(full, 100, 80, 2)
	for c := 0; c < 2; c++ {
		if err := s.PutPlane(ctx, 1, info, 0, 0, c, 0, full); err != nil {
			t.Fatalf("can't store plane: %v\n", err)
		}
		if err := s.PutPlane(ctx, 1, info, 1, 0, c, 0, half); err != nil {
			t.Fatalf("can't store level plane: %v\n", err)
		}
	}

	shared := &storage.ImageInfo{
		Owner:       4,
		Group:       3,
		Permissions: "rwr---",
		PixelsType:  pixbuf.Uint8,
		SizeZ:       1,
		SizeC:       1,
		SizeT:       1,
		Encoding:    "zstd",
		Levels:      []storage.LevelInfo{{SizeX: 16, SizeY: 16}},
	}
	if err := s.PutInfo(ctx, 2, shared); err != nil {
		t.Fatalf("can't store image info: %v\n", err)
	}
	if err := s.PutPlane(ctx, 2, shared, 0, 0, 0, 0, bytes.Repeat([]byte{7}, 256)); err != nil {
		t.Fatalf("can't store plane: %v\n", err)
	}

	mask := &storage.ImageInfo{
		Owner:       2,
		Group:       3,
		Permissions: "rw----",
		PixelsType:  pixbuf.Bit,
		SizeZ:       1,
		SizeC:       1,
		SizeT:       1,
		Levels:      []storage.LevelInfo{{SizeX: 8, SizeY: 8}},
	}
	if err := s.PutInfo(ctx, 3, mask); err != nil {
		t.Fatalf("can't store image info: %v\n", err)
	}

	floats := &storage.ImageInfo{
		Owner:       2,
		Group:       3,
		Permissions: "rw----",
		PixelsType:  pixbuf.Float,
		SizeZ:       1,
		SizeC:       1,
		SizeT:       1,
		Levels:      []storage.LevelInfo{{SizeX: 4, SizeY: 4}},
	}
	if err := s.PutInfo(ctx, 4, floats); err != nil {
		t.Fatalf("can't store image info: %v\n", err)
	}
	if err := s.PutPlane(ctx, 4, floats, 0, 0, 0, 0, make([]byte, 4*4*4)); err != nil {
		t.Fatalf("can't store plane: %v\n", err)
	}
	return s
}

// trackingStore counts the handles opened and closed on the wrapped store.
type trackingStore struct {
	storage.PixelStore
	opened int32
	closed int32
}

type trackedHandle struct {
	storage.Handle
	store *trackingStore
}

func (s *trackingStore) Open(ctx context.Context, imageID int64, cred pixbuf.Credential) (storage.Handle, error) {
	h, err := s.PixelStore.Open(ctx, imageID, cred)
	if err != nil {
		return nil, err
	}
	atomic.AddInt32(&s.opened, 1)
	return trackedHandle{h, s}, nil
}

func (h trackedHandle) Close() error {
	atomic.AddInt32(&h.store.closed, 1)
	return h.Handle.Close()
}

func (s *trackingStore) balanced(t *testing.T) {
	if o, c := atomic.LoadInt32(&s.opened), atomic.LoadInt32(&s.closed); o != c {
		t.Errorf("%d handles opened but %d closed\n", o, c)
	}
}

func TestPipelineFullPlane(t *testing.T) {
	store := &trackingStore{PixelStore: newTestStore(t)}
	p := NewPipeline(store, false)

	res := p.Process(context.Background(), pixbuf.TileAddress{ImageID: 1, C: 1, Resolution: pixbuf.FullResolution}, ownerCred)
	if res.Err != nil {
		t.Fatalf("full plane: %v\n", res.Err)
	}
	if len(res.Body) != 100*80*2 {
		t.Fatalf("expected %d bytes, got %d\n", 100*80*2, len(res.Body))
	}
	if !bytes.Equal(res.Body, testPlane(100, 80)) {
		t.Errorf("full plane differs from stored plane\n")
	}
	if res.Filename != "image1_z0_c1_t0_x0_y0_w0_h0.bin" {
		t.Errorf("bad filename %q\n", res.Filename)
	}
	if res.ContentType != "application/octet-stream" {
		t.Errorf("bad content type %q\n", res.ContentType)
	}
	store.balanced(t)
}

func TestPipelineRegions(t *testing.T) {
	store := &trackingStore{PixelStore: newTestStore(t)}
	p := NewPipeline(store, false)
	plane := testPlane(100, 80)

	tests := []struct {
		region   pixbuf.Region
		expected pixbuf.Region
	}{
		{pixbuf.Region{X: 10, Y: 20, Width: 30, Height: 5}, pixbuf.Region{X: 10, Y: 20, Width: 30, Height: 5}},
		{pixbuf.Region{X: 0, Y: 70, Width: 100, Height: 0}, pixbuf.Region{X: 0, Y: 70, Width: 100, Height: 10}},
		{pixbuf.Region{X: 99, Y: 79, Width: 1, Height: 1}, pixbuf.Region{X: 99, Y: 79, Width: 1, Height: 1}},
	}
	for _, tc := range tests {
		addr := pixbuf.TileAddress{ImageID: 1, Resolution: pixbuf.FullResolution, Region: tc.region}
		res := p.Process(context.Background(), addr, ownerCred)
		if res.Err != nil {
			t.Errorf("region %s: %v\n", tc.region, res.Err)
			continue
		}
		if !bytes.Equal(res.Body, crop(plane, 100, tc.expected)) {
			t.Errorf("region %s returned wrong pixels\n", tc.region)
		}
	}
	store.balanced(t)
}

func TestPipelineResolution(t *testing.T) {
	p := NewPipeline(newTestStore(t), false)

	// OMERO numbers levels from the smallest
	res := p.Process(context.Background(), pixbuf.TileAddress{ImageID: 1, Resolution: 0}, ownerCred)
	if res.Err != nil {
		t.Fatalf("resolution 0: %v\n", res.Err)
	}
	if len(res.Body) != 50*40*2 {
		t.Errorf("expected 50x40 plane at resolution 0, got %d bytes\n", len(res.Body))
	}
	res = p.Process(context.Background(), pixbuf.TileAddress{ImageID: 1, Resolution: 1}, ownerCred)
	if res.Err != nil || len(res.Body) != 100*80*2 {
		t.Errorf("expected full plane at resolution 1, got %d bytes, %v\n", len(res.Body), res.Err)
	}
	res = p.Process(context.Background(), pixbuf.TileAddress{ImageID: 1, Resolution: 2}, ownerCred)
	if res.Err == nil || res.Err.Kind != pixbuf.KindNotFound {
		t.Errorf("expected NotFound for missing level, got %+v\n", res.Err)
	}
}

func TestPipelinePNG(t *testing.T) {
	p := NewPipeline(newTestStore(t), false)
	addr := pixbuf.TileAddress{
		ImageID:    1,
		Resolution: pixbuf.FullResolution,
		Region:     pixbuf.Region{X: 5, Y: 5, Width: 20, Height: 10},
		Format:     pixbuf.FormatPNG,
	}
	res := p.Process(context.Background(), addr, ownerCred)
	if res.Err != nil {
		t.Fatalf("png tile: %v\n", res.Err)
	}
	img, err := png.Decode(bytes.NewReader(res.Body))
	if err != nil {
		t.Fatalf("tile is not a PNG: %v\n", err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 10 {
		t.Errorf("bad PNG size %v\n", img.Bounds())
	}
	if res.ContentType != "image/png" || res.Filename != "image1_z0_c0_t0_x5_y5_w20_h10.png" {
		t.Errorf("bad png result %q %q\n", res.ContentType, res.Filename)
	}
}

func TestPipelineFailures(t *testing.T) {
	store := &trackingStore{PixelStore: newTestStore(t)}
	full := pixbuf.FullResolution
	tests := []struct {
		name   string
		addr   pixbuf.TileAddress
		cred   pixbuf.Credential
		reveal bool
		kind   pixbuf.Kind
	}{
		{"missing image", pixbuf.TileAddress{ImageID: 42, Resolution: full}, ownerCred, false, pixbuf.KindNotFound},
		{"region past edge", pixbuf.TileAddress{ImageID: 1, Resolution: full, Region: pixbuf.Region{X: 90, Width: 20, Height: 10}}, ownerCred, false, pixbuf.KindInvalidRegion},
		{"negative offset", pixbuf.TileAddress{ImageID: 1, Resolution: full, Region: pixbuf.Region{X: -1, Width: 2, Height: 2}}, ownerCred, false, pixbuf.KindInvalidRegion},
		{"missing channel", pixbuf.TileAddress{ImageID: 1, C: 2, Resolution: full}, ownerCred, false, pixbuf.KindNotFound},
		{"missing z", pixbuf.TileAddress{ImageID: 1, Z: 1, Resolution: full}, ownerCred, false, pixbuf.KindNotFound},
		{"unknown format", pixbuf.TileAddress{ImageID: 1, Resolution: full, Format: "jpeg"}, ownerCred, false, pixbuf.KindUnsupportedFormat},
		{"hidden denial", pixbuf.TileAddress{ImageID: 1, Resolution: full}, strangerCred, false, pixbuf.KindNotFound},
		{"revealed denial", pixbuf.TileAddress{ImageID: 1, Resolution: full}, strangerCred, true, pixbuf.KindUnauthorized},
	}
	for _, tc := range tests {
		res := NewPipeline(store, tc.reveal).Process(context.Background(), tc.addr, tc.cred)
		if res.Err == nil {
			t.Errorf("%s: expected %s, got %d byte tile\n", tc.name, tc.kind, len(res.Body))
			continue
		}
		if res.Err.Kind != tc.kind {
			t.Errorf("%s: expected %s, got %v\n", tc.name, tc.kind, res.Err)
		}
		if res.Body != nil {
			t.Errorf("%s: failed result carries a body\n", tc.name)
		}
	}
	store.balanced(t)
}

func TestPipelineGroupRead(t *testing.T) {
	p := NewPipeline(newTestStore(t), false)
	member := pixbuf.Credential{SessionKey: "member", UserID: 8, GroupIDs: []int64{3}}
	res := p.Process(context.Background(), pixbuf.TileAddress{ImageID: 2, Resolution: pixbuf.FullResolution}, member)
	if res.Err != nil {
		t.Fatalf("group member read: %v\n", res.Err)
	}
	if !bytes.Equal(res.Body, bytes.Repeat([]byte{7}, 256)) {
		t.Errorf("bad pixels from zstd encoded plane\n")
	}
	res = p.Process(context.Background(), pixbuf.TileAddress{ImageID: 2, Resolution: pixbuf.FullResolution}, strangerCred)
	if res.Err == nil || res.Err.Kind != pixbuf.KindNotFound {
		t.Errorf("expected NotFound for non-member, got %+v\n", res.Err)
	}
}

func TestPipelinePixelTypes(t *testing.T) {
	store := &trackingStore{PixelStore: newTestStore(t)}
	p := NewPipeline(store, false)

	res := p.Process(context.Background(), pixbuf.TileAddress{ImageID: 3, Resolution: pixbuf.FullResolution}, ownerCred)
	if res.Err == nil || res.Err.Kind != pixbuf.KindUnsupportedFormat {
		t.Fatalf("expected UnsupportedFormat for bit image, got %+v\n", res.Err)
	}
	if !strings.Contains(res.Err.Error(), `"bit"`) {
		t.Errorf("error does not name the pixel type: %v\n", res.Err)
	}

	addr := pixbuf.TileAddress{ImageID: 4, Resolution: pixbuf.FullResolution, Format: pixbuf.FormatPNG}
	res = p.Process(context.Background(), addr, ownerCred)
	if res.Err == nil || res.Err.Kind != pixbuf.KindUnsupportedFormat {
		t.Errorf("expected UnsupportedFormat for float png, got %+v\n", res.Err)
	}
	addr.Format = pixbuf.FormatRaw
	res = p.Process(context.Background(), addr, ownerCred)
	if res.Err != nil || len(res.Body) != 4*4*4 {
		t.Errorf("raw float plane: %d bytes, %v\n", len(res.Body), res.Err)
	}
	store.balanced(t)
}
