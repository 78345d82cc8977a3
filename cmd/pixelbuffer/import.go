package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <z,c,t=plane file>...",
		Short: "Load raw image planes into the pixel store",
		Long: `import stores an image's info document and its planes in the configured pixel store.

Each argument names the plane file for one z, c and t, e.g., "0,1,0=plane_c1.raw".
Plane files hold the full resolution plane as big-endian samples, row by row.
Smaller pyramid levels are computed by halving the plane for each extra level.`,
		Args: cobra.MinimumNArgs(1),
		RunE: importPlanes,
	}
	flags := cmd.Flags()
	flags.Int64("image", 0, "image id")
	flags.String("type", "uint16", "pixel type")
	flags.Int("width", 0, "plane width in pixels")
	flags.Int("height", 0, "plane height in pixels")
	flags.Int("levels", 1, "number of resolution levels")
	flags.String("encoding", "raw", "plane encoding: raw, gzip, zstd, snappy or lz4")
	flags.Int64("owner", 0, "owner user id")
	flags.Int64("group", 0, "group id")
	flags.String("permissions", "rw----", "OMERO permissions string")
	return cmd
}

type planeFile struct {
	z, c, t int
	path    string
}

func parsePlaneArg(arg string) (planeFile, error) {
	var p planeFile
	parts := strings.SplitN(arg, "=", 2)
	if len(parts) != 2 || parts[1] == "" {
		return p, fmt.Errorf("plane argument %q is not of form z,c,t=file", arg)
	}
	if n, err := fmt.Sscanf(parts[0], "%d,%d,%d", &p.z, &p.c, &p.t); err != nil || n != 3 {
		return p, fmt.Errorf("bad plane coordinates in %q", arg)
	}
	if p.z < 0 || p.c < 0 || p.t < 0 {
		return p, fmt.Errorf("negative plane coordinates in %q", arg)
	}
	p.path = parts[1]
	return p, nil
}

func importPlanes(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer pixbuf.Shutdown()

	flags := cmd.Flags()
	imageID, _ := flags.GetInt64("image")
	if imageID <= 0 {
		return fmt.Errorf("--image must be a positive image id")
	}
	pixelType, _ := flags.GetString("type")
	width, _ := flags.GetInt("width")
	height, _ := flags.GetInt("height")
	levels, _ := flags.GetInt("levels")
	if width <= 0 || height <= 0 || levels <= 0 {
		return fmt.Errorf("--width, --height and --levels must be positive")
	}
	if !pixbuf.PixelType(pixelType).Valid() {
		return fmt.Errorf("unknown pixel type %q", pixelType)
	}
	bpp, err := pixbuf.PixelType(pixelType).BytesPerPixel()
	if err != nil {
		return fmt.Errorf("can't import %s planes: %v", pixelType, err)
	}

	var planes []planeFile
	info := &storage.ImageInfo{PixelsType: pixbuf.PixelType(pixelType)}
	info.Owner, _ = flags.GetInt64("owner")
	info.Group, _ = flags.GetInt64("group")
	info.Permissions, _ = flags.GetString("permissions")
	info.Encoding, _ = flags.GetString("encoding")
	for _, arg := range args {
		p, err := parsePlaneArg(arg)
		if err != nil {
			return err
		}
		planes = append(planes, p)
		info.SizeZ = maxInt(info.SizeZ, p.z+1)
		info.SizeC = maxInt(info.SizeC, p.c+1)
		info.SizeT = maxInt(info.SizeT, p.t+1)
	}
	sizeX, sizeY := width, height
	for i := 0; i < levels; i++ {
		info.Levels = append(info.Levels, storage.LevelInfo{SizeX: sizeX, SizeY: sizeY})
		sizeX, sizeY = (sizeX+1)/2, (sizeY+1)/2
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, c.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.PutInfo(ctx, imageID, info); err != nil {
		return fmt.Errorf("can't store info for image %d: %v", imageID, err)
	}
	var total uint64
	for _, p := range planes {
		data, err := os.ReadFile(p.path)
		if err != nil {
			return err
		}
		sizeX, sizeY := width, height
		for level := 0; level < levels; level++ {
			if level > 0 {
				data, sizeX, sizeY = storage.Downsample(data, sizeX, sizeY, bpp)
			}
			if err := store.PutPlane(ctx, imageID, info, level, p.z, p.c, p.t, data); err != nil {
				return fmt.Errorf("plane %s: %v", p.path, err)
			}
			total += uint64(len(data))
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored image %d: %d planes, %d levels, %s of pixels\n",
		imageID, len(planes), levels, humanize.Bytes(total))
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
