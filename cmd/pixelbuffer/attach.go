package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newAttachCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <file>",
		Short: "Store an original file of an imported image",
		Long: `attach stores a file as one of the original files of an image already in the pixel
store.  The file gets the image's ownership and is served on /file/{fileId} and in the
image's /zip archive.  With --annotation it is also linked by a file annotation.`,
		Args: cobra.ExactArgs(1),
		RunE: attachFile,
	}
	flags := cmd.Flags()
	flags.Int64("image", 0, "image id")
	flags.Int64("file-id", 0, "original file id")
	flags.String("name", "", "stored file name, defaults to the file's base name")
	flags.String("mimetype", "", "file mimetype")
	flags.Int64("annotation", 0, "if positive, id of a file annotation linking the file")
	return cmd
}

func attachFile(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer pixbuf.Shutdown()

	flags := cmd.Flags()
	imageID, _ := flags.GetInt64("image")
	fileID, _ := flags.GetInt64("file-id")
	if imageID <= 0 || fileID <= 0 {
		return fmt.Errorf("--image and --file-id must be positive ids")
	}
	f := &storage.FileInfo{ID: fileID}
	f.Name, _ = flags.GetString("name")
	if f.Name == "" {
		f.Name = filepath.Base(args[0])
	}
	f.Mimetype, _ = flags.GetString("mimetype")
	annotationID, _ := flags.GetInt64("annotation")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := storage.Open(ctx, c.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.AttachFile(ctx, imageID, f, data); err != nil {
		return fmt.Errorf("can't attach %s to image %d: %v", args[0], imageID, err)
	}
	if annotationID > 0 {
		if err := store.PutAnnotation(ctx, annotationID, &storage.AnnotationInfo{File: fileID, Access: f.Access}); err != nil {
			return fmt.Errorf("can't store annotation %d: %v", annotationID, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Attached %s to image %d as file %d, %s\n",
		f.Name, imageID, fileID, humanize.Bytes(uint64(f.Size)))
	return nil
}
