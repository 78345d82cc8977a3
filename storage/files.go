package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FileInfo describes an original file.  The file's bytes are stored next to its info
// document.
type FileInfo struct {
	ID       int64  `json:"-"`
	Name     string `json:"name"`
	Mimetype string `json:"mimetype,omitempty"`
	Size     int64  `json:"size"`
	Access
}

// AnnotationInfo is a file annotation, a link to one original file.
type AnnotationInfo struct {
	File int64 `json:"file"`
	Access
}

const accessSchema = `
		"owner": {"type": "integer"},
		"group": {"type": "integer"},
		"permissions": {"type": "string", "pattern": "^[r-][w-][r-][wa-][r-][w-]$"}`

var (
	fileSchema = jsonschema.MustCompileString("file.schema.json", `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "size", "owner", "group", "permissions"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"mimetype": {"type": "string"},
		"size": {"type": "integer", "minimum": 0},`+accessSchema+`
	}
}`)

	annotationSchema = jsonschema.MustCompileString("annotation.schema.json", `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["file", "owner", "group", "permissions"],
	"properties": {
		"file": {"type": "integer", "minimum": 1},`+accessSchema+`
	}
}`)
)

// ParseFileInfo validates and decodes an original file's info document.
func ParseFileInfo(data []byte) (*FileInfo, error) {
	var f FileInfo
	if err := decodeDocument("file", fileSchema, data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseAnnotationInfo validates and decodes a file annotation document.
func ParseAnnotationInfo(data []byte) (*AnnotationInfo, error) {
	var a AnnotationInfo
	if err := decodeDocument("annotation", annotationSchema, data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BlobStore) fileKey(fileID int64, name string) string {
	return path.Join(s.prefix, "files", strconv.FormatInt(fileID, 10), name)
}

func (s *BlobStore) annotationKey(annotationID int64) string {
	return path.Join(s.prefix, "annotations", strconv.FormatInt(annotationID, 10)+".json")
}

// OriginalFile returns the info of an original file the credential may read.
func (s *BlobStore) OriginalFile(ctx context.Context, fileID int64, cred pixbuf.Credential) (*FileInfo, error) {
	data, err := s.bucket.ReadAll(ctx, s.fileKey(fileID, "info.json"))
	if err != nil {
		return nil, classifyBlobError("file", fmt.Errorf("original file %d: %w", fileID, err))
	}
	f, err := ParseFileInfo(data)
	if err != nil {
		return nil, pixbuf.WrapError(pixbuf.KindStoreError, "file", fmt.Errorf("original file %d: %v", fileID, err))
	}
	if !f.Readable(cred) {
		return nil, pixbuf.WrapError(pixbuf.KindUnauthorized, "file",
			fmt.Errorf("user %d on original file %d: %w", cred.UserID, fileID, ErrPermissionDenied))
	}
	f.ID = fileID
	return f, nil
}

// FileAnnotation returns the original file linked by a file annotation.  Both the
// annotation and the file must be readable.
func (s *BlobStore) FileAnnotation(ctx context.Context, annotationID int64, cred pixbuf.Credential) (*FileInfo, error) {
	data, err := s.bucket.ReadAll(ctx, s.annotationKey(annotationID))
	if err != nil {
		return nil, classifyBlobError("annotation", fmt.Errorf("annotation %d: %w", annotationID, err))
	}
	a, err := ParseAnnotationInfo(data)
	if err != nil {
		return nil, pixbuf.WrapError(pixbuf.KindStoreError, "annotation", fmt.Errorf("annotation %d: %v", annotationID, err))
	}
	if !a.Readable(cred) {
		return nil, pixbuf.WrapError(pixbuf.KindUnauthorized, "annotation",
			fmt.Errorf("user %d on annotation %d: %w", cred.UserID, annotationID, ErrPermissionDenied))
	}
	return s.OriginalFile(ctx, a.File, cred)
}

// ImageFiles returns the original files of an image the credential may read.  Every
// file must be readable as well.
func (s *BlobStore) ImageFiles(ctx context.Context, imageID int64, cred pixbuf.Credential) ([]*FileInfo, error) {
	data, err := s.bucket.ReadAll(ctx, s.infoKey(imageID))
	if err != nil {
		return nil, classifyBlobError("files", fmt.Errorf("image %d: %w", imageID, err))
	}
	info, err := ParseImageInfo(data)
	if err != nil {
		return nil, pixbuf.WrapError(pixbuf.KindStoreError, "files", fmt.Errorf("image %d: %v", imageID, err))
	}
	if !info.Readable(cred) {
		return nil, pixbuf.WrapError(pixbuf.KindUnauthorized, "files",
			fmt.Errorf("user %d on image %d: %w", cred.UserID, imageID, ErrPermissionDenied))
	}
	if len(info.Files) == 0 {
		return nil, pixbuf.WrapError(pixbuf.KindNotFound, "files", fmt.Errorf("image %d has no original files: %w", imageID, ErrNotFound))
	}
	files := make([]*FileInfo, 0, len(info.Files))
	for _, id := range info.Files {
		f, err := s.OriginalFile(ctx, id, cred)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// OpenFile returns a reader over the bytes of an original file and their length.
func (s *BlobStore) OpenFile(ctx context.Context, f *FileInfo) (io.ReadCloser, int64, error) {
	rd, err := s.bucket.NewReader(ctx, s.fileKey(f.ID, "data"), nil)
	if err != nil {
		return nil, 0, classifyBlobError("file", fmt.Errorf("original file %d: %w", f.ID, err))
	}
	return rd, rd.Size(), nil
}

// PutFile stores an original file and its info document.  The size is taken from data.
func (s *BlobStore) PutFile(ctx context.Context, f *FileInfo, data []byte) error {
	if f.ID <= 0 {
		return fmt.Errorf("original file needs a positive id, not %d", f.ID)
	}
	f.Size = int64(len(data))
	doc, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := ParseFileInfo(doc); err != nil {
		return err
	}
	if err := s.bucket.WriteAll(ctx, s.fileKey(f.ID, "data"), data, nil); err != nil {
		return err
	}
	return s.bucket.WriteAll(ctx, s.fileKey(f.ID, "info.json"), doc, nil)
}

// PutAnnotation stores a file annotation.
func (s *BlobStore) PutAnnotation(ctx context.Context, annotationID int64, a *AnnotationInfo) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if _, err := ParseAnnotationInfo(doc); err != nil {
		return err
	}
	return s.bucket.WriteAll(ctx, s.annotationKey(annotationID), doc, nil)
}

// AttachFile stores data as an original file of an image, with the image's ownership,
// and adds it to the image's file list.
func (s *BlobStore) AttachFile(ctx context.Context, imageID int64, f *FileInfo, data []byte) error {
	doc, err := s.bucket.ReadAll(ctx, s.infoKey(imageID))
	if err != nil {
		return classifyBlobError("attach", fmt.Errorf("image %d: %w", imageID, err))
	}
	info, err := ParseImageInfo(doc)
	if err != nil {
		return fmt.Errorf("image %d: %v", imageID, err)
	}
	f.Access = Access{Owner: info.Owner, Group: info.Group, Permissions: info.Permissions}
	if err := s.PutFile(ctx, f, data); err != nil {
		return err
	}
	for _, id := range info.Files {
		if id == f.ID {
			return nil
		}
	}
	info.Files = append(info.Files, f.ID)
	return s.PutInfo(ctx, imageID, info)
}
