package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// LevelInfo is the plane size at one pyramid level.
type LevelInfo struct {
	SizeX int `json:"size_x"`
	SizeY int `json:"size_y"`
}

// ImageInfo is the info document stored with every image.  Levels[0] is full resolution
// and each following level is smaller.
type ImageInfo struct {
	Owner       int64            `json:"owner"`
	Group       int64            `json:"group"`
	Permissions string           `json:"permissions"`
	PixelsType  pixbuf.PixelType `json:"pixels_type"`
	SizeZ       int              `json:"size_z"`
	SizeC       int              `json:"size_c"`
	SizeT       int              `json:"size_t"`
	Encoding    string           `json:"encoding,omitempty"`
	Levels      []LevelInfo      `json:"levels"`

	// Files lists the original files the image was imported from.
	Files []int64 `json:"files,omitempty"`
}

const infoSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["owner", "group", "permissions", "pixels_type", "size_z", "size_c", "size_t", "levels"],
	"properties": {
		"owner": {"type": "integer"},
		"group": {"type": "integer"},
		"permissions": {"type": "string", "pattern": "^[r-][w-][r-][wa-][r-][w-]$"},
		"pixels_type": {"enum": ["int8", "uint8", "int16", "uint16", "int32", "uint32", "float", "double", "bit"]},
		"size_z": {"type": "integer", "minimum": 1},
		"size_c": {"type": "integer", "minimum": 1},
		"size_t": {"type": "integer", "minimum": 1},
		"encoding": {"enum": ["raw", "gzip", "zstd", "snappy", "lz4"]},
		"files": {"type": "array", "items": {"type": "integer", "minimum": 1}},
		"levels": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["size_x", "size_y"],
				"properties": {
					"size_x": {"type": "integer", "minimum": 1},
					"size_y": {"type": "integer", "minimum": 1}
				}
			}
		}
	}
}`

var compiledInfoSchema = jsonschema.MustCompileString("info.schema.json", infoSchema)

// ParseImageInfo validates and decodes an info document.
func ParseImageInfo(data []byte) (*ImageInfo, error) {
	var info ImageInfo
	if err := decodeDocument("info", compiledInfoSchema, data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// decodeDocument validates a JSON document against a schema before decoding it into v.
func decodeDocument(what string, schema *jsonschema.Schema, data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%s document is not JSON: %v", what, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s document is invalid: %v", what, err)
	}
	return json.Unmarshal(data, v)
}

// Access is the ownership of a stored object.  Permissions follow OMERO's six character
// form, e.g., "rwr---": owner, group and world read/write.
type Access struct {
	Owner       int64  `json:"owner"`
	Group       int64  `json:"group"`
	Permissions string `json:"permissions"`
}

// Readable returns true if the credential may read an object with this access.
func (a Access) Readable(cred pixbuf.Credential) bool {
	if cred.Admin || cred.UserID == a.Owner {
		return true
	}
	if len(a.Permissions) != 6 {
		return false
	}
	if a.Permissions[2] == 'r' && cred.InGroup(a.Group) {
		return true
	}
	return a.Permissions[4] == 'r'
}

// Readable returns true if the credential may read an image with this info.
func (info *ImageInfo) Readable(cred pixbuf.Credential) bool {
	return Access{Owner: info.Owner, Group: info.Group, Permissions: info.Permissions}.Readable(cred)
}

// level maps an OMERO resolution level onto an index into Levels.  OMERO numbers levels
// from the smallest, so the highest level is full resolution.
func (info *ImageInfo) level(resolution int) (int, error) {
	if resolution == pixbuf.FullResolution {
		return 0, nil
	}
	n := len(info.Levels)
	if resolution < 0 || resolution >= n {
		return 0, fmt.Errorf("resolution level %d of %d: %w", resolution, n, ErrNotFound)
	}
	return n - 1 - resolution, nil
}

func (info *ImageInfo) encoding() string {
	if info.Encoding == "" {
		return "raw"
	}
	return info.Encoding
}
