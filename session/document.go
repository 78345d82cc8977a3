package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
)

// connector is the part of an OMERO.web session document describing the server session.
type connector struct {
	OmeroSessionKey string  `json:"omero_session_key"`
	UserID          int64   `json:"user_id"`
	GroupIDs        []int64 `json:"group_ids"`
	IsAdmin         bool    `json:"is_admin"`
}

type document struct {
	Connector *connector `json:"connector"`
}

// parseDocument decodes a session document, either plain JSON or Django's legacy
// base64 "hash:json" encoding, into a credential.
func parseDocument(data []byte) (pixbuf.Credential, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return pixbuf.Credential{}, invalid("empty session document")
	}
	if data[0] != '{' {
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return pixbuf.Credential{}, invalid("session document neither JSON nor base64: %v", err)
		}
		sep := bytes.IndexByte(decoded, ':')
		if sep < 0 {
			return pixbuf.Credential{}, invalid("legacy session document without hash separator")
		}
		data = decoded[sep+1:]
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return pixbuf.Credential{}, invalid("undecodable session document: %v", err)
	}
	if doc.Connector == nil || doc.Connector.OmeroSessionKey == "" {
		return pixbuf.Credential{}, invalid("session has no OMERO server session")
	}
	return pixbuf.Credential{
		SessionKey: doc.Connector.OmeroSessionKey,
		UserID:     doc.Connector.UserID,
		GroupIDs:   doc.Connector.GroupIDs,
		Admin:      doc.Connector.IsAdmin,
	}, nil
}
