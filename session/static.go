package session

import (
	"context"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
)

// StaticSession is a configured credential for the static resolver.
type StaticSession struct {
	OmeroSessionKey string  `toml:"omero_session_key"`
	UserID          int64   `toml:"user_id"`
	GroupIDs        []int64 `toml:"group_ids"`
	Admin           bool
}

// StaticResolver serves a fixed set of sessions.
type StaticResolver struct {
	leases
	sessions map[string]pixbuf.Credential
}

func NewStaticResolver(sessions map[string]StaticSession) *StaticResolver {
	s := &StaticResolver{sessions: make(map[string]pixbuf.Credential, len(sessions))}
	for key, ss := range sessions {
		omeroKey := ss.OmeroSessionKey
		if omeroKey == "" {
			omeroKey = key
		}
		s.sessions[key] = pixbuf.Credential{
			SessionKey: omeroKey,
			UserID:     ss.UserID,
			GroupIDs:   append([]int64(nil), ss.GroupIDs...),
			Admin:      ss.Admin,
		}
	}
	return s
}

func (s *StaticResolver) Resolve(ctx context.Context, key string) (*Lease, error) {
	cred, found := s.sessions[key]
	if !found || key == "" {
		return nil, invalid("unknown session key")
	}
	return s.lease(cred.Clone()), nil
}

func (s *StaticResolver) Ping(ctx context.Context) error { return nil }

func (s *StaticResolver) Close() error { return nil }
