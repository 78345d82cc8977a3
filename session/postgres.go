package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionQuery = `SELECT session_data FROM django_session WHERE session_key = $1 AND expire_date > now()`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresResolver reads OMERO.web session documents from Django's session table.
type PostgresResolver struct {
	leases
	db    rowQuerier
	ping  func(context.Context) error
	close func()
}

// NewPostgresResolver opens a connection pool on a URI like "postgres://user:pw@host/omeroweb".
func NewPostgresResolver(ctx context.Context, uri string) (*PostgresResolver, error) {
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("can't open postgres session store: %v", err)
	}
	pixbuf.Infof("Using postgres session store @ %s/%s\n", pool.Config().ConnConfig.Host, pool.Config().ConnConfig.Database)
	return &PostgresResolver{db: pool, ping: pool.Ping, close: pool.Close}, nil
}

func (p *PostgresResolver) Resolve(ctx context.Context, key string) (*Lease, error) {
	if key == "" {
		return nil, invalid("no session key")
	}
	var data string
	err := p.db.QueryRow(ctx, sessionQuery, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, invalid("unknown or expired session key")
	}
	if err != nil {
		return nil, unavailable(err)
	}
	cred, err := parseDocument([]byte(data))
	if err != nil {
		return nil, err
	}
	return p.lease(cred), nil
}

func (p *PostgresResolver) Ping(ctx context.Context) error {
	if p.ping == nil {
		return nil
	}
	return p.ping(ctx)
}

func (p *PostgresResolver) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
