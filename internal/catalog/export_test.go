package catalog

import "context"

// Conn exports the connection interface for testing.
type Conn = conn

// SetDialer replaces the function used to open connections.
func (r *Repository) SetDialer(d func(ctx context.Context, dsn string) (Conn, error)) {
	r.dial = d
}

var ExportEscapeLike = escapeLike
