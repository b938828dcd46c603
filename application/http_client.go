package application

import "context"

// HTTPClient performs one HTTPS exchange against host. A nil body issues a GET,
// anything else a JSON POST. The returned body is owned by the caller.
type HTTPClient interface {
	Request(ctx context.Context, host, path string, body []byte) ([]byte, error)
}

// SyncCache keeps the last accepted sync result per device. Load returns a nil
// result without error on a miss.
type SyncCache interface {
	Load(ctx context.Context, cpid, duid string) (*SyncResult, error)
	Store(ctx context.Context, cpid, duid string, result *SyncResult) error
	Invalidate(ctx context.Context, cpid, duid string) error
}
