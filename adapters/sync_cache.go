package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"iotc-device-client/application"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const SyncCacheDefaultTTL = 24 * time.Hour

type SyncCacheParams struct {
	Path string
	TTL  time.Duration

	Now func() time.Time

	Log zerolog.Logger
}

func (s *SyncCacheParams) EnsureDefaults() {
	if s.TTL <= 0 {
		s.TTL = SyncCacheDefaultTTL
	}

	if s.Now == nil {
		s.Now = time.Now
	}
}

// SyncCache keeps accepted sync results in SQLite so a restart can skip
// discovery and sync.
type SyncCache struct {
	params SyncCacheParams

	db *sql.DB

	log zerolog.Logger
}

func NewSyncCache(params SyncCacheParams) (*SyncCache, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("Path is empty")
	}
	params.EnsureDefaults()

	if dir := filepath.Dir(params.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", params.Path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sync cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SyncCache{params: params, db: db, log: params.Log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sync cache: %w", err)
	}
	return s, nil
}

func (s *SyncCache) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS sync_results (
		cpid      TEXT    NOT NULL,
		duid      TEXT    NOT NULL,
		payload   TEXT    NOT NULL,
		stored_at INTEGER NOT NULL,
		PRIMARY KEY (cpid, duid)
	);
	`)
	return err
}

func (s *SyncCache) Load(ctx context.Context, cpid, duid string) (*application.SyncResult, error) {
	var payload string
	var storedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, stored_at FROM sync_results WHERE cpid = ? AND duid = ?`,
		cpid, duid,
	).Scan(&payload, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync result %s/%s: %w", cpid, duid, err)
	}

	age := s.params.Now().Sub(time.Unix(storedAt, 0))
	if age > s.params.TTL {
		s.log.Debug().Dur("age", age).Msg("cached sync result expired")
		return nil, nil
	}

	var result application.SyncResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		s.log.Warn().Err(err).Msg("dropping unreadable cached sync result")
		return nil, nil
	}
	if result.Status != application.SyncStatusOK || result.PublishTopic == "" {
		return nil, nil
	}
	return &result, nil
}

// Store upserts result. Anything but an ok result is ignored.
func (s *SyncCache) Store(ctx context.Context, cpid, duid string, result *application.SyncResult) error {
	if result == nil || result.Status != application.SyncStatusOK {
		return nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_results (cpid, duid, payload, stored_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (cpid, duid) DO UPDATE
		 SET payload = excluded.payload, stored_at = excluded.stored_at`,
		cpid, duid, string(payload), s.params.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store sync result %s/%s: %w", cpid, duid, err)
	}
	return nil
}

func (s *SyncCache) Invalidate(ctx context.Context, cpid, duid string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_results WHERE cpid = ? AND duid = ?`,
		cpid, duid,
	)
	if err != nil {
		return fmt.Errorf("invalidate sync result %s/%s: %w", cpid, duid, err)
	}
	return nil
}

func (s *SyncCache) Close() error {
	return s.db.Close()
}

var _ application.SyncCache = &SyncCache{}
