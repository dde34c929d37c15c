// Package backup snapshots the SQLite database, seals it with a passphrase and
// ships it to an S3-compatible bucket.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"
)

const (
	keyPrefix = "choreboard-"
	keySuffix = ".db.enc"
	keyTime   = "20060102T150405Z"
)

// objectStore is the subset of the S3 client the manager uses.
type objectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds connection details for an S3-compatible store.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Configured reports whether enough is set to reach a bucket.
func (c S3Config) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	S3         S3Config
	Passphrase string
	// Prefix is prepended to every object key, e.g. "backups".
	Prefix string
	// Retention removes snapshots older than this after each run. Zero keeps all.
	Retention time.Duration
}

// Snapshot describes one stored backup object.
type Snapshot struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type Manager struct {
	db     *sql.DB
	client objectStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// mu serializes runs so a slow upload never overlaps the next tick.
	mu sync.Mutex
}

// NewManager builds a manager backed by a real S3 client.
func NewManager(db *sql.DB, cfg Config, logger *slog.Logger) (*Manager, error) {
	if !cfg.S3.Configured() {
		return nil, errors.New("backup not configured: S3 bucket and credentials required")
	}
	if cfg.Passphrase == "" {
		return nil, errors.New("backup not configured: passphrase required")
	}
	return newManager(db, newS3Client(cfg.S3), cfg, logger), nil
}

func newManager(db *sql.DB, client objectStore, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		db:     db,
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "backup"),
		now:    time.Now,
	}
}

func newS3Client(cfg S3Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (m *Manager) objectKey(t time.Time) string {
	name := keyPrefix + t.UTC().Format(keyTime) + keySuffix
	if m.cfg.Prefix == "" {
		return name
	}
	return path.Join(m.cfg.Prefix, name)
}

// RunNow takes a consistent snapshot, seals it and uploads it. Expired
// snapshots are pruned afterwards; a pruning failure is logged, not returned.
func (m *Manager) RunNow(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.now()
	plain, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	sealed, err := Seal(plain, m.cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("seal snapshot: %w", err)
	}

	key := m.objectKey(start)
	if _, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	}); err != nil {
		return nil, fmt.Errorf("upload snapshot: %w", err)
	}

	snap := &Snapshot{Key: key, Size: int64(len(sealed)), CreatedAt: start.UTC()}
	m.logger.Info("backup uploaded", "key", key, "bytes", snap.Size, "duration", m.now().Sub(start))

	if m.cfg.Retention > 0 {
		if n, err := m.prune(ctx); err != nil {
			m.logger.Warn("prune backups failed", "error", err)
		} else if n > 0 {
			m.logger.Info("pruned old backups", "deleted", n)
		}
	}
	return snap, nil
}

// snapshot copies the live database with VACUUM INTO, which produces a
// consistent single-file image without stopping writers.
func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "choreboard-backup-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", file); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// List returns stored snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Snapshot, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(m.cfg.S3.Bucket)}
	if m.cfg.Prefix != "" {
		input.Prefix = aws.String(m.cfg.Prefix + "/")
	}

	var out []Snapshot
	pages := s3.NewListObjectsV2Paginator(m.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			created, ok := parseKeyTime(key)
			if !ok {
				continue
			}
			out = append(out, Snapshot{Key: key, Size: aws.ToInt64(obj.Size), CreatedAt: created})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// parseKeyTime reads the timestamp embedded in a snapshot key. Keys that
// were not written by this package are ignored.
func parseKeyTime(key string) (time.Time, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, keyPrefix) || !strings.HasSuffix(name, keySuffix) {
		return time.Time{}, false
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(name, keyPrefix), keySuffix)
	t, err := time.Parse(keyTime, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (m *Manager) prune(ctx context.Context) (int, error) {
	snaps, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-m.cfg.Retention)
	deleted := 0
	for i, s := range snaps {
		// Never delete the newest snapshot, however old.
		if i == 0 || !s.CreatedAt.Before(cutoff) {
			continue
		}
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(s.Key),
		}); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", s.Key, err)
		}
		deleted++
	}
	return deleted, nil
}

// Restore downloads key, unseals it, verifies the image and writes it to
// dst. The server must not have dst open.
func (m *Manager) Restore(ctx context.Context, key, dst string) error {
	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	sealed, err := io.ReadAll(result.Body)
	result.Body.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}

	plain, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return err
	}

	tmp := dst + ".restore"
	if err := os.WriteFile(tmp, plain, 0o600); err != nil {
		return fmt.Errorf("write restore file: %w", err)
	}
	if err := integrityCheck(ctx, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dst + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			os.Remove(tmp)
			return fmt.Errorf("remove %s: %w", dst+suffix, err)
		}
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace database: %w", err)
	}
	m.logger.Info("backup restored", "key", key, "path", dst)
	return nil
}

func integrityCheck(ctx context.Context, file string) error {
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

// Schedule runs a backup on each tick of the cron spec, evaluated in loc,
// until ctx is cancelled. It waits for an in-flight backup before returning.
func (m *Manager) Schedule(ctx context.Context, spec string, loc *time.Location) error {
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		if _, err := m.RunNow(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("scheduled backup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("backup schedule %q: %w", spec, err)
	}

	m.logger.Info("backup schedule started", "schedule", spec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
