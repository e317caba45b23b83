package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store mirrors the token cache to S3-compatible object storage, so
// several hosts (or a reinstalled one) can share a login session
// instead of burning refresh tokens.
type S3Store struct {
	client  *minio.Client
	bucket  string
	key     string
	timeout time.Duration
}

// S3Config configures the object storage mirror.
type S3Config struct {
	Endpoint  string // host[:port] or http(s) URL
	Bucket    string
	Prefix    string // object key prefix, default "kumo"
	AccessKey string
	SecretKey string
	Region    string
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("tokens: incomplete s3 configuration")
	}

	host, secure, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("tokens: init s3 client: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "kumo"
	}

	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		key:     path.Join(prefix, "tokens.json"),
		timeout: 10 * time.Second,
	}, nil
}

func (s *S3Store) Load() (Pair, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return Pair{}, s.wrapError(err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return Pair{}, s.wrapError(err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return Pair{}, fmt.Errorf("tokens: read blob: %w", err)
	}

	var p Pair
	if err := json.Unmarshal(data, &p); err != nil || p.Empty() {
		return Pair{}, ErrNotFound
	}
	return p, nil
}

func (s *S3Store) Save(p Pair) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	reader := bytes.NewReader(data)
	_, err = s.client.PutObject(ctx, s.bucket, s.key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (s *S3Store) wrapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}

func parseEndpoint(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("tokens: parse endpoint: %w", err)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("tokens: invalid endpoint: %q", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, true, nil
}

// MirroredStore reads from the primary store first, falling back to
// the mirror (and backfilling the primary). Saves go to both; a mirror
// write failure does not fail the save.
type MirroredStore struct {
	Primary Store
	Mirror  Store
}

func (m *MirroredStore) Load() (Pair, error) {
	p, err := m.Primary.Load()
	if err == nil {
		return p, nil
	}
	p, merr := m.Mirror.Load()
	if merr != nil {
		return Pair{}, err
	}
	_ = m.Primary.Save(p)
	return p, nil
}

func (m *MirroredStore) Save(p Pair) error {
	if err := m.Primary.Save(p); err != nil {
		return err
	}
	_ = m.Mirror.Save(p)
	return nil
}
