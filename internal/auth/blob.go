package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joshp123/gohome-skyport/internal/config"
)

var ErrBlobNotFound = errors.New("auth blob not found")

// BlobStore mirrors token state to object storage.
type BlobStore interface {
	Load(ctx context.Context, provider string) ([]byte, error)
	Save(ctx context.Context, provider string, data []byte) error
}

type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store returns nil without error when no blob section is configured.
func NewS3Store(cfg *config.BlobConfig) (*S3Store, error) {
	if cfg == nil {
		return nil, nil
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	prefix := strings.TrimSpace(cfg.Prefix)
	region := strings.TrimSpace(cfg.Region)

	if endpoint == "" || bucket == "" || cfg.AccessKeyFile == "" || cfg.SecretKeyFile == "" {
		return nil, fmt.Errorf("missing blob configuration")
	}

	accessKey, err := ReadSecretFile(cfg.AccessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob access key: %w", err)
	}
	secretKey, err := ReadSecretFile(cfg.SecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob secret key: %w", err)
	}

	host, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	if prefix == "" {
		prefix = config.DefaultBlobPrefix
	}

	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) Load(ctx context.Context, provider string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(provider), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return nil, s.wrapError(err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *S3Store) Save(ctx context.Context, provider string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, s.key(provider), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return s.wrapError(err)
	}
	return nil
}

func (s *S3Store) key(provider string) string {
	return path.Join(s.prefix, provider+".json")
}

func (s *S3Store) wrapError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrBlobNotFound
	}
	return err
}

// PersistResult reports where state was written.
type PersistResult struct {
	StatePath string
	BlobSaved bool
}

// PersistState writes state to disk and, when blob is set, to object storage.
func PersistState(ctx context.Context, provider, statePath string, state State, blob BlobStore) (PersistResult, error) {
	if statePath == "" {
		return PersistResult{}, fmt.Errorf("state path missing")
	}
	if err := WriteState(statePath, state); err != nil {
		return PersistResult{}, err
	}

	result := PersistResult{StatePath: statePath}
	if blob == nil {
		return result, nil
	}
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return result, err
	}
	if err := blob.Save(ctx, provider, payload); err != nil {
		return result, fmt.Errorf("save blob: %w", err)
	}
	result.BlobSaved = true
	return result, nil
}

func parseEndpoint(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint: %w", err)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint: %q", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, true, nil
}

// ReadSecretFile returns the trimmed contents of a secret file.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
