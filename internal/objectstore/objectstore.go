// Package objectstore stores uploaded artifacts behind an opaque handle.
//
// Two backends are provided: a local filesystem tree (handles "fs://<key>")
// and an S3-compatible bucket (handles "s3://<bucket>/<key>"). Keys are
// generated by the store; callers never choose paths.
package objectstore

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/config"
	"sentinel/internal/services"
)

// Handle is an opaque artifact reference persisted on submissions.
type Handle string

// Metadata describes an artifact at write time.
type Metadata struct {
	SubmitterID string
	MediaType   string
}

// Store is the object storage collaborator used by intake and scoring.
type Store interface {
	Put(ctx context.Context, data []byte, meta Metadata) (Handle, error)
	Get(ctx context.Context, handle Handle) ([]byte, error)
}

const (
	schemeFilesystem = "fs"
	schemeS3         = "s3"
)

// New constructs the backend selected in cfg.
func New(cfg *config.Config) (Store, error) {
	switch cfg.ObjectStorage.Backend {
	case config.ObjectBackendFilesystem, "":
		return NewFilesystem(cfg.Paths.ObjectDir)
	case config.ObjectBackendS3:
		return NewS3(S3Options{
			Bucket:       cfg.ObjectStorage.Bucket,
			Endpoint:     cfg.ObjectStorage.Endpoint,
			Region:       cfg.ObjectStorage.Region,
			AccessKey:    cfg.ObjectStorage.AccessKey,
			SecretKey:    cfg.ObjectStorage.SecretKey,
			UsePathStyle: cfg.ObjectStorage.UsePathStyle,
		})
	default:
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "new",
			fmt.Sprintf("unsupported backend %q", cfg.ObjectStorage.Backend), nil)
	}
}

// newKey returns a date-partitioned unique object key.
func newKey(now time.Time) string {
	now = now.UTC()
	return path.Join("artifacts", now.Format("2006"), now.Format("01"), uuid.NewString())
}

// ParseHandle splits a handle into scheme, bucket (S3 only), and key.
func ParseHandle(handle Handle) (scheme, bucket, key string, err error) {
	raw := string(handle)
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || rest == "" {
		return "", "", "", services.Invalid("artifact_handle", fmt.Sprintf("malformed handle %q", raw))
	}
	switch scheme {
	case schemeFilesystem:
		key = rest
	case schemeS3:
		bucket, key, ok = strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return "", "", "", services.Invalid("artifact_handle", fmt.Sprintf("malformed s3 handle %q", raw))
		}
	default:
		return "", "", "", services.Invalid("artifact_handle", fmt.Sprintf("unknown scheme %q", scheme))
	}
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key || strings.HasPrefix(key, "../") {
		return "", "", "", services.Invalid("artifact_handle", fmt.Sprintf("unsafe key %q", key))
	}
	return scheme, bucket, key, nil
}
