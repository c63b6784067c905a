// Package objectstore keeps document, signature and certificate bytes and
// hands out short-lived signed download URLs for them.
package objectstore

import (
	"context"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/signflow/pkg/apperror"
)

// Store is the durable object store port.
type Store interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (PutResult, error)
	GetObjectURL(ctx context.Context, bucket, key string, ttl time.Duration, responseContentType string) (string, error)
	GetObject(ctx context.Context, bucket, key string) (*Object, error)
}

type PutResult struct {
	ETag string
	Size int64
}

type Object struct {
	Bucket      string
	Key         string
	ContentType string
	ETag        string
	Data        []byte
	CreatedAt   time.Time
}

// StoredObject is the row layout of the database-backed store.
type StoredObject struct {
	Bucket      string    `gorm:"primaryKey;size:128"`
	Key         string    `gorm:"column:object_key;primaryKey;size:512"`
	ContentType string    `gorm:"type:text;not null"`
	ETag        string    `gorm:"column:etag;type:text;not null"`
	Size        int64     `gorm:"not null"`
	Data        []byte    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (StoredObject) TableName() string { return "stored_objects" }

var (
	ErrInvalidObject  = apperror.Validation("invalid_object", "bucket, key and data are required")
	ErrObjectNotFound = apperror.NotFound("object_not_found", "object not found")
	ErrInvalidURL     = apperror.Forbidden("invalid_object_url", "object url is invalid")
	ErrURLExpired     = apperror.Expired("object_url_expired", "object url has expired")
)

// Key joins path segments into an object key. Each segment is slugged, the
// last segment keeps its extension.
func Key(parts ...string) string {
	segments := make([]string, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i == len(parts)-1 {
			segments = append(segments, fileName(part))
			continue
		}
		segments = append(segments, slug.Make(part))
	}
	return strings.Join(segments, "/")
}

func fileName(name string) string {
	ext := ""
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		ext = strings.ToLower(name[idx:])
		name = name[:idx]
	}
	base := slug.Make(name)
	if base == "" {
		base = "object"
	}
	return base + ext
}
