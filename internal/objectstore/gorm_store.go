package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/signflow/internal/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps objects in the stored_objects table.
type GormStore struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	signer *URLSigner
}

func NewGormStore(db *gorm.DB, log *zap.Logger, clk clock.Clock, signer *URLSigner) *GormStore {
	return &GormStore{
		db:     db,
		log:    log.Named("objectstore"),
		clock:  clk,
		signer: signer,
	}
}

func (s *GormStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (PutResult, error) {
	bucket = strings.TrimSpace(bucket)
	key = strings.TrimSpace(key)
	if bucket == "" || key == "" || len(data) == 0 {
		return PutResult{}, ErrInvalidObject
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}

	sum := sha256.Sum256(data)
	etag := hex.EncodeToString(sum[:])
	now := s.clock.Now()

	row := StoredObject{
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		ETag:        etag,
		Size:        int64(len(data)),
		Data:        data,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bucket"}, {Name: "object_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"content_type", "etag", "size", "data", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return PutResult{}, fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}

	s.log.Debug("object stored",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int("size", len(data)),
	)
	return PutResult{ETag: etag, Size: int64(len(data))}, nil
}

func (s *GormStore) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	var row StoredObject
	err := s.db.WithContext(ctx).Raw(
		`SELECT bucket, object_key, content_type, etag, size, data, created_at, updated_at
		FROM stored_objects WHERE bucket = ? AND object_key = ?`,
		bucket, key,
	).Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	if row.Key == "" {
		return nil, ErrObjectNotFound.With("key", key)
	}
	return &Object{
		Bucket:      row.Bucket,
		Key:         row.Key,
		ContentType: row.ContentType,
		ETag:        row.ETag,
		Data:        row.Data,
		CreatedAt:   row.CreatedAt,
	}, nil
}

// GetObjectURL signs a download URL. The object must exist.
func (s *GormStore) GetObjectURL(ctx context.Context, bucket, key string, ttl time.Duration, responseContentType string) (string, error) {
	if ttl <= 0 {
		return "", errors.New("object url ttl must be positive")
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&StoredObject{}).
		Where("bucket = ? AND object_key = ?", bucket, key).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "", ErrObjectNotFound.With("key", key)
	}
	return s.signer.Sign(bucket, key, ttl, responseContentType)
}

// Resolve verifies a URL token and loads the object it points to.
func (s *GormStore) Resolve(ctx context.Context, token string) (*Object, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, err
	}
	obj, err := s.GetObject(ctx, claims.Bucket, claims.Key)
	if err != nil {
		return nil, err
	}
	if claims.ContentType != "" {
		obj.ContentType = claims.ContentType
	}
	return obj, nil
}

var _ Store = (*GormStore)(nil)
