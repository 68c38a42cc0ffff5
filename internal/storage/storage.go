// Package storage is the object storage gateway backed by Supabase Storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
)

const provider = "supabase-storage"

type Object struct {
	Key string
	URL string
}

type Gateway interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (Object, error)
	Delete(ctx context.Context, keys ...string) error
}

// bucketClient is the subset of the storage-go client used here.
type bucketClient interface {
	UploadFile(bucketID, relativePath string, data io.Reader, opts ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketID, filePath string, opts ...storage_go.UrlOptions) storage_go.SignedUrlResponse
	RemoveFile(bucketID string, paths []string) ([]storage_go.FileUploadResponse, error)
}

type supabaseGateway struct {
	client bucketClient
	bucket string
}

func NewSupabaseGateway(cfg config.SupabaseConfig) Gateway {
	client := storage_go.NewClient(cfg.URL+"/storage/v1", cfg.ServiceKey, nil)
	return &supabaseGateway{client: client, bucket: cfg.StorageBucket}
}

func (g *supabaseGateway) Upload(ctx context.Context, key, contentType string, data []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	upsert := false
	_, err := g.client.UploadFile(g.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Str("bucket", g.bucket).Msg("storage: upload failed")
		return Object{}, apperr.Upstream(provider, fmt.Errorf("upload %s: %w", key, err))
	}

	url := g.client.GetPublicUrl(g.bucket, key).SignedURL
	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("storage: object uploaded")
	return Object{Key: key, URL: url}, nil
}

func (g *supabaseGateway) Delete(ctx context.Context, keys ...string) error {
	keys = nonEmpty(keys)
	if len(keys) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.client.RemoveFile(g.bucket, keys); err != nil {
		return apperr.Upstream(provider, fmt.Errorf("remove %s: %w", strings.Join(keys, ","), err))
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Key builds "<prefix>/<uuid>-<sanitized name>".
func Key(prefix, filename string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("storage: failed to generate key: %w", err)
	}
	name := SanitizeName(path.Base(filename))
	if name == "" || name == "." || name == "_" {
		name = "file"
	}
	return fmt.Sprintf("%s/%s-%s", strings.Trim(prefix, "/"), id, name), nil
}

// SanitizeName replaces every character outside [A-Za-z0-9_.-] with an underscore.
func SanitizeName(name string) string {
	return unsafeName.ReplaceAllString(name, "_")
}

func nonEmpty(keys []string) []string {
	out := keys[:0:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
