// Package blob archives original upload bytes in S3-compatible object storage.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrDisabled = errors.New("upload archive not configured")
	ErrNotFound = errors.New("archived upload not found")
)

// Config selects the object store. An empty Endpoint disables the archive.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Object is an archived upload.
type Object struct {
	Filename    string
	ContentType string
	Data        []byte
}

type objectClient interface {
	ensureBucket(ctx context.Context, bucket string) error
	put(ctx context.Context, bucket, key string, data []byte, contentType string, meta map[string]string) error
	get(ctx context.Context, bucket, key string) (Object, map[string]string, error)
	list(ctx context.Context, bucket, prefix string) ([]string, error)
	remove(ctx context.Context, bucket, key string) error
}

// Archive stores originals under uploads/{sessionId}/{filename}. A nil *Archive is a
// disabled archive.
type Archive struct {
	client objectClient
	bucket string
}

// New connects to the object store and makes sure the bucket exists. It returns (nil, nil)
// when cfg.Endpoint is empty.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return newArchive(ctx, &minioClient{client: client}, cfg.Bucket)
}

func newArchive(ctx context.Context, client objectClient, bucket string) (*Archive, error) {
	if err := client.ensureBucket(ctx, bucket); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", bucket, err)
	}
	return &Archive{client: client, bucket: bucket}, nil
}

// Enabled reports whether uploads are archived.
func (a *Archive) Enabled() bool {
	return a != nil && a.client != nil
}

// Key returns the object key for a session's original upload.
func Key(sessionID, filename string) string {
	return "uploads/" + sessionID + "/" + cleanFilename(filename)
}

func cleanFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "upload"
	}
	return base
}

// Put archives the original bytes of a session's upload, replacing whatever was archived
// for that session before.
func (a *Archive) Put(ctx context.Context, sessionID, filename, contentType string, data []byte) error {
	if !a.Enabled() {
		return ErrDisabled
	}
	prefix := "uploads/" + sessionID + "/"
	key := Key(sessionID, filename)

	existing, err := a.client.list(ctx, a.bucket, prefix)
	if err != nil {
		return fmt.Errorf("list %s: %w", prefix, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	meta := map[string]string{"filename": cleanFilename(filename)}
	if err := a.client.put(ctx, a.bucket, key, data, contentType, meta); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	for _, old := range existing {
		if old == key {
			continue
		}
		if err := a.client.remove(ctx, a.bucket, old); err != nil {
			return fmt.Errorf("remove %s: %w", old, err)
		}
	}
	return nil
}

// Get returns the archived original of a session.
func (a *Archive) Get(ctx context.Context, sessionID string) (Object, error) {
	if !a.Enabled() {
		return Object{}, ErrDisabled
	}
	keys, err := a.client.list(ctx, a.bucket, "uploads/"+sessionID+"/")
	if err != nil {
		return Object{}, err
	}
	if len(keys) == 0 {
		return Object{}, ErrNotFound
	}
	obj, meta, err := a.client.get(ctx, a.bucket, keys[0])
	if err != nil {
		return Object{}, err
	}
	obj.Filename = meta["filename"]
	if obj.Filename == "" {
		obj.Filename = path.Base(keys[0])
	}
	return obj, nil
}

// Delete removes every archived object of a session. A disabled archive is a no-op.
func (a *Archive) Delete(ctx context.Context, sessionID string) error {
	if !a.Enabled() {
		return nil
	}
	keys, err := a.client.list(ctx, a.bucket, "uploads/"+sessionID+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := a.client.remove(ctx, a.bucket, key); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

func (m *minioClient) put(ctx context.Context, bucket, key string, data []byte, contentType string, meta map[string]string) error {
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	return err
}

func (m *minioClient) get(ctx context.Context, bucket, key string) (Object, map[string]string, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, nil, err
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Object{}, nil, ErrNotFound
		}
		return Object{}, nil, err
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return Object{}, nil, err
	}
	meta := map[string]string{}
	for k, v := range info.UserMetadata {
		meta[strings.ToLower(k)] = v
	}
	return Object{ContentType: info.ContentType, Data: data}, meta, nil
}

func (m *minioClient) list(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for info := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, info.Err
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

func (m *minioClient) remove(ctx context.Context, bucket, key string) error {
	return m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}
