// Package archive stores exported translation files in S3-compatible object
// storage. Archiving is optional; when unconfigured, exports are only written
// to the local filesystem.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/opentranslator/client/internal/document"
	"github.com/opentranslator/client/internal/logger"
)

// Config holds the object storage connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether archiving is configured at all
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// Client archives exported documents
type Client struct {
	client *minio.Client
	bucket string
	log    *logger.Logger
}

// New creates an archive client and ensures the bucket exists
func New(ctx context.Context, cfg Config) (*Client, error) {
	// minio-go expects host:port without a scheme
	endpoint := cfg.Endpoint
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check archive bucket: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create archive bucket: %w", err)
		}
	}

	return &Client{
		client: mc,
		bucket: cfg.Bucket,
		log:    logger.Default().WithComponent("archive"),
	}, nil
}

// Check verifies the bucket is reachable, for health probes
func (c *Client) Check(ctx context.Context) error {
	_, err := c.client.BucketExists(ctx, c.bucket)
	return err
}

// Store uploads an exported file under a date-partitioned key and returns the
// object key.
func (c *Client) Store(ctx context.Context, processID string, file document.ExportedFile) (string, error) {
	key := objectKey(processID, file.FileName)

	_, err := c.client.PutObject(ctx, c.bucket, key,
		bytes.NewReader(file.Data), int64(len(file.Data)),
		minio.PutObjectOptions{
			ContentType: file.ContentType,
			UserMetadata: map[string]string{
				"process-id": processID,
			},
		})
	if err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", key, err)
	}

	c.log.Info(ctx, "export archived", map[string]any{
		"key":  key,
		"size": len(file.Data),
	})
	return key, nil
}

// Fetch downloads a previously archived export
func (c *Client) Fetch(ctx context.Context, key string) (document.ExportedFile, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return document.ExportedFile{}, fmt.Errorf("failed to fetch archive %s: %w", key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return document.ExportedFile{}, fmt.Errorf("failed to stat archive %s: %w", key, err)
	}

	data := make([]byte, 0, info.Size)
	buf := bytes.NewBuffer(data)
	if _, err := buf.ReadFrom(obj); err != nil {
		return document.ExportedFile{}, fmt.Errorf("failed to read archive %s: %w", key, err)
	}

	return document.ExportedFile{
		Data:        buf.Bytes(),
		ContentType: info.ContentType,
		FileName:    path.Base(key),
	}, nil
}

// List returns the archived object keys for a process ID
func (c *Client) List(ctx context.Context, processID string) ([]string, error) {
	var keys []string
	for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list archive: %w", obj.Err)
		}
		if strings.Contains(obj.Key, "/"+processID+"/") {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// objectKey builds a date-partitioned key: exports/2026/08/<processID>/<file>
func objectKey(processID, fileName string) string {
	now := time.Now().UTC()
	return path.Join("exports",
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", int(now.Month())),
		processID,
		fileName,
	)
}
