package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// S3Config holds S3/MinIO configuration. An empty Endpoint disables media
// archiving entirely.
type S3Config struct {
	Endpoint        string // e.g., "http://localhost:9000" for MinIO
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	PublicURL       string // public URL for accessing archived files
}

// Enabled reports whether archiving is configured
func (c S3Config) Enabled() bool {
	return c.Endpoint != ""
}

// MediaArchive copies provider media downloads into S3-compatible storage.
// Provider download URLs expire; an archived copy keeps the evidence viewable
// after the provider forgets it.
type MediaArchive struct {
	client    *s3.Client
	http      *resty.Client
	bucket    string
	publicURL string
}

// NewMediaArchive creates the archive against an S3-compatible endpoint
func NewMediaArchive(cfg S3Config) (*MediaArchive, error) {
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true, // required for MinIO
	})

	return &MediaArchive{
		client:    client,
		http:      resty.New().SetTimeout(30 * time.Second),
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
	}, nil
}

// Archive downloads the media at srcURL and stores a copy under the child's
// prefix, returning the durable public URL of the copy.
func (a *MediaArchive) Archive(ctx context.Context, childID, srcURL string) (string, error) {
	resp, err := a.http.R().SetContext(ctx).Get(srcURL)
	if err != nil {
		return "", fmt.Errorf("downloading media: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return "", fmt.Errorf("downloading media: status %d", resp.StatusCode())
	}

	body := resp.Body()
	contentType := resp.Header().Get("Content-Type")
	key := a.objectKey(childID, srcURL, contentType)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("uploading to s3: %w", err)
	}

	return fmt.Sprintf("%s/%s", a.publicURL, key), nil
}

// objectKey builds a per-child, date-partitioned key with a best-effort file
// extension.
func (a *MediaArchive) objectKey(childID, srcURL, contentType string) string {
	ext := ""
	if u, err := url.Parse(srcURL); err == nil {
		ext = path.Ext(u.Path)
	}
	if ext == "" {
		ext = extensionFromContentType(contentType)
	}
	return fmt.Sprintf("%s/%s/%s%s", childID, time.Now().Format("2006/01/02"), uuid.New().String(), ext)
}

// extensionFromContentType returns a file extension for common media types
func extensionFromContentType(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ""
	}
}
