package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/nebari-dev/canvas-templates/internal/config"
)

// ObjectAPI is the subset of the S3 client used by S3Store.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) ObjectAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Store keeps content objects in a single bucket. Objects are written
// public-read and referenced by their URL.
type S3Store struct {
	client   ObjectAPI
	bucket   string
	region   string
	endpoint string
}

// NewS3Store builds an S3 client from configuration. Static credentials are
// used when configured, otherwise the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, cfg), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client ObjectAPI, cfg config.S3Config) *S3Store {
	return &S3Store{
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}
}

// SaveFile uploads the raw bytes under the upload's file name and returns the
// object URL.
func (s *S3Store) SaveFile(ctx context.Context, upload FileUpload) (string, error) {
	key := baseName(upload.Filename)
	if upload.Filename == "" || key == "." || key == "/" {
		return "", ErrInvalidUpload
	}

	body, err := io.ReadAll(upload.Body)
	if err != nil {
		return "", &Error{Message: "Failed to save file", Err: err}
	}
	if err := s.put(ctx, key, body, upload.ContentType); err != nil {
		slog.Error("Error uploading file", "bucket", s.bucket, "key", key, "error", err)
		return "", &Error{Message: "Failed to save file", Err: err}
	}
	return s.objectURL(key), nil
}

// SaveJSON uploads doc as JSON under the base of metadata.fileUrl and returns
// the object URL.
func (s *S3Store) SaveJSON(ctx context.Context, doc Document) (string, error) {
	fileURL, err := doc.FileURL()
	if err != nil {
		return "", err
	}
	key := objectKey(fileURL)

	data, err := json.MarshalIndent(Document{Metadata: doc.Metadata, Content: doc.Content}, "", "  ")
	if err != nil {
		return "", &Error{Message: "Failed to save template content", Err: err}
	}
	if err := s.put(ctx, key, data, "application/json"); err != nil {
		slog.Error("Error uploading template content", "bucket", s.bucket, "key", key, "error", err)
		return "", &Error{Message: "Failed to save template content", Err: err}
	}
	return s.objectURL(key), nil
}

// GetFile downloads and decodes the object named by the base of fileURL.
func (s *S3Store) GetFile(ctx context.Context, fileURL string) (*Document, error) {
	key := objectKey(fileURL)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("Error downloading template content", "bucket", s.bucket, "key", key, "error", err)
		if isNoSuchKey(err) {
			err = fmt.Errorf("%w: %w", ErrNotExist, err)
		}
		return nil, &Error{Message: "Failed to read template content", Err: err}
	}
	defer out.Body.Close()

	var doc Document
	if err := json.NewDecoder(out.Body).Decode(&doc); err != nil {
		slog.Error("Error decoding template content", "bucket", s.bucket, "key", key, "error", err)
		return nil, &Error{Message: "Failed to read template content", Err: err}
	}
	return &doc, nil
}

func (s *S3Store) put(ctx context.Context, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ACL:           types.ObjectCannedACLPublicRead,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := s.client.PutObject(ctx, input)
	return err
}

// objectURL returns the public URL of key: path-style under a custom
// endpoint, virtual-hosted style on AWS.
func (s *S3Store) objectURL(key string) string {
	escaped := url.PathEscape(key)
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
}

// objectKey extracts the object key from a reference produced by objectURL
// or supplied by a client.
func objectKey(ref string) string {
	base := baseName(ref)
	if key, err := url.PathUnescape(base); err == nil {
		return key
	}
	return base
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
