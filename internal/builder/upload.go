package builder

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultContentType = "application/octet-stream"

// Uploader stores one artifact file.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes artifacts to one bucket.
type S3Uploader struct {
	api    putObjectAPI
	bucket string
}

// NewS3Uploader loads AWS credentials from the default chain.
func NewS3Uploader(ctx context.Context, region, bucket string) (*S3Uploader, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("artifact bucket required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Uploader{api: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// Upload puts body at key.
func (u *S3Uploader) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}

// UploadDir uploads every regular file under dir to prefix/{relative path}, calling
// progress before and after each file.
func UploadDir(ctx context.Context, up Uploader, dir, prefix string, progress func(string)) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("locate build output: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("build output %s is not a directory", dir)
	}

	count := 0
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		progress("uploading " + rel)
		if err := uploadFile(ctx, up, p, path.Join(prefix, rel)); err != nil {
			return err
		}
		progress("uploaded " + rel)
		count++
		return nil
	})
	return count, err
}

func uploadFile(ctx context.Context, up Uploader, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()
	return up.Upload(ctx, key, f, contentTypeFor(file))
}

// contentTypeFor guesses a MIME type from the file extension.
func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return defaultContentType
}
