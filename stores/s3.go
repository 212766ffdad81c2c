// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kbase/librarian/config"
)

// S3Manager backs a catalog.Store whose bytes live in an S3 (or
// S3-compatible, e.g. Minio) bucket. Any S3-compatible store's
// checksum is its ETag, which equals the MD5 of the object for
// objects uploaded in a single part. Commit writes each destination
// object with one server-side CopyObject call, so the ETag there
// matches the MD5 when the staged object was itself a single-part
// upload.
type S3Manager struct {
	bucket     string
	client     *awsS3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewS3Manager constructs an S3Manager for the bucket named by root,
// using s3Config for credentials and endpoint overrides.
func NewS3Manager(root string, s3Config config.S3Config) (*S3Manager, error) {
	awsCfg, err := awsConfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	client := awsS3.NewFromConfig(awsCfg, func(o *awsS3.Options) {
		if s3Config.BaseURL != "" {
			o.BaseEndpoint = &s3Config.BaseURL
		}
		if s3Config.AccessKeyID != "" || s3Config.SecretKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(s3Config.AccessKeyID, s3Config.SecretKey, "")
		} else {
			o.Credentials = aws.AnonymousCredentials{}
		}
		if s3Config.Region != "" {
			o.Region = s3Config.Region
		}
		o.UsePathStyle = s3Config.PathStyle
	})

	return &S3Manager{
		bucket:     root,
		client:     client,
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
	}, nil
}

// PathInfo heads the object at path, treating its ETag as the MD5
// checksum.
func (m *S3Manager) PathInfo(ctx context.Context, path string) (PathInfo, error) {
	out, err := m.client.HeadObject(ctx, &awsS3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return PathInfo{Exists: false}, nil
		}
		return PathInfo{}, fmt.Errorf("heading s3://%s/%s: %w", m.bucket, path, err)
	}
	etag := strings.Trim(aws.ToString(out.ETag), `"`)
	return PathInfo{
		Exists:   true,
		Size:     aws.ToInt64(out.ContentLength),
		Checksum: strings.ToLower(etag),
	}, nil
}

// Commit copies the staged object to destPath with a server-side
// CopyObject (S3 has no rename) and then deletes the staged object.
func (m *S3Manager) Commit(ctx context.Context, stagingPath, destPath string, expectedSize int64, expectedChecksum string) error {
	if existing, err := m.PathInfo(ctx, destPath); err == nil && existing.Exists {
		if existing.Size == expectedSize && strings.EqualFold(existing.Checksum, expectedChecksum) {
			return fmt.Errorf("%w at %s", ErrAlreadyPresent, destPath)
		}
		return fmt.Errorf("destination %s already exists with different content", destPath)
	}

	if _, err := m.client.CopyObject(ctx, &awsS3.CopyObjectInput{
		Bucket:     aws.String(m.bucket),
		CopySource: aws.String(m.bucket + "/" + stagingPath),
		Key:        aws.String(destPath),
	}); err != nil {
		return fmt.Errorf("copying s3://%s/%s to %s: %w", m.bucket, stagingPath, destPath, err)
	}
	return m.Unstage(ctx, stagingPath)
}

// Unstage deletes the staged object.
func (m *S3Manager) Unstage(ctx context.Context, stagingPath string) error {
	_, err := m.client.DeleteObject(ctx, &awsS3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(stagingPath),
	})
	return err
}

// FreeSpace has no meaning for an S3 bucket: buckets aren't capacity
// limited the way a disk is, so FreeSpace reports a very large value,
// which keeps admin.RecommendStore from favoring or penalizing an S3
// store based on a notion that doesn't apply to it.
func (m *S3Manager) FreeSpace(ctx context.Context) (int64, error) {
	return 1 << 60, nil
}
