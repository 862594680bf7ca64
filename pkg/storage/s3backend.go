// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3BackendConfig configures an S3Backend: the bucket plus a key prefix
// under which the recording tree lives, analogous to the teacher's
// S3ArchiveConfig{Path} for the adjacent job-archive concern.
type S3BackendConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Backend implements FileBackend against an S3-compatible bucket. Reads
// use byte-range GetObject calls in place of a local seek, since S3 objects
// have no native seek operation.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ FileBackend = (*S3Backend)(nil)

func NewS3Backend(ctx context.Context, cfg S3BackendConfig) (*S3Backend, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("storage: loading AWS config: %w", err)
	}

	return &S3Backend{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (b *S3Backend) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + "/" + name
}

// s3Reader streams a GetObject body forward from its start; it does not
// support Seek (OpenRange starts a read at a byte offset instead).
type s3Reader struct {
	body   io.ReadCloser
	offset int64
	size   int64
}

func (r *s3Reader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	r.offset += int64(n)
	return n, err
}

func (r *s3Reader) Close() error { return r.body.Close() }

func (r *s3Reader) Seek(offset int64, whence int) (int64, error) {
	return 0, fmt.Errorf("storage: S3Backend readers do not support Seek; reopen at the desired offset instead")
}

func (b *S3Backend) Open(name string) (io.ReadSeekCloser, error) {
	out, err := b.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: &b.bucket,
		Key:    awsString(b.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 GetObject %s: %w", name, err)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &s3Reader{body: out.Body, size: size}, nil
}

// OpenRange opens name starting at byteOffset, the S3 analogue of Goto on a
// local *os.File — used to apply an index-sidecar checkpoint (§4.4/§4.7)
// without downloading bytes the scan will skip over anyway.
func (b *S3Backend) OpenRange(name string, byteOffset int64) (io.ReadCloser, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-", byteOffset)
	out, err := b.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: &b.bucket,
		Key:    awsString(b.key(name)),
		Range:  &rangeHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 ranged GetObject %s@%d: %w", name, byteOffset, err)
	}
	return out.Body, nil
}

func (b *S3Backend) ReadDir(dir string) ([]Entry, error) {
	prefix := b.key(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var entries []Entry
	seenDirs := make(map[string]struct{})

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    &b.bucket,
		Prefix:    &prefix,
		Delimiter: awsString("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, fmt.Errorf("storage: s3 ListObjectsV2 %s: %w", prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			if name == "" {
				continue
			}
			if _, ok := seenDirs[name]; ok {
				continue
			}
			seenDirs[name] = struct{}{}
			entries = append(entries, Entry{Name: name, IsDir: true})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(*obj.Key, prefix)
			if name == "" {
				continue
			}
			size := int64(0)
			if obj.Size != nil {
				size = *obj.Size
			}
			entries = append(entries, Entry{Name: name, Size: size})
		}
	}

	return entries, nil
}

func (b *S3Backend) Stat(name string) (Entry, error) {
	out, err := b.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: &b.bucket,
		Key:    awsString(b.key(name)),
	})
	if err != nil {
		return Entry{}, fmt.Errorf("storage: s3 HeadObject %s: %w", name, err)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return Entry{Name: name, Size: size}, nil
}

func awsString(s string) *string { return &s }
