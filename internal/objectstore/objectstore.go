// Package objectstore is the content-addressed object store client used
// by the uploader (spec.md §4.6, §6). It wraps an S3-compatible backend
// behind the narrow Put contract the uploader needs, and classifies every
// failure into the transient/permanent distinction the retry loop in
// internal/uploader depends on.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// PutInput describes a single object to upload.
type PutInput struct {
	Bucket    string
	Key       string
	Body      io.ReaderAt
	Size      int64
	ChunkSize int64
}

// Client puts objects into an S3-compatible bucket, overwriting any
// existing object at the same key.
type Client struct {
	s3 *s3.Client
}

// BackendConfig configures the underlying S3 client.
type BackendConfig struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewClient builds a Client from static credentials, matching the
// teacher's NewBlobClientWithConfig pattern. When cfg.Endpoint is set, the
// client talks to that (path-style) endpoint instead of AWS S3 proper —
// this is how the worker targets an S3-compatible store in a non-AWS
// deployment.
func NewClient(ctx context.Context, cfg BackendConfig) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		// The uploader package owns all retry/backoff policy per
		// spec.md §4.6; disable the SDK's own retries so a single Put
		// attempt here maps to exactly one uploader-visible attempt.
		o.RetryMaxAttempts = 1
	})

	return &Client{s3: s3Client}, nil
}

// Put uploads in.Body to in.Bucket/in.Key, overwriting any existing
// object. Objects larger than in.ChunkSize are uploaded via S3 multipart
// upload in in.ChunkSize parts; smaller objects use a single PutObject
// call. Any failure classifies via ClassifyError.
func (c *Client) Put(ctx context.Context, in PutInput) error {
	if in.Size <= in.ChunkSize {
		body := io.NewSectionReader(in.Body, 0, in.Size)
		_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(in.Bucket),
			Key:           aws.String(in.Key),
			Body:          body,
			ContentLength: aws.Int64(in.Size),
		})
		return err
	}
	return c.putMultipart(ctx, in)
}

func (c *Client) putMultipart(ctx context.Context, in PutInput) error {
	created, err := c.s3.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(in.Bucket),
		Key:    aws.String(in.Key),
	})
	if err != nil {
		return fmt.Errorf("objectstore: create multipart upload: %w", err)
	}
	uploadID := created.UploadId

	abort := func() {
		_, _ = c.s3.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(in.Bucket),
			Key:      aws.String(in.Key),
			UploadId: uploadID,
		})
	}

	var parts []types.CompletedPart
	partNumber := int32(1)
	for offset := int64(0); offset < in.Size; offset += in.ChunkSize {
		length := in.ChunkSize
		if offset+length > in.Size {
			length = in.Size - offset
		}
		section := io.NewSectionReader(in.Body, offset, length)

		resp, err := c.s3.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(in.Bucket),
			Key:        aws.String(in.Key),
			UploadId:   uploadID,
			PartNumber: aws.Int32(partNumber),
			Body:       section,
		})
		if err != nil {
			abort()
			return fmt.Errorf("objectstore: upload part %d: %w", partNumber, err)
		}
		parts = append(parts, types.CompletedPart{
			ETag:       resp.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		partNumber++
	}

	_, err = c.s3.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(in.Bucket),
		Key:      aws.String(in.Key),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		abort()
		return fmt.Errorf("objectstore: complete multipart upload: %w", err)
	}
	return nil
}

// ClassifyError reports whether err represents a transient (5xx or
// network-level) failure eligible for the uploader's unbounded retry, as
// opposed to a permanent failure that should surface as fatal for this
// cycle (spec.md §4.6).
func ClassifyError(err error) (transient bool) {
	if err == nil {
		return false
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code >= 500 && code < 600
	}
	// No HTTP response at all (connection refused, timeout, DNS failure,
	// context deadline) is treated as transient: the object store being
	// unreachable is exactly the condition the unbounded retry exists for.
	return true
}
