/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package objectstore

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/objgate/internal/credential"
	"github.com/friendsincode/objgate/internal/failure"
)

// s3API is the subset of *s3.Client the facade calls.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configure the S3 backend.
type S3Options struct {
	Endpoint     string // For S3-compatible services; empty uses AWS
	UsePathStyle bool
}

// S3 implements Client using aws-sdk-go-v2.
type S3 struct {
	opts      S3Options
	logger    zerolog.Logger
	newClient func(cfg aws.Config) s3API
}

// NewS3 creates an S3 backend. A client is built per call from the caller's
// credentials, so concurrent transfers share nothing.
func NewS3(opts S3Options, logger zerolog.Logger) *S3 {
	s := &S3{
		opts:   opts,
		logger: logger.With().Str("component", "objectstore").Str("backend", "s3").Logger(),
	}
	s.newClient = func(cfg aws.Config) s3API {
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			if s.opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(s.opts.Endpoint)
			}
			o.UsePathStyle = s.opts.UsePathStyle
		})
	}
	return s
}

// Put uploads src as a single streamed body.
func (s *S3) Put(ctx context.Context, creds credential.Credentials, bucket, key string, src Source) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   src,
	}
	if size := src.Size(); size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.newClient(creds.AWSConfig()).PutObject(ctx, input); err != nil {
		return fromS3(OpPut, err)
	}

	s.logger.Debug().Str("bucket", bucket).Str("key", key).Msg("object put")
	return nil
}

// Get opens the object body for streaming.
func (s *S3) Get(ctx context.Context, creds credential.Credentials, bucket, key string) (*Object, error) {
	out, err := s.newClient(creds.AWSConfig()).GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fromS3(OpGet, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &Object{Body: out.Body, Size: size}, nil
}

// List returns the first page ListObjectsV2 yields.
func (s *S3) List(ctx context.Context, creds credential.Credentials, bucket string) (Listing, error) {
	out, err := s.newClient(creds.AWSConfig()).ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return Listing{}, fromS3(OpList, err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return Listing{Keys: keys, Truncated: aws.ToBool(out.IsTruncated)}, nil
}

// fromS3 maps an aws-sdk-go-v2 error into the taxonomy.
func fromS3(op string, err error) error {
	// Credential failures raised while signing are already classified.
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return failure.Remote(op, apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
	}

	return failure.Transport(op, err)
}
