/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package receipt_source

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/saedplatform/portal/param"
)

type (
	// s3API is the subset of the S3 client used by S3Store.
	s3API interface {
		HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
		GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	}

	// S3Store serves receipt objects out of a single S3 (or S3-compatible)
	// bucket.
	S3Store struct {
		client s3API
		bucket string

		// maxBytes caps an object's size; zero means unlimited.
		maxBytes int64
	}
)

var ErrPayloadTooLarge = errors.New("receipt object exceeds the payload size limit")

// NewS3Store loads AWS credentials from the default chain (environment,
// shared config, instance role) and returns a store bound to cfg.Bucket.
func NewS3Store(ctx context.Context, cfg param.ReceiptSourceConfig) (*S3Store, error) {
	maxBytes, err := cfg.MaxPayloadBytes()
	if err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	log.WithFields(log.Fields{
		"bucket":   cfg.Bucket,
		"region":   cfg.Region,
		"endpoint": cfg.Endpoint,
	}).Debug("Configured S3 receipt store")

	return &S3Store{client: client, bucket: cfg.Bucket, maxBytes: maxBytes}, nil
}

func (s *S3Store) Head(ctx context.Context, key string) ObjectResult {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Error(err, key)
	}
	if size := aws.ToInt64(out.ContentLength); s.maxBytes > 0 && size > s.maxBytes {
		return failed(errors.Wrapf(ErrPayloadTooLarge, "object %s is %d bytes", key, size))
	}
	return found(aws.ToString(out.ETag), aws.ToString(out.VersionId), nil)
}

func (s *S3Store) Get(ctx context.Context, key string) ObjectResult {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Error(err, key)
	}
	defer out.Body.Close()

	var reader io.Reader = out.Body
	if s.maxBytes > 0 {
		reader = io.LimitReader(out.Body, s.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return failed(errors.Wrapf(err, "failed to read object %s", key))
	}
	if s.maxBytes > 0 && int64(len(body)) > s.maxBytes {
		return failed(errors.Wrapf(ErrPayloadTooLarge, "object %s exceeds %d bytes", key, s.maxBytes))
	}
	return found(aws.ToString(out.ETag), aws.ToString(out.VersionId), body)
}

func classifyS3Error(err error, key string) ObjectResult {
	var noSuchKey *types.NoSuchKey
	var notFoundErr *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFoundErr) {
		return notFound()
	}
	// HEAD responses carry no body, so a missing key may only show up as a
	// bare 404.
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return notFound()
	}
	if strings.Contains(err.Error(), "NoSuchKey") {
		return notFound()
	}
	return failed(errors.Wrapf(err, "S3 request for %s failed", key))
}
