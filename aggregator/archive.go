package aggregator

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/quidich/framestream/cmn"
)

// Archiver mirrors a capture's disk_paths manifest into an external object
// store for audit retention.
type Archiver interface {
	ArchiveManifest(ctx context.Context, captureID string, body []byte) error
}

// S3Archiver uploads one "<capture_id>/manifest.txt" object per emitted
// capture, the disk_paths list newline-joined.
type S3Archiver struct {
	uploader *manager.Uploader
	bucket   string
}

// NewS3Archiver loads AWS config from the environment/shared config files
// (no credentials in code) and returns an Archiver writing into bucket.
func NewS3Archiver(ctx context.Context, bucket string) (*S3Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, cmn.Wrap(cmn.ErrConfig, err, "load aws config")
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{uploader: manager.NewUploader(client), bucket: bucket}, nil
}

func (a *S3Archiver) ArchiveManifest(ctx context.Context, captureID string, body []byte) error {
	key := fmt.Sprintf("%s/manifest.txt", captureID)
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return cmn.Wrapf(cmn.ErrTransientNetwork, err, "archive upload %s: %s", key, apiErr.ErrorCode())
		}
		return cmn.Wrap(cmn.ErrTransientNetwork, err, "archive upload "+key)
	}
	return nil
}
