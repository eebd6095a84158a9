package store

import (
	"bytes"
	"context"
	"io"

	"github.com/bytedance/sonic"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

// S3Store keeps the rules as a single JSON object in an S3-compatible
// bucket, for fleets that share one filter set.
type S3Store struct {
	client *minio.Client
	bucket string
	key    string
}

func NewS3Store(conf *config.Config) (*S3Store, error) {
	client, err := minio.New(conf.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.S3.AccessKey, conf.S3.SecretKey, ""),
		Secure: conf.S3.Ssl,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create s3 client")
	}
	return &S3Store{
		client: client,
		bucket: conf.S3.BucketName,
		key:    conf.Rules.S3Key,
	}, nil
}

func (s *S3Store) Load() (domain.FilterRules, error) {
	var rules domain.FilterRules
	obj, err := s.client.GetObject(context.Background(), s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return rules, errors.Wrapf(err, "failed to fetch s3 rules %s/%s", s.bucket, s.key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		// a missing object means a first run, not a failure
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return rules, nil
		}
		return rules, errors.Wrapf(err, "failed to read s3 rules %s/%s", s.bucket, s.key)
	}
	if len(data) == 0 {
		return rules, nil
	}
	if err := sonic.Unmarshal(data, &rules); err != nil {
		return rules, errors.Wrapf(err, "failed to parse s3 rules %s/%s", s.bucket, s.key)
	}
	return rules, nil
}

func (s *S3Store) Save(rules domain.FilterRules) error {
	data, err := sonic.MarshalIndent(rules, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode rules")
	}
	_, err = s.client.PutObject(context.Background(), s.bucket, s.key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return errors.Wrapf(err, "failed to store s3 rules %s/%s", s.bucket, s.key)
}
