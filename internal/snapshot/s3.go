package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"consolecore/internal/store"
)

var _ Sink = (*S3Sink)(nil)

// objectAPI is the part of the S3 client the sink uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds the S3 sink settings. Static keys are optional; the
// default credentials chain is used without them.
type S3Config struct {
	Region          string
	Bucket          string
	Key             string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// S3Sink stores the snapshot as one object in an S3-compatible bucket.
type S3Sink struct {
	client objectAPI
	bucket string
	key    string
}

// NewS3 builds an S3 client from cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3Sink(client, cfg.Bucket, cfg.Key), nil
}

func newS3Sink(client objectAPI, bucket, key string) *S3Sink {
	if key == "" {
		key = "consolecore/snapshot.json"
	}
	return &S3Sink{client: client, bucket: bucket, key: key}
}

func (s *S3Sink) Driver() Driver { return DriverS3 }

func (s *S3Sink) Save(ctx context.Context, snap store.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (s *S3Sink) Load(ctx context.Context) (store.Snapshot, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key)})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return store.Snapshot{}, false, nil
		}
		return store.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := decode(data)
	if err != nil {
		return store.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *S3Sink) Close() error { return nil }
