// Package storage presigns object-storage uploads for user avatars.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	BaseEndpoint  string
	PublicBaseURL string
}

// S3Presigner issues presigned PUT URLs against an S3-compatible endpoint
// (MinIO in development). It never talks to the endpoint itself.
type S3Presigner struct {
	client *s3.PresignClient
	cfg    Config
}

// seams for tests
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = s3.NewFromConfig
)

func NewS3Presigner(ctx context.Context, cfg Config) (*S3Presigner, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(strings.TrimRight(cfg.BaseEndpoint, "/"))
			o.UsePathStyle = true
		}
	})

	return &S3Presigner{client: s3.NewPresignClient(client), cfg: cfg}, nil
}

// PresignPut returns a URL that accepts a single PUT of key until expires.
func (p *S3Presigner) PresignPut(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// PublicURL is where the object is readable once uploaded. Without a custom
// endpoint it is the virtual-hosted AWS form.
func (p *S3Presigner) PublicURL(key string) string {
	switch {
	case p.cfg.PublicBaseURL != "":
		return strings.TrimRight(p.cfg.PublicBaseURL, "/") + "/" + key
	case p.cfg.BaseEndpoint != "":
		return strings.TrimRight(p.cfg.BaseEndpoint, "/") + "/" + p.cfg.Bucket + "/" + key
	}
	region := p.cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.cfg.Bucket, region, key)
}
