package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"audiobooker/internal/config"
	"audiobooker/internal/logging"
	"audiobooker/internal/services"
)

// Config holds the S3 destination.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	Prefix          string
	AccessKeyID     string // Optional: static credentials
	SecretAccessKey string
}

// FromConfig converts the [publish] section.
func FromConfig(p config.Publish) Config {
	return Config{
		Bucket:          p.S3Bucket,
		Region:          p.S3Region,
		Endpoint:        p.S3Endpoint,
		Prefix:          p.S3Prefix,
		AccessKeyID:     p.AccessKeyID,
		SecretAccessKey: p.SecretAccessKey,
	}
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader puts files into one bucket under a key prefix.
type S3Uploader struct {
	client objectPutter
	cfg    Config
	logger *slog.Logger
}

// NewS3Uploader loads AWS configuration for cfg. Static credentials are used
// when both keys are set; otherwise the default credential chain applies.
func NewS3Uploader(ctx context.Context, cfg Config, logger *slog.Logger) (*S3Uploader, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "publish", "init", "s3 bucket is required", nil)
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "publish", "init", "s3 region is required", nil)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "publish", "init", "load AWS config", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &S3Uploader{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "publish"),
	}, nil
}

// Key returns the object key for a local file.
func (u *S3Uploader) Key(localPath string) string {
	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix == "" {
		return filepath.Base(localPath)
	}
	return path.Join(prefix, filepath.Base(localPath))
}

// URL returns the address of key in the bucket.
func (u *S3Uploader) URL(key string) string {
	if u.cfg.Endpoint != "" {
		return strings.TrimRight(u.cfg.Endpoint, "/") + "/" + u.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
}

// Upload puts localPath into the bucket and returns the object URL.
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload source: %w", err)
	}

	key := u.Key(localPath)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(localPath)),
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "publish", "upload", "put object "+key, err)
	}

	url := u.URL(key)
	u.logger.Info("audiobook published",
		logging.String(logging.FieldEventType, "publish_complete"),
		logging.String("bucket", u.cfg.Bucket),
		logging.String("key", key),
		logging.Int64("size_bytes", info.Size()),
		logging.String("url", url),
	)
	return url, nil
}

func contentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".m4b", ".m4a", ".mp4":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
