package duck

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultRegion = "us-east-1"

// S3Config holds configuration for S3-compatible storage (AWS S3, MinIO, etc.)
type S3Config struct {
	AccessKeyID     string // S3 access key ID
	SecretAccessKey string // S3 secret access key
	Endpoint        string // S3 endpoint URL (e.g., "http://localhost:9000" for MinIO, empty for AWS)
	Region          string // S3 region (e.g., "us-east-1")
	UseSSL          bool   // Whether to use SSL/TLS (typically false for MinIO, true for AWS)
	URLStyle        string // URL style: "path" (for MinIO) or "virtual" (for AWS S3)
}

// IsMinIO reports whether the config points at a non-AWS endpoint.
func (c *S3Config) IsMinIO() bool {
	return c.Endpoint != "" && !strings.Contains(c.Endpoint, "amazonaws.com")
}

// LoadS3ConfigFromEnv loads S3 configuration from environment variables.
//
// Environment variables:
//   - S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID (leave unset to use the default credential chain)
//   - S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY
//   - S3_ENDPOINT or AWS_ENDPOINT_URL (for MinIO: "http://localhost:9000")
//   - S3_REGION or AWS_REGION (defaults to "us-east-1")
//   - S3_USE_SSL ("true"/"false", defaults to false for MinIO and true for AWS)
//   - S3_URL_STYLE ("path" or "virtual", defaults to "path")
//
// Returns nil when neither key is set, meaning the default AWS credentials
// chain (env, shared config, IRSA, instance metadata) should be used.
func LoadS3ConfigFromEnv() (*S3Config, error) {
	return loadS3Config(os.Getenv)
}

func loadS3Config(getenv func(string) string) (*S3Config, error) {
	firstOf := func(keys ...string) string {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				return v
			}
		}
		return ""
	}

	accessKeyID := firstOf("S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	secretAccessKey := firstOf("S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")

	if accessKeyID == "" && secretAccessKey == "" {
		return nil, nil
	}
	if accessKeyID == "" {
		return nil, fmt.Errorf("S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is set but S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is missing")
	}
	if secretAccessKey == "" {
		return nil, fmt.Errorf("S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is set but S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is missing (for the default credential chain, leave both unset)")
	}

	region := firstOf("S3_REGION", "AWS_REGION")
	if region == "" {
		region = defaultRegion
	}

	cfg := &S3Config{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Endpoint:        firstOf("S3_ENDPOINT", "AWS_ENDPOINT_URL"),
		Region:          region,
		URLStyle:        "path",
	}
	cfg.UseSSL = !cfg.IsMinIO()

	if v := getenv("S3_USE_SSL"); v != "" {
		cfg.UseSSL = v == "true" || v == "1"
	}
	if v := getenv("S3_URL_STYLE"); v != "" {
		cfg.URLStyle = v
	}

	return cfg, nil
}

// PrepareS3Config returns the S3 configuration needed to reach any s3:// URI in
// uris, or nil if none of them is on S3. Buckets named by bucketURIs are
// created when they live on a localhost MinIO.
func PrepareS3Config(ctx context.Context, log *slog.Logger, uris []string, bucketURIs []string) (*S3Config, error) {
	usesS3 := false
	for _, uri := range append(append([]string{}, uris...), bucketURIs...) {
		if IsS3URI(uri) {
			usesS3 = true
			break
		}
	}
	if !usesS3 {
		return nil, nil
	}

	s3Config, err := LoadS3ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}
	if s3Config == nil {
		region := os.Getenv("S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = defaultRegion
		}
		s3Config = &S3Config{
			Region:   region,
			UseSSL:   true,
			URLStyle: "path",
		}
	}

	if s3Config.IsMinIO() && (s3Config.AccessKeyID == "" || s3Config.SecretAccessKey == "") {
		return nil, fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set (endpoint: %s)", s3Config.Endpoint)
	}

	for _, uri := range bucketURIs {
		if err := EnsureMinIOBucket(ctx, log, uri, s3Config); err != nil {
			return nil, fmt.Errorf("failed to ensure MinIO bucket exists: %w", err)
		}
	}

	return s3Config, nil
}

// NewS3Client builds an aws-sdk-go-v2 S3 client for cfg. Without explicit
// keys the default credential chain is used.
func NewS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("S3 configuration is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpointURL(cfg))
		}
		o.UsePathStyle = cfg.URLStyle != "virtual"
	}), nil
}

func endpointURL(cfg *S3Config) string {
	endpoint := cfg.Endpoint
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if cfg.UseSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// EnsureMinIOBucket creates the bucket named in storageURI if we're using a
// localhost MinIO and it doesn't exist yet.
func EnsureMinIOBucket(ctx context.Context, log *slog.Logger, storageURI string, s3Config *S3Config) error {
	if s3Config == nil || s3Config.Endpoint == "" {
		return nil
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(s3Config.Endpoint, "http://"), "https://")
	if !strings.HasPrefix(endpoint, "localhost") && !strings.HasPrefix(endpoint, "127.0.0.1") && !strings.Contains(endpoint, "host.docker.internal") {
		return nil
	}

	if !IsS3URI(storageURI) {
		return nil
	}
	bucketName, _, err := SplitS3URI(storageURI)
	if err != nil {
		return err
	}

	if s3Config.AccessKeyID == "" || s3Config.SecretAccessKey == "" {
		return fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set")
	}
	s3Client, err := NewS3Client(ctx, s3Config)
	if err != nil {
		return err
	}

	if _, err := s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucketName)}); err == nil {
		return nil
	}

	log.Info("creating MinIO bucket", "bucket", bucketName, "endpoint", s3Config.Endpoint)
	if _, err := s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
	}
	log.Info("created MinIO bucket", "bucket", bucketName)
	return nil
}

// CreateS3Secret loads httpfs on conn and registers an S3 secret so DuckDB can
// read and write s3:// paths.
func CreateS3Secret(ctx context.Context, log *slog.Logger, conn Connection, cfg *S3Config) error {
	if cfg == nil {
		return fmt.Errorf("S3 configuration is required when using s3:// URIs")
	}
	if err := LoadExtensions(ctx, conn, "httpfs", "aws"); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, s3SecretSQL(cfg)); err != nil {
		return fmt.Errorf("failed to create S3 secret: %w", err)
	}

	log.Info("configured S3 storage", "endpoint", cfg.Endpoint, "region", cfg.Region)
	return nil
}

func s3SecretSQL(cfg *S3Config) string {
	secretSQL := "CREATE OR REPLACE SECRET s3_secret (TYPE s3"
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		secretSQL += ", KEY_ID " + QuoteString(cfg.AccessKeyID)
		secretSQL += ", SECRET " + QuoteString(cfg.SecretAccessKey)
	} else {
		secretSQL += ", PROVIDER credential_chain"
	}
	if cfg.Endpoint != "" {
		// DuckDB expects host:port, not a URL.
		endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
		secretSQL += ", ENDPOINT " + QuoteString(endpoint)
	}
	if cfg.Region != "" {
		secretSQL += ", REGION " + QuoteString(cfg.Region)
	}

	urlStyle := cfg.URLStyle
	if urlStyle == "" {
		urlStyle = "path"
	}
	useSSL := cfg.UseSSL
	if cfg.IsMinIO() {
		useSSL = false
	} else if cfg.Endpoint == "" {
		useSSL = true
	}

	secretSQL += ", URL_STYLE " + QuoteString(urlStyle)
	secretSQL += fmt.Sprintf(", USE_SSL %t", useSSL)
	secretSQL += ")"
	return secretSQL
}

// IsS3URI reports whether uri is an s3:// URI.
func IsS3URI(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// SplitS3URI splits s3://bucket/key into bucket and key.
func SplitS3URI(uri string) (bucket, key string, err error) {
	if !IsS3URI(uri) {
		return "", "", fmt.Errorf("not an s3:// URI: %q", uri)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3:// URI format: %w", err)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("s3:// URI must include a bucket name (e.g., s3://bucket-name/path)")
	}
	return parsed.Host, strings.TrimPrefix(parsed.Path, "/"), nil
}
