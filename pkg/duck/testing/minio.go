package ducktesting

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/malbeclabs/sparkify/pkg/duck"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

type MinIOConfig struct {
	Username       string
	Password       string
	Bucket         string
	ContainerImage string
}

func (cfg *MinIOConfig) Validate() error {
	if cfg.Username == "" {
		cfg.Username = "minioadmin"
	}
	if cfg.Password == "" {
		cfg.Password = "minioadmin"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "sparkify-test"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "minio/minio:latest"
	}
	return nil
}

// MinIO is a running MinIO container with one bucket already created.
type MinIO struct {
	S3Config *duck.S3Config
	Client   *s3.Client
	Bucket   string
}

// URI returns s3://<bucket>/<key>.
func (m *MinIO) URI(key string) string {
	return duck.JoinURI("s3://"+m.Bucket, key)
}

// Put uploads body under key.
func (m *MinIO) Put(t testing.TB, key string, body string) {
	_, err := m.Client.PutObject(t.Context(), &s3.PutObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(body),
	})
	require.NoError(t, err)
}

// Keys lists every key under prefix.
func (m *MinIO) Keys(t testing.TB, prefix string) []string {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(m.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(t.Context())
		require.NoError(t, err)
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys
}

func NewDefaultMinIO(t testing.TB) *MinIO {
	return NewMinIO(t, nil)
}

func NewMinIO(t testing.TB, cfg *MinIOConfig) *MinIO {
	ctx := t.Context()

	if cfg == nil {
		cfg = &MinIOConfig{}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("failed to validate MinIO config: %v", err)
	}

	var container *minio.MinioContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = minio.Run(ctx, cfg.ContainerImage,
			minio.WithUsername(cfg.Username),
			minio.WithPassword(cfg.Password),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < 3 {
				time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
				continue
			}
			require.NoError(t, err)
		}
		break
	}
	if container == nil {
		t.Fatalf("failed to start MinIO container after retries: %v", lastErr)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to cleanup minio container: %v", err)
		}
	})

	// DuckDB's httpfs resolves localhost differently than the aws sdk on some hosts.
	host, err := container.Host(ctx)
	require.NoError(t, err)
	if host == "localhost" {
		host = "127.0.0.1"
	}
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	s3Config := &duck.S3Config{
		AccessKeyID:     container.Username,
		SecretAccessKey: container.Password,
		Endpoint:        fmt.Sprintf("%s:%s", host, port.Port()),
		Region:          "us-east-1",
		UseSSL:          false,
		URLStyle:        "path",
	}

	client, err := duck.NewS3Client(ctx, s3Config)
	require.NoError(t, err)

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(cfg.Bucket)})
	require.NoError(t, err)

	return &MinIO{
		S3Config: s3Config,
		Client:   client,
		Bucket:   cfg.Bucket,
	}
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded")
}
