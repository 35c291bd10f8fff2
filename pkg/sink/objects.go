package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v5"
)

const (
	deleteBatchSize  = 1000
	objectCallTries  = 5
	objectRetryDelay = 200 * time.Millisecond
)

// S3API is the subset of the S3 client used to manage table prefixes.
type S3API interface {
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// objectStore lists and purges table prefixes in a bucket.
type objectStore struct {
	log    *slog.Logger
	client S3API
	pool   pond.ResultPool[int]
}

func newObjectStore(log *slog.Logger, client S3API, concurrency int) *objectStore {
	return &objectStore{
		log:    log,
		client: client,
		pool:   pond.NewResultPool[int](concurrency),
	}
}

func retryObjectCall[T any](ctx context.Context, log *slog.Logger, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = objectRetryDelay
	return backoff.Retry(ctx, fn,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(objectCallTries),
		backoff.WithNotify(func(err error, delay time.Duration) {
			log.Warn("s3 call failed, retrying", "operation", op, "delay", delay, "error", err)
		}),
	)
}

// keys lists every key under prefix. limit > 0 stops after that many keys.
func (o *objectStore) keys(ctx context.Context, bucket, prefix string, limit int) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(o.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := retryObjectCall(ctx, o.log, "list", func() (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
			if limit > 0 && len(keys) >= limit {
				return keys, nil
			}
		}
	}
	return keys, nil
}

func (o *objectStore) exists(ctx context.Context, bucket, prefix string) (bool, error) {
	keys, err := o.keys(ctx, bucket, prefix, 1)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// purge deletes every object under prefix, fanning DeleteObjects batches out
// over the worker pool. It returns the number of deleted objects.
func (o *objectStore) purge(ctx context.Context, bucket, prefix string) (int, error) {
	keys, err := o.keys(ctx, bucket, prefix, 0)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	group := o.pool.NewGroupContext(ctx)
	for start := 0; start < len(keys); start += deleteBatchSize {
		batch := keys[start:min(start+deleteBatchSize, len(keys))]
		group.SubmitErr(func() (int, error) {
			return o.deleteBatch(ctx, bucket, batch)
		})
	}
	results, err := group.Wait()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, n := range results {
		deleted += n
	}
	o.log.Debug("purged s3 prefix", "bucket", bucket, "prefix", prefix, "objects", deleted)
	return deleted, nil
}

func (o *objectStore) deleteBatch(ctx context.Context, bucket string, keys []string) (int, error) {
	objects := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	_, err := retryObjectCall(ctx, o.log, "delete", func() (struct{}, error) {
		out, err := o.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return struct{}{}, err
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return struct{}{}, fmt.Errorf("failed to delete %d objects, first %s: %s", len(out.Errors), aws.ToString(e.Key), aws.ToString(e.Message))
		}
		return struct{}{}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete objects in s3://%s: %w", bucket, err)
	}
	return len(keys), nil
}

func (o *objectStore) close() {
	o.pool.StopAndWait()
}
