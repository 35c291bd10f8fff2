package source

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/malbeclabs/sparkify/pkg/duck"
)

const (
	DefaultSongPattern = "song_data/*/*/*/*.json"
	DefaultLogPeriod   = "2018/11"
)

// SongsGlob returns the catalog location under root. An empty pattern selects
// every song file.
func SongsGlob(root, pattern string) string {
	if pattern == "" {
		pattern = DefaultSongPattern
	}
	return duck.JoinURI(root, pattern)
}

// EventsGlob returns the log location for a period ("2018/11") under root.
func EventsGlob(root, period string) string {
	if period == "" {
		period = DefaultLogPeriod
	}
	return duck.JoinURI(root, "log_data", period, "*.json")
}

// Match lists the objects matched by a file:// or s3:// glob. "*" and "?" do
// not cross "/" boundaries, matching the engine's glob rules.
func (r *Reader) Match(ctx context.Context, glob string) ([]string, error) {
	if local, ok := duck.LocalPath(glob); ok {
		matches, err := filepath.Glob(local)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", glob, err)
		}
		return matches, nil
	}
	if !duck.IsS3URI(glob) {
		return nil, fmt.Errorf("unsupported location %q", glob)
	}
	if r.s3 == nil {
		return nil, fmt.Errorf("s3 client is required to read %s", glob)
	}

	bucket, pattern, err := duck.SplitS3URI(glob)
	if err != nil {
		return nil, err
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", glob, err)
	}

	var matches []string
	paginator := s3.NewListObjectsV2Paginator(r.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(literalPrefix(pattern)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, literalPrefix(pattern), err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if ok, _ := path.Match(pattern, key); ok {
				matches = append(matches, "s3://"+bucket+"/"+key)
			}
		}
	}
	return matches, nil
}

// literalPrefix returns the part of pattern before its first wildcard.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?[\\"); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
