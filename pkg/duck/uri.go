package duck

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// NormalizeStorageURI turns bare filesystem paths into absolute file:// URIs and
// leaves file:// and s3:// URIs otherwise untouched.
func NormalizeStorageURI(uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("storage URI is required")
	}
	if IsS3URI(uri) {
		return strings.TrimRight(uri, "/"), nil
	}
	path, found := strings.CutPrefix(uri, "file://")
	if !found {
		if strings.Contains(uri, "://") {
			return "", fmt.Errorf("storage URI must start with file:// or s3:// (got: %q)", uri)
		}
		path = uri
	}
	if path == "" {
		return "", fmt.Errorf("storage URI file:// path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for %q: %w", path, err)
	}
	return "file://" + abs, nil
}

// LocalPath returns the filesystem path of a file:// URI.
func LocalPath(uri string) (string, bool) {
	return strings.CutPrefix(uri, "file://")
}

// JoinURI appends slash-separated elements to a file:// or s3:// URI.
func JoinURI(base string, elem ...string) string {
	parts := []string{strings.TrimRight(base, "/")}
	for _, e := range elem {
		e = strings.Trim(e, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// EnginePath returns the path DuckDB should use for uri: plain filesystem paths
// for file:// URIs and the URI itself for s3://.
func EnginePath(uri string) string {
	if path, ok := LocalPath(uri); ok {
		return path
	}
	return uri
}

func validateCatalogURI(uri string) error {
	if uri == "" {
		return fmt.Errorf("catalog URI is required")
	}

	if path, found := strings.CutPrefix(uri, "file://"); found {
		if path == "" {
			return fmt.Errorf("catalog URI file:// path cannot be empty")
		}
		return nil
	}

	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		parsed, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid postgres URI format: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("postgres URI must include a host")
		}
		if parsed.Path == "" || parsed.Path == "/" {
			return fmt.Errorf("postgres URI must include a database name in the path")
		}
		return nil
	}

	if isLibpq(uri) {
		return nil
	}

	return fmt.Errorf("catalog URI must start with file://, postgres://, postgresql://, or be in libpq format (got: %q)", uri)
}

// ValidateStorageURI checks that uri is a usable file:// or s3:// location.
func ValidateStorageURI(uri string) error {
	if uri == "" {
		return fmt.Errorf("storage URI is required")
	}

	if path, found := strings.CutPrefix(uri, "file://"); found {
		if path == "" {
			return fmt.Errorf("storage URI file:// path cannot be empty")
		}
		return nil
	}

	if IsS3URI(uri) {
		parsed, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid s3:// URI format: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("s3:// URI must include a bucket name (e.g., s3://bucket-name/path)")
		}
		if bucket := parsed.Host; len(bucket) < 3 || len(bucket) > 63 {
			return fmt.Errorf("s3 bucket name must be between 3 and 63 characters")
		}
		return nil
	}

	return fmt.Errorf("storage URI must start with file:// or s3:// (got: %q)", uri)
}

func isPostgresURI(uri string) bool {
	return strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://")
}

func isLibpq(uri string) bool {
	return strings.Contains(uri, "host=") && strings.Contains(uri, "dbname=")
}

// postgresToLibpq converts a postgres:// URI into the key=value form the
// ducklake postgres connector expects.
func postgresToLibpq(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse postgres URI: %w", err)
	}
	var parts []string
	if parsed.Hostname() != "" {
		parts = append(parts, "host="+parsed.Hostname())
	}
	if parsed.Port() != "" {
		parts = append(parts, "port="+parsed.Port())
	}
	if parsed.User != nil {
		if username := parsed.User.Username(); username != "" {
			parts = append(parts, "user="+username)
		}
		if password, ok := parsed.User.Password(); ok {
			parts = append(parts, "password="+password)
		}
	}
	if dbname := strings.TrimPrefix(parsed.Path, "/"); dbname != "" {
		parts = append(parts, "dbname="+dbname)
	}
	query := parsed.Query()
	for key, values := range query {
		if len(values) > 0 {
			parts = append(parts, fmt.Sprintf("%s=%s", key, values[0]))
		}
	}
	return strings.Join(parts, " "), nil
}

// sanitizeErrorForLogging redacts passwords from error messages.
func sanitizeErrorForLogging(errMsg string) string {
	if strings.Contains(errMsg, "password=") {
		parts := strings.Fields(errMsg)
		for i, part := range parts {
			if value, ok := strings.CutPrefix(part, "password="); ok && strings.Trim(value, "'\"") != "" {
				parts[i] = "password=REDACTED"
			}
		}
		return strings.Join(parts, " ")
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		idx := strings.Index(errMsg, scheme)
		if idx == -1 {
			continue
		}
		afterScheme := errMsg[idx+len(scheme):]
		atIdx := strings.Index(afterScheme, "@")
		if atIdx == -1 {
			continue
		}
		user, _, hasPassword := strings.Cut(afterScheme[:atIdx], ":")
		if !hasPassword {
			continue
		}
		return errMsg[:idx+len(scheme)] + user + ":REDACTED" + afterScheme[atIdx:]
	}
	return errMsg
}

// RedactedCatalogURI redacts passwords from catalog URIs for logging.
func RedactedCatalogURI(uri string) string {
	if uri == "" {
		return uri
	}

	if isPostgresURI(uri) {
		parsed, err := url.Parse(uri)
		if err != nil {
			return "[REDACTED: invalid URI]"
		}
		if parsed.User != nil {
			if _, hasPassword := parsed.User.Password(); hasPassword {
				parsed.User = url.UserPassword(parsed.User.Username(), "REDACTED")
			}
		}
		return parsed.String()
	}

	if strings.Contains(uri, "password=") {
		parts := strings.Fields(uri)
		for i, part := range parts {
			if strings.HasPrefix(part, "password=") {
				parts[i] = "password=REDACTED"
			}
		}
		return strings.Join(parts, " ")
	}

	return uri
}

// RedactedStorageURI redacts credential-like query parameters from storage
// URIs for logging.
func RedactedStorageURI(uri string) string {
	if uri == "" || !IsS3URI(uri) {
		return uri
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return "[REDACTED: invalid URI]"
	}
	if parsed.RawQuery != "" {
		query, err := url.ParseQuery(parsed.RawQuery)
		if err == nil {
			sensitiveKeys := []string{"accesskey", "secretkey", "password", "token", "credential"}
			for key := range query {
				keyLower := strings.ToLower(key)
				for _, sensitive := range sensitiveKeys {
					if strings.Contains(keyLower, sensitive) {
						query[key] = []string{"REDACTED"}
					}
				}
			}
			parsed.RawQuery = query.Encode()
		}
	}
	return parsed.String()
}
