// Package archive optionally ships closed (yesterday-or-older) processed
// days to S3-compatible cold storage (SPEC_FULL.md §4.5, ARCHIVE_S3_BUCKET).
// aws-sdk-go-v2 sits in the teacher's go.mod only as a transitive
// dependency with no wiring of its own; this package gives it a direct
// home in the pipeline's retention story, using the SDK's own documented
// client-construction idiom (config.LoadDefaultConfig + s3.NewFromConfig)
// since no pack example wires S3 directly.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// categories are the top-level directories fsloader writes per day
// (internal/storage/fsloader.Loader), mirrored one-for-one into the
// archive's object key prefix.
var categories = []string{"processed", "alerts", "statistics", "threat_intelligence"}

// Archiver uploads a day's worth of fsloader output to S3 before
// internal/storage/fsloader.Sweep removes it locally.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// New loads AWS credentials from the default provider chain (env vars,
// shared config, instance role) and returns an Archiver bound to bucket.
func New(ctx context.Context, bucket, prefix string) (*Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Archiver{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// PutObject uploads one file's bytes under <prefix>/<date>/<name>.
func (a *Archiver) PutObject(ctx context.Context, date, name string, body []byte) error {
	key := path.Join(a.prefix, date, name)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the object <prefix>/<date>/<name> is already in
// the bucket. Any HeadObject error, not only a missing key, is reported
// as false with a nil error. ArchiveDay does not call it.
func (a *Archiver) Exists(ctx context.Context, date, name string) (bool, error) {
	key := path.Join(a.prefix, date, name)
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// ArchiveDay uploads every file fsloader wrote for date under dataDir,
// under the S3 key <prefix>/<date>/<category>/<file>. Missing
// category directories (a quiet day with no alerts, say) are skipped.
func (a *Archiver) ArchiveDay(ctx context.Context, dataDir, date string) (int, error) {
	uploaded := 0
	for _, category := range categories {
		dir := filepath.Join(dataDir, category, date)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return uploaded, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			body, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return uploaded, fmt.Errorf("read %s: %w", e.Name(), err)
			}
			if err := a.PutObject(ctx, date, path.Join(category, e.Name()), body); err != nil {
				return uploaded, err
			}
			uploaded++
		}
	}
	return uploaded, nil
}
