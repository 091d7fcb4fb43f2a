// Package archive exports workflow activity logs as NDJSON objects to
// S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"workflowup/backend/pkg/models"
)

// ContentType of exported objects.
const ContentType = "application/x-ndjson"

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// Source reads the records of one workflow.
type Source interface {
	GetWorkflow(ctx context.Context, workflowID int64) (models.Workflow, error)
	ListActivities(ctx context.Context, workflowID int64) ([]models.Activity, error)
	ListTestCases(ctx context.Context, workflowID int64) ([]models.TestCase, error)
}

// ObjectPutter is the subset of *minio.Client the exporter writes with.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Record is one NDJSON line. Kind is workflow, activity or test_case.
type Record struct {
	Kind     string           `json:"kind"`
	Workflow *models.Workflow `json:"workflow,omitempty"`
	Activity *models.Activity `json:"activity,omitempty"`
	TestCase *models.TestCase `json:"test_case,omitempty"`
}

// NewClient builds a MinIO client for cfg.
func NewClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    region,
		Transport: newTransport(),
	})
}

// EnsureBucket creates the bucket when it does not exist.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	return nil
}

// Exporter writes workflow snapshots to a bucket.
type Exporter struct {
	source Source
	store  ObjectPutter
	bucket string
	newID  func() string
}

func NewExporter(source Source, store ObjectPutter, bucket string) *Exporter {
	return &Exporter{source: source, store: store, bucket: bucket, newID: uuid.NewString}
}

// ObjectKey names the object an export of workflowID is written to.
func ObjectKey(workflowID int64, id string) string {
	return fmt.Sprintf("workflows/%d/%s.ndjson", workflowID, id)
}

// ExportWorkflow writes the workflow, its activity log and its test plan as
// one object and returns the object key.
func (e *Exporter) ExportWorkflow(ctx context.Context, workflowID int64) (string, error) {
	w, err := e.source.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	activities, err := e.source.ListActivities(ctx, workflowID)
	if err != nil {
		return "", err
	}
	tests, err := e.source.ListTestCases(ctx, workflowID)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, w, activities, tests); err != nil {
		return "", err
	}
	key := ObjectKey(workflowID, e.newID())
	_, err = e.store.PutObject(ctx, e.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{ContentType: ContentType})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// Encode writes one Record per line: the workflow first, then activities
// in log order, then test cases.
func Encode(w io.Writer, wf models.Workflow, activities []models.Activity, tests []models.TestCase) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(Record{Kind: "workflow", Workflow: &wf}); err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	for i := range activities {
		if err := enc.Encode(Record{Kind: "activity", Activity: &activities[i]}); err != nil {
			return fmt.Errorf("encode activity %d: %w", activities[i].ActivityID, err)
		}
	}
	for i := range tests {
		if err := enc.Encode(Record{Kind: "test_case", TestCase: &tests[i]}); err != nil {
			return fmt.Errorf("encode test case %d: %w", tests[i].TestID, err)
		}
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
