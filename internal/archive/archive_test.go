package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"workflowup/backend/pkg/models"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) GetWorkflow(ctx context.Context, id int64) (models.Workflow, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Workflow), args.Error(1)
}

func (m *MockSource) ListActivities(ctx context.Context, id int64) ([]models.Activity, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]models.Activity), args.Error(1)
}

func (m *MockSource) ListTestCases(ctx context.Context, id int64) ([]models.TestCase, error) {
	args := m.Called(ctx, id)
	return args.Get(0).([]models.TestCase), args.Error(1)
}

type recorder struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (r *recorder) PutObject(_ context.Context, bucket, key string, body io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if r.err != nil {
		return minio.UploadInfo{}, r.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	r.bucket, r.key, r.contentType, r.body = bucket, key, opts.ContentType, data
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

var (
	created  = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	workflow = models.Workflow{ID: 7, ProjectCode: "PRJ-001", Manager: "jproyecto", CreatedOn: created}
	log      = []models.Activity{
		{WorkflowID: 7, ActivityID: 1, CreatedAt: created, Actor: "jproyecto", WorkflowState: models.WorkflowNew, Label: "Workflow created"},
		{WorkflowID: 7, ActivityID: 2, CreatedAt: created.Add(time.Minute), Actor: "jproyecto", WorkflowState: models.WorkflowActive,
			Process: models.ProcessBaseline, ProcessState: models.ProcessInProgress, Label: "Baseline requested"},
	}
	plan = []models.TestCase{{WorkflowID: 7, TestID: 1, Description: "Login", Result: models.TestNotStarted}}
)

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, workflow, log, plan))

	var kinds []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		kinds = append(kinds, rec.Kind)
		if rec.Kind == "activity" {
			require.NotNil(t, rec.Activity)
			assert.Equal(t, int64(len(kinds)-1), rec.Activity.ActivityID)
		}
	}
	assert.Equal(t, []string{"workflow", "activity", "activity", "test_case"}, kinds)
}

func TestExportWorkflow(t *testing.T) {
	ctx := context.Background()
	source := new(MockSource)
	source.On("GetWorkflow", ctx, int64(7)).Return(workflow, nil)
	source.On("ListActivities", ctx, int64(7)).Return(log, nil)
	source.On("ListTestCases", ctx, int64(7)).Return(plan, nil)

	store := &recorder{}
	e := NewExporter(source, store, "workflow-archive")
	e.newID = func() string { return "fixed" }

	key, err := e.ExportWorkflow(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "workflows/7/fixed.ndjson", key)
	assert.Equal(t, "workflow-archive", store.bucket)
	assert.Equal(t, ContentType, store.contentType)
	assert.Equal(t, 4, bytes.Count(store.body, []byte("\n")))
	source.AssertExpectations(t)
}

func TestExportWorkflowErrors(t *testing.T) {
	ctx := context.Background()
	missing := errors.New("workflow 9 not found")
	source := new(MockSource)
	source.On("GetWorkflow", ctx, int64(9)).Return(models.Workflow{}, missing)
	_, err := NewExporter(source, &recorder{}, "b").ExportWorkflow(ctx, 9)
	require.ErrorIs(t, err, missing)

	source = new(MockSource)
	source.On("GetWorkflow", ctx, int64(7)).Return(workflow, nil)
	source.On("ListActivities", ctx, int64(7)).Return(log, nil)
	source.On("ListTestCases", ctx, int64(7)).Return([]models.TestCase(nil), nil)
	_, err = NewExporter(source, &recorder{err: errors.New("bucket gone")}, "b").ExportWorkflow(ctx, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s", Bucket: "b"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no endpoint", func(c *Config) { c.Endpoint = "" }},
		{"scheme", func(c *Config) { c.Endpoint = "http://localhost:9000" }},
		{"no access key", func(c *Config) { c.AccessKey = " " }},
		{"no secret", func(c *Config) { c.SecretKey = "" }},
		{"no bucket", func(c *Config) { c.Bucket = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	_, err := NewClient(Config{})
	assert.Error(t, err)
	client, err := NewClient(valid)
	require.NoError(t, err)
	assert.NotNil(t, client)
}
