package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientStart(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody startRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"name": "analysis-x7k2", "status": "Running"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123", zap.NewNop())
	name, err := client.Start(context.Background(), "transcript-analysis", []EnvVar{
		{Name: "EXECUTION_ID", Value: "m1-t1-100"},
		{Name: "MEETING_ID", Value: "m1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "analysis-x7k2", name)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "/jobs/transcript-analysis/executions", gotPath)
	require.Len(t, gotBody.Env, 2)
	assert.Equal(t, "EXECUTION_ID", gotBody.Env[0].Name)
	assert.Equal(t, "m1-t1-100", gotBody.Env[0].Value)
}

func TestClientStartMissingExecutionName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "Running"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", zap.NewNop())
	_, err := client.Start(context.Background(), "transcript-analysis", nil)
	assert.Error(t, err)
}

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/transcript-analysis/executions/exec-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"name": "exec-1", "status": "Succeeded"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", zap.NewNop())
	status, err := client.Status(context.Background(), "transcript-analysis", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, status)
	assert.False(t, status.IsActive())
}

func TestClientStop(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", zap.NewNop())
	require.NoError(t, client.Stop(context.Background(), "transcript-analysis", "exec-1"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/jobs/transcript-analysis/executions/exec-1/stop", gotPath)
}

func TestClientListRunningFiltersInactive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Running", r.URL.Query().Get("status"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"value": []map[string]string{
				{"name": "exec-1", "status": "Running"},
				{"name": "exec-2", "status": "Succeeded"},
				{"name": "exec-3", "status": "Processing"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", zap.NewNop())
	executions, err := client.ListRunning(context.Background(), "transcript-analysis")
	require.NoError(t, err)

	// Platforms can return freshly finished executions under a Running
	// filter; only active states survive.
	require.Len(t, executions, 2)
	assert.Equal(t, "exec-1", executions[0].Name)
	assert.Equal(t, "exec-3", executions[1].Name)
}

func TestClientErrorIncludesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"token expired"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", zap.NewNop())
	_, err := client.Status(context.Background(), "transcript-analysis", "exec-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "token expired")
}

func TestExecutionStatusIsActive(t *testing.T) {
	assert.True(t, StatusRunning.IsActive())
	assert.True(t, StatusProcessing.IsActive())
	assert.False(t, StatusSucceeded.IsActive())
	assert.False(t, StatusFailed.IsActive())
	assert.False(t, StatusStopped.IsActive())
	assert.False(t, StatusUnknown.IsActive())
}
