package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
)

// TestHelperProcess is not a real test. It stands in for the external runner
// when invoked by helperRunner.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("FACEGATE_HELPER_MODE")
	if mode == "" {
		return
	}
	defer os.Exit(0)

	var req runnerRequest
	data, _ := io.ReadAll(os.Stdin)
	_ = json.Unmarshal(data, &req)

	switch mode {
	case "ok":
		resp := map[string]any{
			"success":    true,
			"is_valid":   true,
			"face_count": 3,
			"message":    fmt.Sprintf("Successfully extracted 3 faces from %s.", req.FileType),
			"clusters": map[string]any{
				"cluster_0": []map[string]any{{"image": []byte("a")}, {"image": []byte("b")}},
				"unknown":   []map[string]any{{"image": []byte(req.FileBytes)}},
			},
		}
		_ = json.NewEncoder(os.Stdout).Encode(resp)
	case "invalid":
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{
			"success": true, "is_valid": false, "face_count": 0,
			"message": "No human faces detected in the uploaded image. Please upload an image containing clear human faces.",
		})
	case "error":
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"success": false, "message": "model not loaded"})
	case "garbage":
		fmt.Fprint(os.Stdout, "not json")
	case "crash":
		fmt.Fprintln(os.Stderr, "Traceback: boom")
		os.Exit(3)
	case "hang":
		time.Sleep(10 * time.Second)
	}
}

func helperRunner(mode string) *RunnerProvider {
	return &RunnerProvider{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env:     []string{"FACEGATE_HELPER_MODE=" + mode},
	}
}

func TestRunnerProviderSuccess(t *testing.T) {
	res, err := helperRunner("ok").Extract(context.Background(), []byte("media"), models.MediaImage)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 3, res.FaceCount)
	assert.Equal(t, "Successfully extracted 3 faces from image.", res.Message)
	require.Len(t, res.Clusters["cluster_0"], 2)
	assert.Equal(t, []byte("a"), res.Clusters["cluster_0"][0].Image)
	assert.Equal(t, []byte("media"), res.Clusters[UnknownCluster][0].Image)
}

func TestRunnerProviderInvalidIsNotAnError(t *testing.T) {
	res, err := helperRunner("invalid").Extract(context.Background(), []byte("x"), models.MediaImage)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, NoFacesMessage(models.MediaImage), res.Message)
}

func TestRunnerProviderFailures(t *testing.T) {
	for _, mode := range []string{"error", "garbage", "crash"} {
		t.Run(mode, func(t *testing.T) {
			_, err := helperRunner(mode).Extract(context.Background(), []byte("x"), models.MediaVideo)
			assert.ErrorIs(t, err, apperr.ErrProviderFailure)
		})
	}
}

func TestRunnerProviderHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := helperRunner("hang").Extract(ctx, []byte("x"), models.MediaImage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
