package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
)

// RunnerProvider delegates extraction to an external process that reads one
// JSON request on stdin and writes one JSON response on stdout.
type RunnerProvider struct {
	Command string
	Args    []string
	// Env is appended to the current environment.
	Env []string
}

type runnerRequest struct {
	Command   string `json:"command"`
	FileBytes []byte `json:"file_bytes"`
	FileType  string `json:"file_type"`
}

type runnerFace struct {
	Image      []byte    `json:"image"`
	Confidence float32   `json:"confidence,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

type runnerResponse struct {
	Success   bool                    `json:"success"`
	IsValid   bool                    `json:"is_valid"`
	Clusters  map[string][]runnerFace `json:"clusters"`
	FaceCount int                     `json:"face_count"`
	Message   string                  `json:"message"`
	Traceback string                  `json:"traceback,omitempty"`
}

func (p *RunnerProvider) Extract(ctx context.Context, media []byte, kind models.MediaKind) (*Result, error) {
	req, err := json.Marshal(runnerRequest{
		Command:   "validate_upload",
		FileBytes: media,
		FileType:  string(kind),
	})
	if err != nil {
		return nil, fmt.Errorf("encode runner request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Stdin = bytes.NewReader(req)
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, eris.Wrapf(apperr.ErrProviderFailure, "runner exited: %v: %s", err, lastLine(stderr.String()))
	}

	var resp runnerResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, eris.Wrapf(apperr.ErrProviderFailure, "decode runner response: %v", err)
	}
	if !resp.Success {
		if resp.Traceback != "" {
			slog.Debug("runner traceback", "traceback", resp.Traceback)
		}
		return nil, eris.Wrap(apperr.ErrProviderFailure, resp.Message)
	}

	res := &Result{
		Valid:     resp.IsValid,
		FaceCount: resp.FaceCount,
		Message:   resp.Message,
		Clusters:  make(map[string][]Crop, len(resp.Clusters)),
	}
	for id, faces := range resp.Clusters {
		crops := make([]Crop, 0, len(faces))
		for _, f := range faces {
			if len(f.Image) == 0 {
				continue
			}
			crops = append(crops, Crop{Image: f.Image, Confidence: f.Confidence, Embedding: f.Embedding})
		}
		if len(crops) > 0 {
			res.Clusters[id] = crops
		}
	}
	return res, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
