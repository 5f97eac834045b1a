// Package app assembles the services shared by the api, worker and facectl
// binaries from a loaded config.
package app

import (
	"fmt"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/vision"
)

// VisionStack holds the configured extraction provider and the embedder
// used for enrollment and recognition. Either may be nil when the runtime
// could not be loaded.
type VisionStack struct {
	Provider vision.Provider
	Embedder vision.FaceEmbedder
	onnx     *vision.ONNXProvider
}

func ONNXOptions(cfg *config.Config) vision.ONNXOptions {
	return vision.ONNXOptions{
		ModelsDir:          cfg.Vision.ModelsDir,
		DetectionThreshold: cfg.Vision.DetectionThreshold,
		CropMargin:         cfg.Vision.CropMargin,
		MinFaceSize:        cfg.Vision.MinFaceSize,
		FrameWidth:         cfg.Vision.FrameWidth,
		MaxFrames:          cfg.Extraction.MaxVideoFrames,
		ClusterEps:         cfg.Extraction.ClusterEps,
		ClusterMinPts:      cfg.Extraction.ClusterMinPts,
	}
}

// LoadVision builds what it can. A runner provider survives a missing ONNX
// runtime; the returned error then explains why the embedder is nil.
func LoadVision(cfg *config.Config) (*VisionStack, error) {
	stack := &VisionStack{}
	if cfg.Extraction.Provider == "runner" {
		stack.Provider = &vision.RunnerProvider{
			Command: cfg.Extraction.RunnerCommand,
			Args:    cfg.Extraction.RunnerArgs,
		}
	}

	if err := vision.InitRuntime(); err != nil {
		return stack, err
	}
	p, err := vision.NewONNXProvider(ONNXOptions(cfg))
	if err != nil {
		vision.DestroyRuntime()
		return stack, fmt.Errorf("load onnx models: %w", err)
	}
	stack.onnx = p
	stack.Embedder = p
	if stack.Provider == nil {
		stack.Provider = p
	}
	return stack, nil
}

func (s *VisionStack) Close() {
	if s.onnx != nil {
		s.onnx.Close()
		vision.DestroyRuntime()
	}
}
