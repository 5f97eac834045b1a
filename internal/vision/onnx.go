package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
)

// InitRuntime loads the shared ONNX Runtime library. Call DestroyRuntime on
// shutdown.
func InitRuntime() error {
	ort.SetSharedLibraryPath(libraryPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
}

func libraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

type ONNXOptions struct {
	ModelsDir          string
	DetectionThreshold float64
	// CropMargin grows each detection box by this fraction on every side.
	CropMargin    float64
	MinFaceSize   int
	FrameWidth    int
	MaxFrames     int
	ClusterEps    float64
	ClusterMinPts int
}

// ONNXProvider detects faces with RetinaFace, embeds them with ArcFace and
// groups them with DBSCAN. It also serves single-image enrollment.
type ONNXProvider struct {
	detector *Detector
	embedder *Embedder
	sampler  *FrameSampler
	opts     ONNXOptions
}

func NewONNXProvider(opts ONNXOptions) (*ONNXProvider, error) {
	detPath := filepath.Join(opts.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(opts.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(opts.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &ONNXProvider{
		detector: det,
		embedder: emb,
		sampler:  &FrameSampler{MaxFrames: opts.MaxFrames, Width: opts.FrameWidth},
		opts:     opts,
	}, nil
}

func (p *ONNXProvider) Extract(ctx context.Context, media []byte, kind models.MediaKind) (*Result, error) {
	var frames [][]byte
	switch kind {
	case models.MediaImage:
		frames = [][]byte{media}
	case models.MediaVideo:
		var err error
		frames, err = p.sampler.Sample(ctx, media)
		if err != nil {
			if !errors.Is(err, apperr.ErrInvalidMedia) {
				return nil, eris.Wrapf(apperr.ErrProviderFailure, "sample video: %v", err)
			}
			slog.Warn("unreadable video", "error", err)
			frames = nil
		}
	default:
		return &Result{Message: UnsupportedTypeMessage}, nil
	}

	var crops []Crop
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := decodeImage(frame)
		if err != nil {
			slog.Warn("skip undecodable frame", "frame", i, "error", err)
			continue
		}
		found, err := p.facesIn(img)
		if err != nil {
			return nil, eris.Wrapf(apperr.ErrProviderFailure, "frame %d: %v", i, err)
		}
		crops = append(crops, found...)
	}

	if len(crops) == 0 {
		return &Result{Message: NoFacesMessage(kind)}, nil
	}
	return &Result{
		Valid:     true,
		FaceCount: len(crops),
		Clusters:  GroupCrops(crops, p.opts.ClusterEps, p.opts.ClusterMinPts),
		Message:   SuccessMessage(len(crops), kind),
	}, nil
}

// facesIn returns every face in img that is at least MinFaceSize on both
// sides after the margin is applied.
func (p *ONNXProvider) facesIn(img image.Image) ([]Crop, error) {
	dets, err := p.detect(img)
	if err != nil {
		return nil, err
	}
	var crops []Crop
	for _, d := range dets {
		r := expandBox(d.BBox, p.opts.CropMargin, img.Bounds())
		if r.Dx() < p.opts.MinFaceSize || r.Dy() < p.opts.MinFaceSize {
			continue
		}
		crop, err := p.embedCrop(img, r, d.Confidence)
		if err != nil {
			return nil, err
		}
		crops = append(crops, *crop)
	}
	return crops, nil
}

func (p *ONNXProvider) detect(img image.Image) ([]Detection, error) {
	w, h := p.detector.InputSize()
	input := toCHW(img, w, h, 127.5, 128)
	return p.detector.Detect(input, img.Bounds().Dx(), img.Bounds().Dy())
}

func (p *ONNXProvider) embedCrop(img image.Image, r image.Rectangle, confidence float32) (*Crop, error) {
	face := cropRect(img, r)
	w, h := p.embedder.InputSize()
	emb, err := p.embedder.Embed(toCHW(face, w, h, 127.5, 127.5))
	if err != nil {
		return nil, err
	}
	data, err := encodeJPEG(face, 90)
	if err != nil {
		return nil, err
	}
	return &Crop{Image: data, Confidence: confidence, Embedding: emb}, nil
}

// EmbedFace embeds the most confident face in image. An image without a face
// is invalid media.
func (p *ONNXProvider) EmbedFace(ctx context.Context, data []byte) (*FaceSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	dets, err := p.detect(img)
	if err != nil {
		return nil, eris.Wrapf(apperr.ErrProviderFailure, "detect: %v", err)
	}
	if len(dets) == 0 {
		return nil, eris.Wrap(apperr.ErrInvalidMedia, "no face detected in image")
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	crop, err := p.embedCrop(img, expandBox(best.BBox, p.opts.CropMargin, img.Bounds()), best.Confidence)
	if err != nil {
		return nil, eris.Wrapf(apperr.ErrProviderFailure, "embed: %v", err)
	}
	return &FaceSample{Embedding: crop.Embedding, Confidence: crop.Confidence, Crop: crop.Image}, nil
}

func (p *ONNXProvider) FeatureVersion() string {
	return models.FeatureVersion
}

func (p *ONNXProvider) Close() {
	p.detector.Close()
	p.embedder.Close()
}
