package vision

import (
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Embedder runs the ArcFace w600k_r50 model: 112x112 face in, 512-d vector out.
type Embedder struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	dim          int
}

func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	e := &Embedder{inputW: 112, inputH: 112, dim: 512}

	var err error
	e.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(e.inputH), int64(e.inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	e.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.dim)))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	e.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, []string{"683"},
		[]ort.Value{e.inputTensor}, []ort.Value{e.outputTensor},
		opts,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return e, nil
}

// Embed returns the L2-normalized vector for CHW input sized InputSize().
func (e *Embedder) Embed(input []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputTensor.GetData(), input)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}
	out := make([]float32, e.dim)
	copy(out, e.outputTensor.GetData())
	normalize(out)
	return out, nil
}

func (e *Embedder) InputSize() (int, int) {
	return e.inputW, e.inputH
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}
