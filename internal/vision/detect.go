package vision

import (
	"fmt"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face box in source-image pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Detector runs the RetinaFace det_10g model. Sessions share tensors, so
// calls are serialized.
type Detector struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const anchorsPerStride = 2

// det_10g has no batch dimension on its outputs: scores, boxes, then
// landmarks, one tensor per stride.
var detectorOutputs = []struct {
	name string
	cols int64
}{
	{"448", 1}, {"471", 1}, {"494", 1},
	{"451", 4}, {"474", 4}, {"497", 4},
	{"454", 10}, {"477", 10}, {"500", 10},
}

func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	d := &Detector{inputTensor: inputTensor, threshold: threshold, inputW: inputW, inputH: inputH}
	names := make([]string, len(detectorOutputs))
	values := make([]ort.Value, len(detectorOutputs))
	for i, spec := range detectorOutputs {
		stride := strides[i%len(strides)]
		rows := int64((inputW / stride) * (inputH / stride) * anchorsPerStride)
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, spec.cols))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		d.outputTensors = append(d.outputTensors, t)
		names[i] = spec.name
		values[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{inputTensor}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	d.session = session
	return d, nil
}

// Detect runs the model on CHW input sized InputSize() and returns boxes
// scaled to origW x origH.
func (d *Detector) Detect(input []float32, origW, origH int) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	scores := make([][]float32, len(strides))
	boxes := make([][]float32, len(strides))
	for i := range strides {
		scores[i] = d.outputTensors[i].GetData()
		boxes[i] = d.outputTensors[i+len(strides)].GetData()
	}
	dets := decodeDetections(scores, boxes, d.threshold, d.inputW, d.inputH, origW, origH)
	return nms(dets, 0.4), nil
}

func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		t.Destroy()
	}
}

// decodeDetections turns per-stride anchor outputs into boxes. Box outputs
// are distances from the anchor centre to each edge, in stride units.
func decodeDetections(scores, boxes [][]float32, threshold float32, inW, inH, origW, origH int) []Detection {
	var out []Detection
	sx := float32(origW) / float32(inW)
	sy := float32(origH) / float32(inH)

	for si, stride := range strides {
		st := float32(stride)
		cols := inW / stride
		rows := inH / stride
		idx := 0
		for cy := 0; cy < rows; cy++ {
			for cx := 0; cx < cols; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if idx >= len(scores[si]) {
						break
					}
					if score := scores[si][idx]; score >= threshold {
						ax, ay := float32(cx)*st, float32(cy)*st
						b := boxes[si][idx*4 : idx*4+4]
						out = append(out, Detection{
							BBox: [4]float32{
								clampF((ax-b[0]*st)*sx, 0, float32(origW)),
								clampF((ay-b[1]*st)*sy, 0, float32(origH)),
								clampF((ax+b[2]*st)*sx, 0, float32(origW)),
								clampF((ay+b[3]*st)*sy, 0, float32(origH)),
							},
							Confidence: score,
						})
					}
					idx++
				}
			}
		}
	}
	return out
}

// nms keeps the most confident box of every overlapping group.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	var kept []Detection
	for _, d := range dets {
		overlaps := false
		for _, k := range kept {
			if iou(d.BBox, k.BBox) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	iw := min(a[2], b[2]) - max(a[0], b[0])
	ih := min(a[3], b[3]) - max(a[1], b[1])
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
