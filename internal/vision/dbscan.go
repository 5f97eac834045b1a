package vision

import (
	"fmt"
	"math"
)

// Noise is the label DBSCAN gives points that belong to no cluster.
const Noise = -1

// DBSCAN groups vectors by euclidean distance. A point with at least
// minPts neighbours within eps (itself included) is a core point; clusters
// are the points density-reachable from a core point. Labels are numbered
// from 0 in order of discovery.
func DBSCAN(points [][]float32, eps float64, minPts int) ([]int, error) {
	if len(points) == 0 {
		return nil, nil
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim || dim == 0 {
			return nil, fmt.Errorf("dbscan: point %d has dimension %d, want %d", i, len(p), dim)
		}
	}

	const unvisited = -2
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	neighbours := func(i int) []int {
		var out []int
		for j := range points {
			if euclidean(points[i], points[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		seeds := neighbours(i)
		if len(seeds) < minPts {
			labels[i] = Noise
			continue
		}
		labels[i] = cluster
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == Noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if more := neighbours(j); len(more) >= minPts {
				seeds = append(seeds, more...)
			}
		}
		cluster++
	}
	return labels, nil
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// GroupCrops clusters samples by embedding and keys the groups by cluster
// name. If clustering fails every sample lands in UnknownCluster.
func GroupCrops(crops []Crop, eps float64, minPts int) map[string][]Crop {
	if len(crops) == 0 {
		return map[string][]Crop{}
	}
	points := make([][]float32, len(crops))
	for i, c := range crops {
		points[i] = c.Embedding
	}
	labels, err := DBSCAN(points, eps, minPts)
	if err != nil {
		return map[string][]Crop{UnknownCluster: crops}
	}
	groups := make(map[string][]Crop)
	for i, l := range labels {
		name := ClusterName(l)
		groups[name] = append(groups[name], crops[i])
	}
	return groups
}
