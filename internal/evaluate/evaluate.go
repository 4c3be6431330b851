package evaluate

import (
	"fmt"
	"math"
	"sort"

	"sessionsplit/internal/domain"
)

var DefaultTolerances = []int{1, 2, 3, 5}

const DefaultWindowSize = 5

// Evaluator scores predicted session boundaries against noisy ground truth.
// Tolerances drive the within-k scores and, through their maximum, the
// boundary precision of the distance block.
type Evaluator struct {
	tolerances []int
	windowSize int
}

func New(tolerances []int, windowSize int) (*Evaluator, error) {
	if len(tolerances) == 0 {
		return nil, fmt.Errorf("evaluate: at least one tolerance level is required")
	}
	for _, k := range tolerances {
		if k < 0 {
			return nil, fmt.Errorf("evaluate: tolerance level must be >= 0, got %d", k)
		}
	}
	if windowSize < 0 {
		return nil, fmt.Errorf("evaluate: window size must be >= 0, got %d", windowSize)
	}
	return &Evaluator{
		tolerances: append([]int(nil), tolerances...),
		windowSize: windowSize,
	}, nil
}

func (e *Evaluator) Tolerances() []int {
	return append([]int(nil), e.tolerances...)
}

func (e *Evaluator) maxTolerance() int {
	top := e.tolerances[0]
	for _, k := range e.tolerances[1:] {
		if k > top {
			top = k
		}
	}
	return top
}

// GroundTruthVector maps every label to a boundary flag. Unknown labels are
// negatives and keep their position.
func GroundTruthVector(labels []domain.Label) []bool {
	out := make([]bool, len(labels))
	for i, l := range labels {
		out[i] = l.Boundary()
	}
	return out
}

// Positions returns the indices of true entries.
func Positions(v []bool) []int {
	out := []int{}
	for i, b := range v {
		if b {
			out = append(out, i)
		}
	}
	return out
}

func ExactAccuracy(pred, truth []bool) float64 {
	if len(truth) == 0 {
		return 0
	}
	same := 0
	for i := range truth {
		if pred[i] == truth[i] {
			same++
		}
	}
	return float64(same) / float64(len(truth))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// nearest returns the index into targets of the element closest to p; ties go
// to the earliest element.
func nearest(targets []int, p int) (idx, dist int) {
	idx, dist = 0, abs(targets[0]-p)
	for i, t := range targets[1:] {
		if d := abs(t - p); d < dist {
			idx, dist = i+1, d
		}
	}
	return idx, dist
}

// WithinKAccuracy is the harmonic mean of the share of predicted boundaries
// with a true boundary within k positions and the share of true boundaries
// with a predicted one within k. Both sides empty scores 1; one side empty
// scores 0.
func WithinKAccuracy(pred, truth []bool, k int) float64 {
	p, t := Positions(pred), Positions(truth)
	if len(p) == 0 && len(t) == 0 {
		return 1
	}
	if len(p) == 0 || len(t) == 0 {
		return 0
	}
	predHits := 0
	for _, x := range p {
		if _, d := nearest(t, x); d <= k {
			predHits++
		}
	}
	trueHits := 0
	for _, x := range t {
		if _, d := nearest(p, x); d <= k {
			trueHits++
		}
	}
	precision := float64(predHits) / float64(len(p))
	recall := float64(trueHits) / float64(len(t))
	return harmonic(precision, recall)
}

func harmonic(a, b float64) float64 {
	if a+b == 0 {
		return 0
	}
	return 2 * a * b / (a + b)
}

type DistanceMetrics struct {
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	// CountDiff is ||P| - |T||.
	CountDiff int
	Precision float64
	Recall    float64
}

// BoundaryDistance matches every predicted boundary to its nearest true
// boundary. Several predictions may claim the same true boundary; recall
// counts it once.
func BoundaryDistance(pred, truth []bool, tolerance int) DistanceMetrics {
	p, t := Positions(pred), Positions(truth)
	m := DistanceMetrics{CountDiff: abs(len(p) - len(t))}

	if len(p) == 0 || len(t) == 0 {
		d := math.Inf(1)
		if len(p) == len(t) {
			d = 0
		}
		m.Mean, m.Median, m.Min, m.Max = d, d, d, d
		if len(p) == 0 {
			m.Precision = 1
		}
		if len(t) == 0 {
			m.Recall = 1
		}
		return m
	}

	distances := make([]float64, len(p))
	matched := make(map[int]bool)
	within := 0
	sum := 0.0
	for i, x := range p {
		idx, d := nearest(t, x)
		matched[idx] = true
		distances[i] = float64(d)
		sum += float64(d)
		if d <= tolerance {
			within++
		}
	}
	sort.Float64s(distances)

	m.Mean = sum / float64(len(distances))
	m.Median = median(distances)
	m.Min = distances[0]
	m.Max = distances[len(distances)-1]
	m.Precision = float64(within) / float64(len(p))
	m.Recall = float64(len(matched)) / float64(len(t))
	return m
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// WindowedAccuracy is the share of true boundaries b with a predicted boundary
// in [b-w/2, b+w/2], clipped to the sequence. No true boundaries scores 1.
func WindowedAccuracy(pred, truth []bool, windowSize int) float64 {
	t := Positions(truth)
	if len(t) == 0 {
		return 1
	}
	half := windowSize / 2
	hits := 0
	for _, b := range t {
		start := b - half
		if start < 0 {
			start = 0
		}
		end := b + half + 1
		if end > len(pred) {
			end = len(pred)
		}
		for i := start; i < end; i++ {
			if pred[i] {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(t))
}

func confusion(pred, truth []bool) ConfusionMatrix {
	var cm ConfusionMatrix
	for i := range truth {
		switch {
		case pred[i] && truth[i]:
			cm.TP++
		case pred[i] && !truth[i]:
			cm.FP++
		case !pred[i] && truth[i]:
			cm.FN++
		default:
			cm.TN++
		}
	}
	return cm
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Evaluate computes the full metrics record. Precision, recall and F1 are 0
// whenever either side has no boundaries at all.
func (e *Evaluator) Evaluate(pred, truth []bool, details bool) (Metrics, error) {
	if len(pred) != len(truth) {
		return Metrics{}, fmt.Errorf("evaluate: predictions and ground truth differ in length (%d vs %d)", len(pred), len(truth))
	}

	cm := confusion(pred, truth)
	m := Metrics{
		ExactAccuracy:       ExactAccuracy(pred, truth),
		WindowedAccuracy:    WindowedAccuracy(pred, truth, e.windowSize),
		Distance:            BoundaryDistance(pred, truth, e.maxTolerance()),
		TruePositiveRate:    ratio(cm.TP, cm.TP+cm.FN),
		FalsePositiveRate:   ratio(cm.FP, cm.FP+cm.TN),
		PredictedBoundaries: cm.TP + cm.FP,
		ActualBoundaries:    cm.TP + cm.FN,
		Confusion:           cm,
	}
	if m.PredictedBoundaries > 0 && m.ActualBoundaries > 0 {
		m.Precision = ratio(cm.TP, cm.TP+cm.FP)
		m.Recall = ratio(cm.TP, cm.TP+cm.FN)
		m.F1 = harmonic(m.Precision, m.Recall)
	}
	for _, k := range e.tolerances {
		m.WithinK = append(m.WithinK, KScore{K: k, Accuracy: WithinKAccuracy(pred, truth, k)})
	}
	if details {
		m.Details = &Details{
			Predictions:        toInts(pred),
			GroundTruth:        toInts(truth),
			PredictedPositions: Positions(pred),
			ActualPositions:    Positions(truth),
		}
	}
	return m, nil
}

func toInts(v []bool) []int {
	out := make([]int, len(v))
	for i, b := range v {
		if b {
			out[i] = 1
		}
	}
	return out
}
