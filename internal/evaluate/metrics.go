package evaluate

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type ConfusionMatrix struct {
	TP, FP, TN, FN int
}

type KScore struct {
	K        int
	Accuracy float64
}

// Details carries the raw vectors for external visualization.
type Details struct {
	Predictions        []int
	GroundTruth        []int
	PredictedPositions []int
	ActualPositions    []int
}

type Metrics struct {
	ExactAccuracy float64
	Precision     float64
	Recall        float64
	F1            float64

	WithinK          []KScore
	WindowedAccuracy float64

	Distance DistanceMetrics

	TruePositiveRate    float64
	FalsePositiveRate   float64
	PredictedBoundaries int
	ActualBoundaries    int
	Confusion           ConfusionMatrix

	Details *Details
}

// WithinKAccuracy looks up the score for tolerance k.
func (m Metrics) WithinKAccuracy(k int) (float64, bool) {
	for _, s := range m.WithinK {
		if s.K == k {
			return s.Accuracy, true
		}
	}
	return 0, false
}

func withinKKey(k int) string {
	return "within_" + strconv.Itoa(k) + "_accuracy"
}

// Flatten returns every scalar metric under its document key. Confusion
// matrix cells are keyed confusion_matrix.tp and so on.
func (m Metrics) Flatten() map[string]float64 {
	out := map[string]float64{
		"exact_accuracy":       m.ExactAccuracy,
		"precision":            m.Precision,
		"recall":               m.Recall,
		"f1_score":             m.F1,
		"windowed_accuracy":    m.WindowedAccuracy,
		"mean_distance":        m.Distance.Mean,
		"median_distance":      m.Distance.Median,
		"min_distance":         m.Distance.Min,
		"max_distance":         m.Distance.Max,
		"boundary_count_diff":  float64(m.Distance.CountDiff),
		"boundary_precision":   m.Distance.Precision,
		"boundary_recall":      m.Distance.Recall,
		"true_positive_rate":   m.TruePositiveRate,
		"false_positive_rate":  m.FalsePositiveRate,
		"predicted_boundaries": float64(m.PredictedBoundaries),
		"actual_boundaries":    float64(m.ActualBoundaries),
		"confusion_matrix.tp":  float64(m.Confusion.TP),
		"confusion_matrix.fp":  float64(m.Confusion.FP),
		"confusion_matrix.tn":  float64(m.Confusion.TN),
		"confusion_matrix.fn":  float64(m.Confusion.FN),
	}
	for _, s := range m.WithinK {
		out[withinKKey(s.K)] = s.Accuracy
	}
	return out
}

// Unflatten rebuilds metrics from a Flatten map, as stored per run.
func Unflatten(flat map[string]float64) Metrics {
	m := Metrics{
		ExactAccuracy:    flat["exact_accuracy"],
		Precision:        flat["precision"],
		Recall:           flat["recall"],
		F1:               flat["f1_score"],
		WindowedAccuracy: flat["windowed_accuracy"],
		Distance: DistanceMetrics{
			Mean:      flat["mean_distance"],
			Median:    flat["median_distance"],
			Min:       flat["min_distance"],
			Max:       flat["max_distance"],
			CountDiff: int(flat["boundary_count_diff"]),
			Precision: flat["boundary_precision"],
			Recall:    flat["boundary_recall"],
		},
		TruePositiveRate:    flat["true_positive_rate"],
		FalsePositiveRate:   flat["false_positive_rate"],
		PredictedBoundaries: int(flat["predicted_boundaries"]),
		ActualBoundaries:    int(flat["actual_boundaries"]),
		Confusion: ConfusionMatrix{
			TP: int(flat["confusion_matrix.tp"]),
			FP: int(flat["confusion_matrix.fp"]),
			TN: int(flat["confusion_matrix.tn"]),
			FN: int(flat["confusion_matrix.fn"]),
		},
	}
	for key, v := range flat {
		if !strings.HasPrefix(key, "within_") || !strings.HasSuffix(key, "_accuracy") {
			continue
		}
		k, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, "within_"), "_accuracy"))
		if err != nil {
			continue
		}
		m.WithinK = append(m.WithinK, KScore{K: k, Accuracy: v})
	}
	sort.Slice(m.WithinK, func(i, j int) bool { return m.WithinK[i].K < m.WithinK[j].K })
	return m
}

// jsonNumber keeps infinite distances representable in JSON.
type jsonNumber float64

func (n jsonNumber) MarshalJSON() ([]byte, error) {
	f := float64(n)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	}
	return json.Marshal(f)
}

// MarshalJSON writes the flat key/value document.
func (m Metrics) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any)
	for key, v := range m.Flatten() {
		if strings.HasPrefix(key, "confusion_matrix.") {
			continue
		}
		doc[key] = jsonNumber(v)
	}
	doc["confusion_matrix"] = map[string]int{
		"tp": m.Confusion.TP,
		"fp": m.Confusion.FP,
		"tn": m.Confusion.TN,
		"fn": m.Confusion.FN,
	}
	if m.Details != nil {
		doc["predictions"] = m.Details.Predictions
		doc["ground_truth"] = m.Details.GroundTruth
		doc["boundary_positions"] = map[string][]int{
			"predicted": m.Details.PredictedPositions,
			"actual":    m.Details.ActualPositions,
		}
	}
	return json.Marshal(doc)
}

func WriteMetricsFile(path string, m Metrics) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("evaluate: create metrics dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("evaluate: encode metrics: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("evaluate: write metrics: %w", err)
	}
	return nil
}
