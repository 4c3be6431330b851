package evaluate

import (
	"fmt"
	"strings"
)

// FormatReport renders metrics as the plain-text evaluation report.
func FormatReport(m Metrics, name string) string {
	if name == "" {
		name = "Model"
	}
	rule := strings.Repeat("=", 60)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", rule)
	fmt.Fprintf(&b, "SESSION BOUNDARY EVALUATION REPORT - %s\n", name)
	fmt.Fprintf(&b, "%s\n", rule)

	b.WriteString("\nSTANDARD CLASSIFICATION METRICS:\n")
	fmt.Fprintf(&b, "   Exact Accuracy:    %.3f\n", m.ExactAccuracy)
	fmt.Fprintf(&b, "   Precision:         %.3f\n", m.Precision)
	fmt.Fprintf(&b, "   Recall:            %.3f\n", m.Recall)
	fmt.Fprintf(&b, "   F1-Score:          %.3f\n", m.F1)

	b.WriteString("\nTOLERANCE-BASED METRICS:\n")
	for _, s := range m.WithinK {
		fmt.Fprintf(&b, "   Within-%d Accuracy: %.3f\n", s.K, s.Accuracy)
	}
	fmt.Fprintf(&b, "   Windowed Accuracy: %.3f\n", m.WindowedAccuracy)

	b.WriteString("\nBOUNDARY DISTANCE METRICS:\n")
	fmt.Fprintf(&b, "   Mean Distance:     %.2f\n", m.Distance.Mean)
	fmt.Fprintf(&b, "   Median Distance:   %.2f\n", m.Distance.Median)
	fmt.Fprintf(&b, "   Min Distance:      %.2f\n", m.Distance.Min)
	fmt.Fprintf(&b, "   Max Distance:      %.2f\n", m.Distance.Max)
	fmt.Fprintf(&b, "   Boundary Precision:%.3f\n", m.Distance.Precision)
	fmt.Fprintf(&b, "   Boundary Recall:   %.3f\n", m.Distance.Recall)

	b.WriteString("\nBOUNDARY STATISTICS:\n")
	fmt.Fprintf(&b, "   Predicted Boundaries: %d\n", m.PredictedBoundaries)
	fmt.Fprintf(&b, "   Actual Boundaries:    %d\n", m.ActualBoundaries)
	fmt.Fprintf(&b, "   Count Difference:     %d\n", m.Distance.CountDiff)
	fmt.Fprintf(&b, "   True Positive Rate:   %.3f\n", m.TruePositiveRate)
	fmt.Fprintf(&b, "   False Positive Rate:  %.3f\n", m.FalsePositiveRate)

	cm := m.Confusion
	b.WriteString("\nCONFUSION MATRIX:\n")
	fmt.Fprintf(&b, "   True Positives:  %4d   False Positives: %4d\n", cm.TP, cm.FP)
	fmt.Fprintf(&b, "   False Negatives: %4d   True Negatives:  %4d\n", cm.FN, cm.TN)

	fmt.Fprintf(&b, "\n%s\n", rule)
	return b.String()
}
