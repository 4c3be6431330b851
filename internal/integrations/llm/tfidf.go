package llm

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

type sparseVec = map[int]float64

// tfidfIndex ranks few-shot examples by similarity to the messages being
// classified.
type tfidfIndex struct {
	vocab map[string]int
	idf   []float64
	docs  []sparseVec
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var cur strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func buildTFIDFIndex(texts []string) *tfidfIndex {
	vocab := make(map[string]int)
	for _, text := range texts {
		for _, tok := range tokenize(text) {
			if _, ok := vocab[tok]; !ok {
				vocab[tok] = len(vocab)
			}
		}
	}

	df := make([]int, len(vocab))
	docs := make([]sparseVec, len(texts))
	for i, text := range texts {
		tf := make(map[int]int)
		for _, tok := range tokenize(text) {
			tf[vocab[tok]]++
		}
		vec := make(sparseVec, len(tf))
		for idx, count := range tf {
			vec[idx] = float64(count)
			df[idx]++
		}
		docs[i] = vec
	}

	n := float64(len(texts))
	idf := make([]float64, len(vocab))
	for i, d := range df {
		if d > 0 {
			idf[i] = math.Log(n/float64(d)) + 1.0
		}
	}
	for _, vec := range docs {
		for idx := range vec {
			vec[idx] *= idf[idx]
		}
	}
	return &tfidfIndex{vocab: vocab, idf: idf, docs: docs}
}

func (idx *tfidfIndex) queryVec(query string) sparseVec {
	tf := make(map[int]int)
	for _, tok := range tokenize(query) {
		if i, ok := idx.vocab[tok]; ok {
			tf[i]++
		}
	}
	vec := make(sparseVec, len(tf))
	for i, count := range tf {
		vec[i] = float64(count) * idx.idf[i]
	}
	return vec
}

// topK returns up to k document indices ordered by similarity to query.
// Documents with no shared terms are never returned.
func (idx *tfidfIndex) topK(query string, k int) []int {
	if len(idx.docs) == 0 || k <= 0 {
		return nil
	}
	qvec := idx.queryVec(query)
	if len(qvec) == 0 {
		return nil
	}
	type scored struct {
		index int
		score float64
	}
	var results []scored
	for i, dvec := range idx.docs {
		if sim := cosineSim(qvec, dvec); sim > 0 {
			results = append(results, scored{i, sim})
		}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].score > results[b].score
	})
	if len(results) > k {
		results = results[:k]
	}
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.index
	}
	return out
}

// topKForBatch merges the per-query rankings, first come first kept, and caps
// the result at k.
func (idx *tfidfIndex) topKForBatch(queries []string, k int) []int {
	if len(idx.docs) == 0 || k <= 0 {
		return nil
	}
	seen := make(map[int]bool)
	var out []int
	for _, q := range queries {
		for _, docIdx := range idx.topK(q, k) {
			if !seen[docIdx] {
				seen[docIdx] = true
				out = append(out, docIdx)
			}
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func cosineSim(a, b sparseVec) float64 {
	var dot, normA, normB float64
	for i, va := range a {
		if vb, ok := b[i]; ok {
			dot += va * vb
		}
		normA += va * va
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
