package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/arturoeanton/codequery/internal/domain"
)

// rankByCosine scores chunks against query and returns the best k, ordered
// by score descending then file_path and start_line ascending. Chunks without
// a usable vector are skipped. A zero query vector yields no results.
func rankByCosine(chunks []domain.Chunk, query []float32, k int) []domain.ScoredChunk {
	qnorm := norm(query)
	if qnorm == 0 || k <= 0 {
		return nil
	}

	scored := make([]domain.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Vector) != len(query) {
			continue
		}
		cnorm := norm(c.Vector)
		if cnorm == 0 {
			continue
		}
		var dot float64
		for i := range query {
			dot += float64(query[i]) * float64(c.Vector[i])
		}
		scored = append(scored, domain.ScoredChunk{Chunk: c, Score: dot / (qnorm * cnorm)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.StartLine < b.StartLine
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	for i := range scored {
		scored[i].Vector = nil
	}
	return scored
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("decode vector: %d bytes is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
