package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embeddings are stored as little-endian float32 blobs.

func packVector(v []float32) []byte {
	out := make([]byte, 0, len(v)*4)
	for _, f := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}

// unpackVector decodes blob into dst, reusing its backing array when large
// enough.
func unpackVector(dst []float32, blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a float32 array", len(blob))
	}
	dst = dst[:0]
	for off := 0; off < len(blob); off += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(blob[off:])))
	}
	return dst, nil
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// similarity is the cosine of the angle between q and v given |q|. Vectors
// from different embedding models have different lengths and score 0.
func similarity(q []float32, qMag float64, v []float32) float32 {
	if len(q) != len(v) {
		return 0
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	vMag := magnitude(v)
	if vMag == 0 || qMag == 0 {
		return 0
	}
	return float32(dot / (qMag * vMag))
}
