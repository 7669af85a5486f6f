package catalog

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector packs a float32 vector as little-endian bytes. Nil stays nil so
// a missing modality round-trips as NULL.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if buf == nil {
		return nil, nil
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}
