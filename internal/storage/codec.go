package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// serializeVector encodes a vector as little-endian float32
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector decodes a blob written by serializeVector
func deserializeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) != dim*4 {
		return nil, fmt.Errorf("vector blob has %d bytes, want %d", len(blob), dim*4)
	}
	vector := make([]float32, dim)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}
