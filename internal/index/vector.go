package index

import (
	"encoding/binary"
	"math"
)

// serializeVector encodes a float32 vector into the little-endian raw byte
// layout sqlite-vec's vec0 virtual table stores in its embedding column.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))

	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	return buf
}
