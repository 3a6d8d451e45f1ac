package retrieve

import (
	"encoding/binary"
	"math"
)

// serializeVector encodes vec as sqlite-vec's expected little-endian
// float32 blob, matching internal/index's embedding encoding.
func serializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)

	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	return buf
}
