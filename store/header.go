package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kwertop/gostatix-hlldb"
)

// HeaderSize is the fixed byte width of the on-disk header (spec §3, §6).
// Unlike the original Python implementation, which packed the header with
// struct.Struct('LLLfL') -- platform-native "unsigned long", silently
// changing width between 32- and 64-bit builds -- every field here has an
// explicit width and is encoded little-endian, resolving the portability
// bug spec.md §9 flags.
const HeaderSize = 8 + 8 + 8 + 4 + 8 // indexOffset, indexLength, lastPos, errorRate, m

type header struct {
	indexOffset uint64
	indexLength uint64
	lastPos     uint64
	errorRate   float32
	m           uint64
}

func encodeHeader(h header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.indexOffset)
	binary.LittleEndian.PutUint64(buf[8:16], h.indexLength)
	binary.LittleEndian.PutUint64(buf[16:24], h.lastPos)
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(h.errorRate))
	binary.LittleEndian.PutUint64(buf[28:36], h.m)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, fmt.Errorf("%w: header region is %d bytes, need %d", hlldb.ErrCorruptHeader, len(buf), HeaderSize)
	}
	return header{
		indexOffset: binary.LittleEndian.Uint64(buf[0:8]),
		indexLength: binary.LittleEndian.Uint64(buf[8:16]),
		lastPos:     binary.LittleEndian.Uint64(buf[16:24]),
		errorRate:   math.Float32frombits(binary.LittleEndian.Uint32(buf[24:28])),
		m:           binary.LittleEndian.Uint64(buf[28:36]),
	}, nil
}
