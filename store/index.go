package store

import (
	"encoding/json"
	"fmt"

	"github.com/kwertop/gostatix-hlldb"
	"github.com/kwertop/gostatix-hlldb/hll"
	"github.com/kwertop/gostatix-hlldb/register"
)

// entry is the runtime record for one key: the offset recorded in the
// index, the register view over that offset, and the HLL built on that
// view. Ported from the original Python's idx[key] = {'offset':...,
// 'mmap':..., 'hll':...} dict, as a single struct per spec §9's "Dynamic
// key->view map with embedded HLL objects" note.
type entry struct {
	offset uint64
	view   *register.View
	hll    *hll.HLL
}

// decodeIndex parses the index region's JSON object of key -> offset.
func decodeIndex(buf []byte) (map[string]uint64, error) {
	idx := make(map[string]uint64)
	if err := json.Unmarshal(buf, &idx); err != nil {
		return nil, fmt.Errorf("%w: %v", hlldb.ErrCorruptIndex, err)
	}
	return idx, nil
}

// encodeIndex serializes the key -> offset index as a JSON object.
func encodeIndex(offsets map[string]uint64) ([]byte, error) {
	buf, err := json.Marshal(offsets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hlldb.ErrCorruptIndex, err)
	}
	return buf, nil
}

// offsets extracts the key -> offset map from the live entries, the form
// that actually gets serialized (spec §3: "a mapping from key to the byte
// offset of that key's m-byte register array").
func (c *Container) offsets() map[string]uint64 {
	out := make(map[string]uint64, len(c.entries))
	for k, e := range c.entries {
		out[k] = e.offset
	}
	return out
}

// flushIndex serializes the index and writes it to its region, relocating
// that region past lastPos first if it no longer fits (spec §4.5's
// "Index-relocation algorithm"). The previous index region becomes dead
// space; nothing in this design reclaims it (spec §9, §3 lifecycle).
func (c *Container) flushIndex() error {
	idxBytes, err := encodeIndex(c.offsets())
	if err != nil {
		return err
	}

	if uint64(len(idxBytes)) > c.hdr.indexLength {
		newOffset := c.hdr.lastPos
		newLength := uint64(len(idxBytes))
		if err := c.resize(newOffset + newLength); err != nil {
			return err
		}
		c.hdr.indexOffset = newOffset
		c.hdr.indexLength = newLength
		c.hdr.lastPos = newOffset + newLength
		if err := c.writeHeader(); err != nil {
			return err
		}
	}

	copy(c.mapping[c.hdr.indexOffset:c.hdr.indexOffset+uint64(len(idxBytes))], idxBytes)
	return nil
}

// writeHeader encodes the container's current header fields into the
// mapped header region.
func (c *Container) writeHeader() error {
	copy(c.mapping[0:HeaderSize], encodeHeader(c.hdr))
	return nil
}

// loadEntries rebuilds the runtime entry map from a freshly decoded index,
// constructing one register.View and one hll.HLL per key. Ported from the
// original Python's read_idx, which eagerly builds every MmapSlice and
// HyperLogLog at open time rather than lazily on first access.
func (c *Container) loadEntries(offsets map[string]uint64) error {
	entries := make(map[string]*entry, len(offsets))
	for key, offset := range offsets {
		if offset+c.hdr.m > uint64(c.fileSize) {
			return fmt.Errorf("%w: key %q offset %d + m %d exceeds file size %d", hlldb.ErrCorruptIndex, key, offset, c.hdr.m, c.fileSize)
		}
		view := register.New(c, offset, c.hdr.m)
		h, err := hll.New(c.errorRate, view, c.table)
		if err != nil {
			return err
		}
		entries[key] = &entry{offset: offset, view: view, hll: h}
	}
	c.entries = entries
	return nil
}
