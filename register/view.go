/*
Package register implements the fixed-length, fixed-offset window into a
memory-mapped file that backs every HyperLogLog's registers (spec §4.2).

A View never holds its own copy of the mapped bytes. It holds a Backing and
an (offset, length) pair, and resolves every access through Backing.Bytes()
at call time. This is the Go-native answer to the rebind problem the
original Python implementation (hyperloglogdb/hll.py's MmapSlice) solves by
literally walking every outstanding slice after a resize and overwriting
its ".data" attribute: here, a resize only ever replaces what the
container's Bytes() method returns, so every View (and every HLL built on
one) keeps addressing valid bytes without anyone rebinding anything.
*/
package register

import (
	"bytes"
	"fmt"

	"github.com/kwertop/gostatix-hlldb"
)

// Backing exposes the current memory-mapped bytes of a file container. It
// is implemented by store.Container; offsets are always taken relative to
// the full file, not to any particular region within it.
type Backing interface {
	Bytes() []byte
}

// View addresses a contiguous slice [offset, offset+length) of a Backing's
// current bytes.
type View struct {
	backing Backing
	offset  uint64
	length  uint64
}

// New returns a View over [offset, offset+length) of backing.
func New(backing Backing, offset, length uint64) *View {
	return &View{backing: backing, offset: offset, length: length}
}

// Length returns the number of bytes this view addresses.
func (v *View) Length() uint64 { return v.length }

// Offset returns the byte offset of this view within the backing file.
func (v *View) Offset() uint64 { return v.offset }

func (v *View) bounds() []byte {
	b := v.backing.Bytes()
	return b[v.offset : v.offset+v.length]
}

// Get returns the byte at position i, 0 <= i < Length().
func (v *View) Get(i uint64) (byte, error) {
	if i >= v.length {
		return 0, fmt.Errorf("gostatix: register index %d out of bounds [0,%d)", i, v.length)
	}
	return v.bounds()[i], nil
}

// Set writes value at position i, 0 <= i < Length().
func (v *View) Set(i uint64, value byte) error {
	if i >= v.length {
		return fmt.Errorf("gostatix: register index %d out of bounds [0,%d)", i, v.length)
	}
	v.bounds()[i] = value
	return nil
}

// ReadAll returns a copy of all Length() bytes addressed by this view.
func (v *View) ReadAll() ([]byte, error) {
	out := make([]byte, v.length)
	copy(out, v.bounds())
	return out, nil
}

// WriteAll overwrites all Length() bytes addressed by this view. It fails
// if len(data) does not equal Length().
func (v *View) WriteAll(data []byte) error {
	if uint64(len(data)) != v.length {
		return fmt.Errorf("%w: write of %d bytes into a %d byte view", hlldb.ErrMismatchedBacking, len(data), v.length)
	}
	copy(v.bounds(), data)
	return nil
}

// Count returns the number of positions whose byte equals value.
func (v *View) Count(value byte) (int, error) {
	n := 0
	for _, b := range v.bounds() {
		if b == value {
			n++
		}
	}
	return n, nil
}

// Equals reports whether v and other address the same length and bytes.
func (v *View) Equals(other *View) (bool, error) {
	if v.length != other.length {
		return false, nil
	}
	return bytes.Equal(v.bounds(), other.bounds()), nil
}
