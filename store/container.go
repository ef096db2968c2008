/*
Package store implements the single-file container that allocates,
indexes, resizes, and memory-maps fixed-size register arrays for many
named HyperLogLog counters (spec §4.4), together with the resize
coordinator that grows the file and keeps every outstanding view valid
(spec §4.5).

It is the direct descendant of the original Python hyperloglogdb.HyperLogLogDB
(hyperloglogdb/hlldb.py): same header layout, same index-relocation
algorithm, same create/get/add/count/merge/update/flush operations, ported
onto gostatix's constructor-returns-error idiom and generalized so that a
resize never requires walking outstanding views (see resize.go).
*/
package store

import (
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/kwertop/gostatix-hlldb"
	"github.com/kwertop/gostatix-hlldb/hll"
	"github.com/kwertop/gostatix-hlldb/register"
)

// Container owns a backing file and its single memory mapping, and is the
// only thing any register.View or hll.HLL built on it ultimately reads or
// writes through (see register.Backing).
//
// A Container is not safe for concurrent use from multiple goroutines;
// spec §5 scopes this to single-threaded, single-writer access.
type Container struct {
	file     *os.File
	mapping  mmap.MMap
	fileSize int64

	hdr       header
	errorRate float64
	table     hll.ThresholdTable

	entries map[string]*entry
}

// Bytes returns the container's current memory-mapped bytes. It implements
// register.Backing; every View reads this fresh on every access, which is
// what lets a resize replace the mapping without any view needing to know.
func (c *Container) Bytes() []byte { return c.mapping }

// Open opens or creates the file at path. If the file is empty (including
// newly created), it is initialized with a zeroed header and an empty
// index, per spec §4.4.
func Open(path string, errorRate float64) (*Container, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", hlldb.ErrIO, path, err)
	}
	c, err := OpenFile(f, errorRate)
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// OpenFile is Open's counterpart for an already-opened file handle,
// mirroring the original's fileobj= constructor argument.
func OpenFile(f *os.File, errorRate float64) (*Container, error) {
	_, m, err := hll.DeriveParams(errorRate)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat: %v", hlldb.ErrIO, err)
	}

	c := &Container{
		file:      f,
		errorRate: errorRate,
		table:     hll.BuildThresholdTable(registerExponent(m)),
	}

	if info.Size() == 0 {
		if err := c.initFresh(m, errorRate); err != nil {
			return nil, err
		}
		return c, nil
	}

	if err := c.loadExisting(info.Size(), errorRate); err != nil {
		return nil, err
	}
	return c, nil
}

// registerExponent recovers b from m = 2^b. The header only persists m;
// b is always derivable from it since m is always a power of two.
func registerExponent(m uint64) uint {
	n := uint(0)
	for m > 1 {
		m >>= 1
		n++
	}
	return n
}

// initFresh lays out a brand-new file: a zeroed header followed by an
// empty JSON index object, exactly the state the original's constructor
// writes when passed an empty fileobj.
func (c *Container) initFresh(m uint64, errorRate float64) error {
	emptyIndex := []byte("{}")

	c.hdr = header{
		indexOffset: HeaderSize,
		indexLength: uint64(len(emptyIndex)),
		lastPos:     HeaderSize + uint64(len(emptyIndex)),
		errorRate:   float32(errorRate),
		m:           m,
	}

	if err := c.resize(c.hdr.lastPos); err != nil {
		return err
	}
	if err := c.writeHeader(); err != nil {
		return err
	}
	copy(c.mapping[c.hdr.indexOffset:c.hdr.indexOffset+c.hdr.indexLength], emptyIndex)

	c.entries = make(map[string]*entry)
	return nil
}

// loadExisting maps an existing file, validates the header (spec §7's
// CorruptHeader cases), and eagerly builds one entry per indexed key.
func (c *Container) loadExisting(size int64, errorRate float64) error {
	mapping, err := mmap.Map(c.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: mmap: %v", hlldb.ErrIO, err)
	}
	c.mapping = mapping
	c.fileSize = size

	if len(c.mapping) < HeaderSize {
		return fmt.Errorf("%w: file is %d bytes, shorter than header size %d", hlldb.ErrCorruptHeader, len(c.mapping), HeaderSize)
	}
	hdr, err := decodeHeader(c.mapping[:HeaderSize])
	if err != nil {
		return err
	}
	if hdr.indexOffset+hdr.indexLength > uint64(size) {
		return fmt.Errorf("%w: index region [%d,%d) exceeds file size %d", hlldb.ErrCorruptHeader, hdr.indexOffset, hdr.indexOffset+hdr.indexLength, size)
	}
	if hdr.lastPos > uint64(size) {
		return fmt.Errorf("%w: last_pos %d exceeds file size %d", hlldb.ErrCorruptHeader, hdr.lastPos, size)
	}
	// The header stores error_rate as a 32-bit float; compare with the
	// precision that round trip actually preserves rather than exactly.
	// spec §9: a mismatch is fatal rather than silently accepted.
	if math.Abs(float64(hdr.errorRate)-errorRate) > 1e-6 {
		return fmt.Errorf("%w: file was created with error_rate %v, opened with %v", hlldb.ErrCorruptHeader, hdr.errorRate, errorRate)
	}

	c.hdr = hdr
	c.table = hll.BuildThresholdTable(registerExponent(hdr.m))

	offsets, err := decodeIndex(c.mapping[hdr.indexOffset : hdr.indexOffset+hdr.indexLength])
	if err != nil {
		return err
	}
	return c.loadEntries(offsets)
}

// Create allocates a new m-byte register region at the current end of the
// file, growing it if needed, and records the key in the index. Creating a
// key that already exists allocates a fresh region and abandons the old
// one as dead space; spec §4.4 explicitly doesn't require idempotence
// here, callers are expected to test membership with Get first.
func (c *Container) Create(key string) (*hll.HLL, error) {
	newOffset := c.hdr.lastPos
	if err := c.resize(newOffset + c.hdr.m); err != nil {
		return nil, err
	}

	view := register.New(c, newOffset, c.hdr.m)
	h, err := hll.New(c.errorRate, view, c.table)
	if err != nil {
		return nil, err
	}

	c.entries[key] = &entry{offset: newOffset, view: view, hll: h}
	c.hdr.lastPos = newOffset + c.hdr.m
	return h, nil
}

// Get returns the HLL for key, or (nil, false) if it hasn't been created.
func (c *Container) Get(key string) (*hll.HLL, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.hll, true
}

// Add creates key on demand, then adds value to its HLL.
func (c *Container) Add(key string, value []byte) error {
	h, ok := c.Get(key)
	if !ok {
		var err error
		h, err = c.Create(key)
		if err != nil {
			return err
		}
	}
	return h.Add(value)
}

// Count returns round(estimate) for key's HLL, or 0 if key is unknown.
func (c *Container) Count(key string) (uint64, error) {
	h, ok := c.Get(key)
	if !ok {
		return 0, nil
	}
	return h.Count()
}

// Reset zeroes key's registers, if key exists. Not part of spec.md's
// operation list; kept for symmetry with count.HyperLogLog.Reset.
func (c *Container) Reset(key string) error {
	h, ok := c.Get(key)
	if !ok {
		return nil
	}
	return h.Reset()
}

// Update is the single-key merge helper Merge is built on: it creates key
// on demand, then folds every HLL in others into it by element-wise
// register maximum. A single source merged into an absent key ends up a
// byte copy for free, since Merge against all-zero registers reduces to
// the other side's values.
func (c *Container) Update(key string, others []*hll.HLL) error {
	h, ok := c.Get(key)
	if !ok {
		var err error
		h, err = c.Create(key)
		if err != nil {
			return err
		}
	}
	return h.Merge(others...)
}

// Merge unions every key appearing in any of others into the matching key
// in c, creating keys on demand. Merge never removes keys.
func (c *Container) Merge(others ...*Container) error {
	allKeys := make(map[string]struct{})
	for _, o := range others {
		for k := range o.entries {
			allKeys[k] = struct{}{}
		}
	}

	for k := range allKeys {
		var sources []*hll.HLL
		for _, o := range others {
			if h, ok := o.Get(k); ok {
				sources = append(sources, h)
			}
		}
		if err := c.Update(k, sources); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes the index, writes the header, synchronizes the mapping and
// fsyncs the file. After a successful Flush, reopening the file yields an
// identical in-memory state.
func (c *Container) Flush() error {
	if err := c.flushIndex(); err != nil {
		return err
	}
	if err := c.writeHeader(); err != nil {
		return err
	}
	if err := c.mapping.Flush(); err != nil {
		return fmt.Errorf("%w: flush mapping: %v", hlldb.ErrIO, err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %v", hlldb.ErrIO, err)
	}
	return nil
}

// Close flushes and releases the mapping and file handle. It always
// attempts every step, even if an earlier one fails, and reports the
// first error encountered.
func (c *Container) Close() error {
	flushErr := c.Flush()

	var unmapErr error
	if c.mapping != nil {
		unmapErr = c.mapping.Unmap()
	}
	closeErr := c.file.Close()

	if flushErr != nil {
		return flushErr
	}
	if unmapErr != nil {
		return fmt.Errorf("%w: unmap on close: %v", hlldb.ErrIO, unmapErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close file: %v", hlldb.ErrIO, closeErr)
	}
	return nil
}

// ErrorRate returns the error_rate this container was opened with.
func (c *Container) ErrorRate() float64 { return c.errorRate }

// NumRegisters returns m, the number of registers per key.
func (c *Container) NumRegisters() uint64 { return c.hdr.m }
