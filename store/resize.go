package store

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/kwertop/gostatix-hlldb"
)

// resizeBlock is the granularity the file grows in: roughly 1000 pages,
// matching the original Python's `mmap.PAGESIZE*1000` (spec §4.5 step 2).
var resizeBlock = uint64(os.Getpagesize()) * 1000

// resize grows the backing file to at least newSize, rounded up to the
// next resizeBlock boundary, and re-establishes the mapping over the new
// file size.
//
// Every register.View and hll.HLL built on this container keeps addressing
// valid bytes afterward without any fix-up: they all resolve through
// Container.Bytes(), which simply returns whatever c.mapping currently is.
// This replaces the original's walk over every outstanding MmapSlice to
// rebind its backing mmap.mmap object (spec §9's "shared mutable mapping
// across many views" note).
func (c *Container) resize(newSize uint64) error {
	if uint64(c.fileSize) >= newSize {
		return nil
	}

	expandTo := (newSize + resizeBlock - 1) / resizeBlock * resizeBlock

	if c.mapping != nil {
		if err := c.mapping.Flush(); err != nil {
			return fmt.Errorf("%w: flush before resize: %v", hlldb.ErrIO, err)
		}
		if err := c.mapping.Unmap(); err != nil {
			return fmt.Errorf("%w: unmap before resize: %v", hlldb.ErrIO, err)
		}
	}

	if _, err := c.file.WriteAt([]byte{0}, int64(expandTo-1)); err != nil {
		return fmt.Errorf("%w: extend file to %d bytes: %v", hlldb.ErrIO, expandTo, err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync after extending file: %v", hlldb.ErrIO, err)
	}

	m, err := mmap.Map(c.file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: remap after resize: %v", hlldb.ErrIO, err)
	}
	c.mapping = m
	c.fileSize = int64(expandTo)
	return nil
}
