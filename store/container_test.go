package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kwertop/gostatix-hlldb"
	"github.com/kwertop/gostatix-hlldb/hll"
)

func tempContainer(t *testing.T, errorRate float64) (*Container, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hll.db")
	c, err := Open(path, errorRate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c, path
}

// S1: a single key, a handful of adds, count close to the true cardinality.
func TestContainerSingleKeyAdd(t *testing.T) {
	c, _ := tempContainer(t, 0.05)
	defer c.Close()

	for _, v := range []string{"a", "b", "c", "a", "b"} {
		if err := c.Add("views", []byte(v)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	count, err := c.Count("views")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Fatalf("Count(views) = %d, want 3", count)
	}
}

// S2: multiple independent keys don't interfere with one another.
func TestContainerMultipleKeys(t *testing.T) {
	c, _ := tempContainer(t, 0.05)
	defer c.Close()

	for i := 0; i < 50; i++ {
		c.Add("a", []byte(fmt.Sprintf("a-%d", i)))
	}
	for i := 0; i < 10; i++ {
		c.Add("b", []byte(fmt.Sprintf("b-%d", i)))
	}

	ca, err := c.Count("a")
	if err != nil {
		t.Fatalf("Count(a): %v", err)
	}
	cb, err := c.Count("b")
	if err != nil {
		t.Fatalf("Count(b): %v", err)
	}
	if ca == cb {
		t.Fatalf("Count(a)=%d and Count(b)=%d should differ (50 vs 10 distinct elements)", ca, cb)
	}
	if _, ok := c.Get("nonexistent"); ok {
		t.Fatalf("Get(nonexistent) reported a key that was never created")
	}
	if n, err := c.Count("nonexistent"); err != nil || n != 0 {
		t.Fatalf("Count(nonexistent) = (%d, %v), want (0, nil)", n, err)
	}
}

// S3: flush, reopen, and verify the counter survives the round trip.
func TestContainerPersistsAcrossReopen(t *testing.T) {
	errorRate := 0.05
	c, path := tempContainer(t, errorRate)

	for i := 0; i < 200; i++ {
		c.Add("sessions", []byte(fmt.Sprintf("session-%d", i)))
	}
	before, err := c.Count("sessions")
	if err != nil {
		t.Fatalf("Count before close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, errorRate)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	after, err := reopened.Count("sessions")
	if err != nil {
		t.Fatalf("Count after reopen: %v", err)
	}
	if after != before {
		t.Fatalf("Count after reopen = %d, want %d (same as before close)", after, before)
	}
}

// S4: a three-way merge unions keys present in any source container.
func TestContainerMergeThreeWay(t *testing.T) {
	dest, _ := tempContainer(t, 0.05)
	defer dest.Close()

	src1, _ := tempContainer(t, 0.05)
	defer src1.Close()
	src2, _ := tempContainer(t, 0.05)
	defer src2.Close()

	src1.Add("k1", []byte("x"))
	src1.Add("k1", []byte("y"))
	src2.Add("k2", []byte("z"))
	src2.Add("k1", []byte("x")) // overlaps with src1's k1

	if err := dest.Merge(src1, src2); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	c1, err := dest.Count("k1")
	if err != nil {
		t.Fatalf("Count(k1): %v", err)
	}
	if c1 != 2 {
		t.Fatalf("Count(k1) after merge = %d, want 2 (x, y deduplicated across sources)", c1)
	}
	c2, err := dest.Count("k2")
	if err != nil {
		t.Fatalf("Count(k2): %v", err)
	}
	if c2 != 1 {
		t.Fatalf("Count(k2) after merge = %d, want 1", c2)
	}
}

// S5: Update folds a list of HLLs into a single destination key.
func TestContainerUpdateSingleKey(t *testing.T) {
	dest, _ := tempContainer(t, 0.05)
	defer dest.Close()
	src, _ := tempContainer(t, 0.05)
	defer src.Close()

	src.Add("daily", []byte("u1"))
	src.Add("daily", []byte("u2"))
	src.Add("daily", []byte("u3"))

	h, ok := src.Get("daily")
	if !ok {
		t.Fatalf("src.Get(daily) missing after Add")
	}
	if err := dest.Update("weekly", []*hll.HLL{h}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	count, err := dest.Count("weekly")
	if err != nil {
		t.Fatalf("Count(weekly): %v", err)
	}
	if count != 3 {
		t.Fatalf("Count(weekly) = %d, want 3", count)
	}
}

// S6: enough keys that the index outgrows its original reservation and
// must relocate past lastPos (spec §4.5's index-relocation algorithm).
func TestContainerIndexRelocation(t *testing.T) {
	c, path := tempContainer(t, 0.2603) // small m keeps this test fast
	defer func() {
		if c != nil {
			c.Close()
		}
	}()

	const numKeys = 500
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key-%04d", i)
		for j := 0; j < 5; j++ {
			if err := c.Add(key, []byte(fmt.Sprintf("%s-elem-%d", key, j))); err != nil {
				t.Fatalf("Add(%s): %v", key, err)
			}
		}
	}

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c = nil

	reopened, err := Open(path, 0.2603)
	if err != nil {
		t.Fatalf("reopen after index relocation: %v", err)
	}
	defer reopened.Close()

	if len(reopened.entries) != numKeys {
		t.Fatalf("reopened container has %d keys, want %d", len(reopened.entries), numKeys)
	}
	for i := 0; i < numKeys; i += 97 { // spot check a sample, not every key
		key := fmt.Sprintf("key-%04d", i)
		count, err := reopened.Count(key)
		if err != nil {
			t.Fatalf("Count(%s): %v", key, err)
		}
		if count != 5 {
			t.Fatalf("Count(%s) = %d, want 5", key, count)
		}
	}
}

// Invariant #8: a register.View obtained before a resize keeps addressing
// the right bytes after the underlying file grows and gets remapped.
func TestContainerViewSurvivesResize(t *testing.T) {
	c, _ := tempContainer(t, 0.2603)
	defer c.Close()

	h, err := c.Create("first")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.Add([]byte("seed")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before, err := h.Count()
	if err != nil {
		t.Fatalf("Count before growth: %v", err)
	}

	// Force the file to grow past its first allocation block by creating
	// enough additional keys to fill that whole block.
	pads := int(resizeBlock/c.NumRegisters()) + 1
	for i := 0; i < pads; i++ {
		if _, err := c.Create(fmt.Sprintf("pad-%d", i)); err != nil {
			t.Fatalf("Create(pad-%d): %v", i, err)
		}
	}

	after, err := h.Count()
	if err != nil {
		t.Fatalf("Count after growth: %v", err)
	}
	if after != before {
		t.Fatalf("Count() via a pre-resize view changed from %d to %d after the file grew", before, after)
	}
	if err := h.Add([]byte("post-resize")); err != nil {
		t.Fatalf("Add via pre-resize view after growth: %v", err)
	}
}

func TestOpenEmptyFileInitializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.Close()

	c, err := Open(path, 0.05)
	if err != nil {
		t.Fatalf("Open empty file: %v", err)
	}
	defer c.Close()

	if c.NumRegisters() == 0 {
		t.Fatalf("NumRegisters() = 0 on a freshly initialized container")
	}
}

func TestOpenRejectsMismatchedErrorRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mismatch.db")
	c, err := Open(path, 0.05)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c.Add("k", []byte("v"))
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := Open(path, 0.01); err == nil {
		t.Fatalf("reopening with a different error_rate should fail")
	}
}

// spec §7: a file too short to hold a full header is CorruptHeader, not a
// panic or an IoError.
func TestOpenRejectsTruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.db")
	if err := os.WriteFile(path, make([]byte, HeaderSize-1), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Open(path, 0.05)
	if !errors.Is(err, hlldb.ErrCorruptHeader) {
		t.Fatalf("Open(truncated header) error = %v, want ErrCorruptHeader", err)
	}
}

// spec §7: a header whose index region runs past the file's own size is
// CorruptHeader.
func TestOpenRejectsIndexPastFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad-index-offset.db")
	buf := encodeHeader(header{
		indexOffset: HeaderSize,
		indexLength: 1 << 20, // far larger than the file actually is
		lastPos:     HeaderSize,
		errorRate:   0.05,
		m:           512,
	})
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Open(path, 0.05)
	if !errors.Is(err, hlldb.ErrCorruptHeader) {
		t.Fatalf("Open(index past file size) error = %v, want ErrCorruptHeader", err)
	}
}

// spec §7: an index region that fails to parse as JSON is CorruptIndex.
func TestOpenRejectsUnparseableIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad-index-json.db")
	indexBytes := []byte("not json")
	buf := encodeHeader(header{
		indexOffset: HeaderSize,
		indexLength: uint64(len(indexBytes)),
		lastPos:     HeaderSize + uint64(len(indexBytes)),
		errorRate:   0.05,
		m:           512,
	})
	buf = append(buf, indexBytes...)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Open(path, 0.05)
	if !errors.Is(err, hlldb.ErrCorruptIndex) {
		t.Fatalf("Open(unparseable index) error = %v, want ErrCorruptIndex", err)
	}
}

// spec §7: an index that references an offset past the file's allocated
// region is CorruptIndex (not a silent out-of-bounds view).
func TestOpenRejectsIndexOffsetPastFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad-entry-offset.db")
	indexBytes := []byte(`{"ghost":999999}`)
	buf := encodeHeader(header{
		indexOffset: HeaderSize,
		indexLength: uint64(len(indexBytes)),
		lastPos:     HeaderSize + uint64(len(indexBytes)),
		errorRate:   0.05,
		m:           512,
	})
	buf = append(buf, indexBytes...)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Open(path, 0.05)
	if !errors.Is(err, hlldb.ErrCorruptIndex) {
		t.Fatalf("Open(entry offset past file size) error = %v, want ErrCorruptIndex", err)
	}
}
