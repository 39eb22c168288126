package afs

import "encoding/binary"

// byteCursor is a small encode/decode cursor over a fixed backing
// slice. Views use it to read and write the little-endian fixed- and
// variable-length fields described in spec.md §6, in the same
// fixed-offset style ext4/inode.go and ext4/journal.go use, except
// that AFS's node bodies carry variable-length fields (metadata,
// names) ahead of later fixed fields, so offsets are tracked by a
// running cursor rather than baked in as named constants.
type byteCursor struct {
	buf []byte
	pos int
}

func cursorAt(buf []byte, pos int) *byteCursor { return &byteCursor{buf: buf, pos: pos} }

func (c *byteCursor) u8() byte {
	v := c.buf[c.pos]
	c.pos++
	return v
}

func (c *byteCursor) putU8(v byte) {
	c.buf[c.pos] = v
	c.pos++
}

func (c *byteCursor) u16() uint16 {
	v := binary.LittleEndian.Uint16(c.buf[c.pos : c.pos+2])
	c.pos += 2
	return v
}

func (c *byteCursor) putU16(v uint16) {
	binary.LittleEndian.PutUint16(c.buf[c.pos:c.pos+2], v)
	c.pos += 2
}

func (c *byteCursor) u32() uint32 {
	v := binary.LittleEndian.Uint32(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return v
}

func (c *byteCursor) putU32(v uint32) {
	binary.LittleEndian.PutUint32(c.buf[c.pos:c.pos+4], v)
	c.pos += 4
}

func (c *byteCursor) u64() uint64 {
	v := binary.LittleEndian.Uint64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	return v
}

func (c *byteCursor) putU64(v uint64) {
	binary.LittleEndian.PutUint64(c.buf[c.pos:c.pos+8], v)
	c.pos += 8
}

func (c *byteCursor) bytes(n int) []byte {
	v := c.buf[c.pos : c.pos+n]
	c.pos += n
	return v
}

func (c *byteCursor) putBytes(v []byte) {
	copy(c.buf[c.pos:c.pos+len(v)], v)
	c.pos += len(v)
}

// remaining returns how many bytes are left between the cursor and the
// end of its backing buffer.
func (c *byteCursor) remaining() int { return len(c.buf) - c.pos }
