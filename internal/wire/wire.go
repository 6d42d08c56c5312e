// Package wire implements the byte-level encoding of the packet protocol.
//
// Every packet is a 4-byte big-endian total length, a 4-byte packet type and
// the payload. Integers are big-endian, strings carry a 2-byte byte-count
// prefix, booleans are a single byte and times and durations are 8-byte
// millisecond counts.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
	"unicode/utf8"
)

// HeaderSize is the size of the length and type fields that start every packet.
const HeaderSize = 8

// MaxStringLength is the largest byte count a string prefix can carry.
const MaxStringLength = math.MaxInt16

var ErrNotEnoughBytes = errors.New("not enough bytes")

// Builder accumulates the fields of one packet in order.
type Builder struct {
	buf []byte
}

// NewBuilder starts a packet of the given type. The length field is
// reserved and filled in by Build.
func NewBuilder(packetType int32) *Builder {
	b := &Builder{buf: make([]byte, 4, 64)}
	b.Int32(packetType)
	return b
}

func (b *Builder) Int8(v int8) *Builder {
	b.buf = append(b.buf, byte(v))
	return b
}

func (b *Builder) Bool(v bool) *Builder {
	if v {
		return b.Int8(1)
	}
	return b.Int8(0)
}

func (b *Builder) Int16(v int16) *Builder {
	b.buf = binary.BigEndian.AppendUint16(b.buf, uint16(v))
	return b
}

func (b *Builder) Int32(v int32) *Builder {
	b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(v))
	return b
}

func (b *Builder) Uint32(v uint32) *Builder {
	b.buf = binary.BigEndian.AppendUint32(b.buf, v)
	return b
}

func (b *Builder) Int64(v int64) *Builder {
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v))
	return b
}

// String writes the byte length and raw bytes of s. Callers keep strings
// within MaxStringLength; longer ones are cut before the UTF-8 sequence
// that crosses the limit.
func (b *Builder) String(s string) *Builder {
	if len(s) > MaxStringLength {
		cut := MaxStringLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	b.Int16(int16(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

// Time writes t as milliseconds since the Unix epoch.
func (b *Builder) Time(t time.Time) *Builder {
	return b.Int64(t.UnixMilli())
}

func (b *Builder) Duration(d time.Duration) *Builder {
	return b.Int64(d.Milliseconds())
}

// Len reports the size the packet will have once built.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Build fills in the total length and returns the packet bytes.
func (b *Builder) Build() []byte {
	binary.BigEndian.PutUint32(b.buf[:4], uint32(len(b.buf)))
	return b.buf
}

// Parser reads fields from a packet payload. The first failed read is
// remembered: later reads return zero values without consuming input, so
// a sequence of reads can be checked once through Err.
type Parser struct {
	buf []byte
	off int
	err error
}

func NewParser(buf []byte) *Parser {
	return &Parser{buf: buf}
}

func (p *Parser) Err() error     { return p.err }
func (p *Parser) Offset() int    { return p.off }
func (p *Parser) Remaining() int { return len(p.buf) - p.off }

func (p *Parser) take(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || p.Remaining() < n {
		p.err = ErrNotEnoughBytes
		return nil
	}
	out := p.buf[p.off : p.off+n]
	p.off += n
	return out
}

func (p *Parser) Int8() int8 {
	b := p.take(1)
	if b == nil {
		return 0
	}
	return int8(b[0])
}

func (p *Parser) Bool() bool {
	return p.Int8() != 0
}

func (p *Parser) Int16() int16 {
	b := p.take(2)
	if b == nil {
		return 0
	}
	return int16(binary.BigEndian.Uint16(b))
}

func (p *Parser) Int32() int32 {
	b := p.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (p *Parser) Uint32() uint32 {
	b := p.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (p *Parser) Int64() int64 {
	b := p.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (p *Parser) String() string {
	n := p.Int16()
	if p.err != nil {
		return ""
	}
	if n < 0 {
		p.err = ErrNotEnoughBytes
		return ""
	}
	b := p.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

// Time reads a millisecond timestamp.
func (p *Parser) Time() time.Time {
	ms := p.Int64()
	if p.err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (p *Parser) Duration() time.Duration {
	return time.Duration(p.Int64()) * time.Millisecond
}

// Count reads a list length and rejects counts that cannot fit in the
// remaining bytes, given the smallest encoded size of one element.
func (p *Parser) Count(minElemSize int) int {
	n := p.Int32()
	if p.err != nil {
		return 0
	}
	if n < 0 || (minElemSize > 0 && int(n) > p.Remaining()/minElemSize) {
		p.err = ErrNotEnoughBytes
		return 0
	}
	return int(n)
}
