package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Magic identifies a vectors file.
const Magic = "SHRV"

// FormatVersion is the current vectors file version.
const FormatVersion uint32 = 1

// HeaderSize is the encoded size of Header in bytes.
const HeaderSize = 4 + 4 + 4 + 8

// Header is the fixed prefix of a vectors file.
type Header struct {
	Version   uint32
	Dimension uint32
	Count     uint64
}

// PayloadSize returns the expected number of vector bytes following the header,
// or -1 when count*dimension*4 does not fit in an int64.
func (h Header) PayloadSize() int64 {
	if h.Dimension == 0 {
		return 0
	}
	if h.Count > uint64(math.MaxInt64)/4/uint64(h.Dimension) {
		return -1
	}
	return int64(h.Count) * int64(h.Dimension) * 4
}

// CheckSize reports an error unless a file of size bytes holds exactly the header and
// the payload it announces.
func (h Header) CheckSize(size int64) error {
	payload := h.PayloadSize()
	if payload < 0 || payload > size-HeaderSize {
		return fmt.Errorf("header announces %d vectors of dimension %d, file is %d bytes", h.Count, h.Dimension, size)
	}
	if want := HeaderSize + payload; size != want {
		return fmt.Errorf("vectors file is %d bytes, header implies %d", size, want)
	}
	return nil
}

// Encode writes idx to w: magic, version, dimension, count, then count*dimension float32 little-endian.
func Encode(w io.Writer, idx *FlatIndex) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Magic); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	hdr := Header{
		Version:   FormatVersion,
		Dimension: uint32(idx.dimension),
		Count:     uint64(len(idx.data) / idx.dimension),
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	buf := make([]byte, 4)
	for _, v := range idx.data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush vectors: %w", err)
	}
	return nil
}

// ReadHeader reads and checks the magic and header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var hdr Header
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return hdr, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != Magic {
		return hdr, fmt.Errorf("bad magic %q", magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, fmt.Errorf("read header: %w", err)
	}
	if hdr.Version != FormatVersion {
		return hdr, fmt.Errorf("unsupported vectors version %d", hdr.Version)
	}
	if hdr.Dimension == 0 {
		return hdr, errors.New("zero dimension in header")
	}
	return hdr, nil
}

// Decode reads a complete index from r. Stored vectors are taken as already normalized.
// The announced size is checked against the bytes actually present before anything is
// allocated for vectors, so truncated payloads, trailing bytes and absurd counts are errors.
func Decode(r io.Reader) (*FlatIndex, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read vectors: %w", err)
	}
	hdr, err := ReadHeader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := hdr.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}
	idx, err := NewFlatIndex(int(hdr.Dimension))
	if err != nil {
		return nil, err
	}
	payload := data[HeaderSize:]
	idx.data = make([]float32, len(payload)/4)
	for i := range idx.data {
		idx.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return idx, nil
}
