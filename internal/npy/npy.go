// Package npy reads and writes NumPy .npy array files (format version 1.0).
//
// Only the two dtypes the dataset needs are supported: little-endian float32 ("<f4")
// and little-endian int64 ("<i8"), both in C order.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const (
	Float32 = "<f4"
	Int64   = "<i8"
)

var magic = []byte("\x93NUMPY")

// ErrFormat is returned when a file does not look like a supported .npy file.
var ErrFormat = errors.New("npy: unsupported or malformed file")

// Header describes the array stored in a file.
type Header struct {
	Dtype string
	Shape []int
}

// Len returns the number of elements implied by Shape.
func (h Header) Len() int {
	n := 1
	for _, d := range h.Shape {
		n *= d
	}
	return n
}

func (h Header) encode() []byte {
	var shape strings.Builder
	shape.WriteByte('(')
	for i, d := range h.Shape {
		if i > 0 {
			shape.WriteString(", ")
		}
		shape.WriteString(strconv.Itoa(d))
	}
	if len(h.Shape) == 1 {
		shape.WriteByte(',')
	}
	shape.WriteByte(')')

	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", h.Dtype, shape.String())

	// magic(6) + version(2) + header length(2) + dict + padding + '\n' must be a multiple of 64.
	total := len(magic) + 2 + 2 + len(dict) + 1
	pad := (64 - total%64) % 64
	return []byte(dict + strings.Repeat(" ", pad) + "\n")
}

func writeHeader(w io.Writer, h Header) error {
	dict := h.encode()
	if _, err := w.Write(magic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(dict))); err != nil {
		return err
	}
	_, err := w.Write(dict)
	return err
}

// WriteFloat32 writes data with the given shape as a "<f4" array.
func WriteFloat32(w io.Writer, shape []int, data []float32) error {
	h := Header{Dtype: Float32, Shape: shape}
	if h.Len() != len(data) {
		return fmt.Errorf("npy: shape %v holds %d elements, got %d", shape, h.Len(), len(data))
	}
	if err := writeHeader(w, h); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

// WriteInt64 writes data with the given shape as a "<i8" array.
func WriteInt64(w io.Writer, shape []int, data []int64) error {
	h := Header{Dtype: Int64, Shape: shape}
	if h.Len() != len(data) {
		return fmt.Errorf("npy: shape %v holds %d elements, got %d", shape, h.Len(), len(data))
	}
	if err := writeHeader(w, h); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

var (
	descrRe   = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	fortranRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// ReadHeader consumes and parses the header of a .npy stream.
func ReadHeader(r io.Reader) (Header, error) {
	pre := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(r, pre); err != nil {
		return Header{}, err
	}
	if !bytes.Equal(pre[:len(magic)], magic) {
		return Header{}, ErrFormat
	}

	var hlen int
	switch pre[len(magic)] {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return Header{}, err
		}
		hlen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return Header{}, err
		}
		hlen = int(n)
	default:
		return Header{}, fmt.Errorf("%w: version %d", ErrFormat, pre[len(magic)])
	}

	dict := make([]byte, hlen)
	if _, err := io.ReadFull(r, dict); err != nil {
		return Header{}, err
	}

	m := descrRe.FindSubmatch(dict)
	if m == nil {
		return Header{}, fmt.Errorf("%w: missing descr", ErrFormat)
	}
	h := Header{Dtype: string(m[1])}

	if f := fortranRe.FindSubmatch(dict); f == nil || string(f[1]) != "False" {
		return Header{}, fmt.Errorf("%w: fortran order is not supported", ErrFormat)
	}

	s := shapeRe.FindSubmatch(dict)
	if s == nil {
		return Header{}, fmt.Errorf("%w: missing shape", ErrFormat)
	}
	for _, part := range strings.Split(string(s[1]), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil {
			return Header{}, fmt.Errorf("%w: bad dimension %q", ErrFormat, part)
		}
		h.Shape = append(h.Shape, d)
	}
	return h, nil
}

// ReadFloat32 reads a "<f4" array.
func ReadFloat32(r io.Reader) (Header, []float32, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return h, nil, err
	}
	if h.Dtype != Float32 {
		return h, nil, fmt.Errorf("%w: want dtype %s, got %s", ErrFormat, Float32, h.Dtype)
	}
	data := make([]float32, h.Len())
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return h, nil, fmt.Errorf("npy: read data: %w", err)
	}
	return h, data, nil
}

// ReadInt64 reads a "<i8" array.
func ReadInt64(r io.Reader) (Header, []int64, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return h, nil, err
	}
	if h.Dtype != Int64 {
		return h, nil, fmt.Errorf("%w: want dtype %s, got %s", ErrFormat, Int64, h.Dtype)
	}
	data := make([]int64, h.Len())
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return h, nil, fmt.Errorf("npy: read data: %w", err)
	}
	return h, data, nil
}

// CreateFile writes an array to path through fn, replacing any existing file only
// once the write succeeded.
func CreateFile(path string, fn func(w io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	if err := fn(bw); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// OpenFile opens path for reading through fn.
func OpenFile(path string, fn func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(bufio.NewReaderSize(f, 1<<20))
}
