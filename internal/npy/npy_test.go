package npy

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteInt64(&buf, []int{3}, []int64{1, 0, 1}))

	raw := buf.Bytes()
	require.True(t, bytes.HasPrefix(raw, []byte("\x93NUMPY\x01\x00")))

	hlen := int(raw[8]) | int(raw[9])<<8
	preamble := 10 + hlen
	assert.Zero(t, preamble%64, "header must be padded to a 64 byte boundary")
	assert.Equal(t, byte('\n'), raw[preamble-1])

	dict := string(raw[10:preamble])
	assert.Contains(t, dict, "'descr': '<i8'")
	assert.Contains(t, dict, "'shape': (3,)")
	assert.Equal(t, 3*8, len(raw)-preamble)
}

func TestFloat32FourDimensional(t *testing.T) {
	data := make([]float32, 2*4*5*3)
	for i := range data {
		data[i] = float32(i) / float32(len(data))
	}

	path := filepath.Join(t.TempDir(), "X.npy")
	require.NoError(t, CreateFile(path, func(w io.Writer) error {
		return WriteFloat32(w, []int{2, 4, 5, 3}, data)
	}))

	var (
		h   Header
		got []float32
	)
	require.NoError(t, OpenFile(path, func(r io.Reader) error {
		var err error
		h, got, err = ReadFloat32(r)
		return err
	}))
	assert.Equal(t, []int{2, 4, 5, 3}, h.Shape)
	assert.Equal(t, data, got)
}

func TestEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFloat32(&buf, []int{0, 10, 10, 3}, nil))
	assert.True(t, strings.Contains(buf.String(), "'shape': (0, 10, 10, 3)"))

	h, got, err := ReadFloat32(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, got)
}

func TestShapeMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := WriteInt64(&buf, []int{4}, []int64{1, 2})
	require.Error(t, err)
	assert.Zero(t, buf.Len(), "nothing should be written on a shape mismatch")
}

func TestReadRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "Bad magic", data: []byte("PK\x03\x04 not numpy at all")},
		{name: "Fortran order", data: func() []byte {
			dict := "{'descr': '<f4', 'fortran_order': True, 'shape': (1,), }"
			dict += strings.Repeat(" ", (64-(10+len(dict)+1)%64)%64) + "\n"
			b := append([]byte("\x93NUMPY\x01\x00"), byte(len(dict)), 0)
			return append(b, dict...)
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader(bytes.NewReader(tt.data))
			if !errors.Is(err, ErrFormat) {
				t.Errorf("ReadHeader() error = %v, want ErrFormat", err)
			}
		})
	}
}

func TestDtypeMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteInt64(&buf, []int{1}, []int64{1}))
	_, _, err := ReadFloat32(&buf)
	assert.ErrorIs(t, err, ErrFormat)
}
