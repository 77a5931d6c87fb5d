package dataset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(w, h int, v float32) Sample {
	pix := make([]float32, w*h*Channels)
	for i := range pix {
		pix[i] = v
	}
	return Sample{Width: w, Height: h, Pix: pix}
}

func TestLabelCode(t *testing.T) {
	if Real.Code() != 1 {
		t.Errorf("Real.Code() = %d, want 1", Real.Code())
	}
	if Fake.Code() != 0 {
		t.Errorf("Fake.Code() = %d, want 0", Fake.Code())
	}
}

func TestAppendKeepsSequencesParallel(t *testing.T) {
	d := New(4, 2)
	require.NoError(t, d.Append(filled(4, 2, 0.5), Real))
	require.NoError(t, d.Append(filled(4, 2, 0.25), Fake))

	err := d.Append(filled(2, 4, 0.5), Real)
	assert.ErrorIs(t, err, ErrShape)

	assert.Equal(t, 2, d.Len())
	assert.Len(t, d.Y, d.Len())
	assert.Equal(t, []int64{1, 0}, d.Y)

	real, fake := d.Counts()
	assert.Equal(t, 1, real)
	assert.Equal(t, 1, fake)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	xPath, yPath := filepath.Join(dir, "X.npy"), filepath.Join(dir, "y.npy")

	d := New(3, 2)
	s := filled(3, 2, 0)
	for i := range s.Pix {
		s.Pix[i] = float32(i) / 255
	}
	require.NoError(t, d.Append(s, Fake))
	require.NoError(t, d.Append(filled(3, 2, 1), Real))
	require.NoError(t, d.Save(xPath, yPath))

	got, err := Load(xPath, yPath)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Width)
	assert.Equal(t, 2, got.Height)
	assert.Equal(t, d.Y, got.Y)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, s.Pix, got.X[0].Pix)
	assert.Equal(t, float32(1), got.X[1].At(2, 1, 2))
}

func TestSaveEmpty(t *testing.T) {
	dir := t.TempDir()
	xPath, yPath := filepath.Join(dir, "X.npy"), filepath.Join(dir, "y.npy")

	require.NoError(t, New(10, 10).Save(xPath, yPath))

	got, err := Load(xPath, yPath)
	require.NoError(t, err)
	assert.Zero(t, got.Len())
	assert.Equal(t, 10, got.Width)
}
