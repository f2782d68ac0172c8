package pose

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestTranslationPosition(t *testing.T) {
	tr := Translation(0.1, 1.2, -0.4)

	assert.Equal(t, r3.Vec{X: float64(float32(0.1)), Y: float64(float32(1.2)), Z: float64(float32(-0.4))}, tr.Position())
	assert.Equal(t, float32(0.1), tr.At(0, 3))
	assert.Equal(t, float32(1), tr.At(3, 3))
}

func TestDenseIsRowMajorView(t *testing.T) {
	tr := Translation(1, 2, 3)
	m := tr.Dense()

	assert.Equal(t, 1.0, m.At(0, 3))
	assert.Equal(t, 2.0, m.At(1, 3))
	assert.Equal(t, 3.0, m.At(2, 3))
	assert.Equal(t, 0.0, m.At(3, 0))
}

func TestIsRigid(t *testing.T) {
	assert.True(t, Identity().IsRigid(1e-6))
	assert.True(t, Translation(4, 5, 6).IsRigid(1e-6))

	// 90 degree rotation about Y
	rotY := Transform{
		0, 0, -1, 0,
		0, 1, 0, 0,
		1, 0, 0, 0,
		0.2, 0.3, 0.4, 1,
	}
	assert.True(t, rotY.IsRigid(1e-6))

	scaled := Identity()
	scaled[0] = 2
	assert.False(t, scaled.IsRigid(1e-6), "scale is not rigid")

	var zero Transform
	assert.False(t, zero.IsRigid(1e-6), "zero matrix is not rigid")

	nan := Identity()
	nan[5] = float32(math.NaN())
	assert.False(t, nan.IsFinite())
	assert.False(t, nan.IsRigid(1e-6))
}

func TestParseChirality(t *testing.T) {
	for in, want := range map[string]Chirality{"L": Left, "left": Left, " R ": Right, "Right": Right} {
		got, err := ParseChirality(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseChirality("both")
	assert.Error(t, err)
}

func TestSkew(t *testing.T) {
	base := time.UnixMilli(1000)
	a := Sample{CapturedAt: base}
	b := Sample{CapturedAt: base.Add(30 * time.Millisecond)}

	assert.Equal(t, 30*time.Millisecond, Skew(a, b))
	assert.Equal(t, 30*time.Millisecond, Skew(b, a))
}
