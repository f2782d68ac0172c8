// Package pose models tracked fingertip poses: 4x4 rigid transforms in a
// device's local space, tagged with chirality and capture time.
package pose

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Chirality distinguishes the left and right hand.
type Chirality int

const (
	Left Chirality = iota
	Right
)

func (c Chirality) String() string {
	switch c {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("chirality(%d)", int(c))
	}
}

// ParseChirality accepts "l", "left", "r" or "right" in any case.
func ParseChirality(s string) (Chirality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l", "left":
		return Left, nil
	case "r", "right":
		return Right, nil
	}
	return 0, fmt.Errorf("unknown chirality %q", s)
}

// Transform is a 4x4 rigid transform stored column-major: element (row r,
// column c) lives at index 4*c+r, so indices 12..14 hold the translation.
type Transform [16]float32

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns an identity rotation placed at (x, y, z).
func Translation(x, y, z float32) Transform {
	t := Identity()
	t[12], t[13], t[14] = x, y, z
	return t
}

// At returns the element at row r, column c.
func (t Transform) At(r, c int) float32 {
	return t[4*c+r]
}

// Position returns the translation column.
func (t Transform) Position() r3.Vec {
	return r3.Vec{X: float64(t[12]), Y: float64(t[13]), Z: float64(t[14])}
}

// Dense returns the transform as a row-major gonum matrix.
func (t Transform) Dense() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			m.Set(r, c, float64(t.At(r, c)))
		}
	}
	return m
}

// IsFinite reports whether every element is a finite number.
func (t Transform) IsFinite() bool {
	for _, v := range t {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// IsRigid reports whether the upper 3x3 block is orthonormal and the bottom
// row is (0, 0, 0, 1), each within tol.
func (t Transform) IsRigid(tol float64) bool {
	if !t.IsFinite() {
		return false
	}
	for c := 0; c < 3; c++ {
		if math.Abs(float64(t.At(3, c))) > tol {
			return false
		}
	}
	if math.Abs(float64(t.At(3, 3))-1) > tol {
		return false
	}

	rot := t.Dense().Slice(0, 3, 0, 3)
	var rtr mat.Dense
	rtr.Mul(rot.T(), rot)
	return mat.EqualApprox(&rtr, eye3, tol)
}

var eye3 = mat.NewDiagDense(3, []float64{1, 1, 1})

// Sample is one reading of a fingertip. Transform is meaningful only when
// Tracked is true.
type Sample struct {
	Hand       Chirality
	Transform  Transform
	Tracked    bool
	CapturedAt time.Time
}

// Skew returns the absolute difference between two capture instants.
func Skew(a, b Sample) time.Duration {
	d := a.CapturedAt.Sub(b.CapturedAt)
	if d < 0 {
		return -d
	}
	return d
}
