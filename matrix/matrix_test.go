package matrix

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestFormat(t *testing.T) {
	assert := assert.New(t)

	out := `⎡1.2  3.4⎤
⎣4.5  6.7⎦`
	data := []float64{1.2, 3.4, 4.5, 6.7}
	m := mat.NewDense(2, 2, data)
	assert.NotNil(m)

	format := Format(m)
	tstOut := fmt.Sprintf("%v", format)
	assert.Equal(out, tstOut)
}

func TestZerosAndIdentity(t *testing.T) {
	assert := assert.New(t)

	z := Zeros(2, 3)
	r, c := z.Dims()
	assert.Equal(2, r)
	assert.Equal(3, c)
	assert.Equal(0.0, z.At(1, 2))

	id := Identity(3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == j {
				assert.Equal(1.0, id.At(i, j))
			} else {
				assert.Equal(0.0, id.At(i, j))
			}
		}
	}
}

func TestCopyNilSafe(t *testing.T) {
	assert := assert.New(t)

	assert.Nil(Copy(nil))

	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	cp := Copy(m)
	cp.Set(0, 0, 99)
	assert.Equal(1.0, m.At(0, 0))
}

func TestDimsNilSafe(t *testing.T) {
	assert := assert.New(t)

	r, c := Dims(nil)
	assert.Equal(0, r)
	assert.Equal(0, c)
}

func TestVCat(t *testing.T) {
	assert := assert.New(t)

	a := mat.NewDense(1, 2, []float64{1, 2})
	b := mat.NewDense(2, 2, []float64{3, 4, 5, 6})

	got := VCat(a, b)
	r, c := got.Dims()
	assert.Equal(3, r)
	assert.Equal(2, c)
	assert.Equal(1.0, got.At(0, 0))
	assert.Equal(5.0, got.At(2, 0))

	assert.Nil(VCat(nil, nil))

	onlyA := VCat(a, nil)
	assert.Equal(a.RawMatrix().Data, onlyA.RawMatrix().Data)

	assert.Panics(func() {
		VCat(mat.NewDense(1, 2, nil), mat.NewDense(1, 3, nil))
	})
}

func TestChop(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	got := Chop(m, 2, 2)
	r, c := got.Dims()
	assert.Equal(2, r)
	assert.Equal(2, c)
	assert.Equal(1.0, got.At(0, 0))
	assert.Equal(5.0, got.At(1, 1))

	assert.Panics(func() { Chop(m, 4, 2) })
}

func TestTriu(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	got := Triu(m)
	assert.Equal(0.0, got.At(1, 0))
	assert.Equal(1.0, got.At(0, 0))
	assert.True(IsUpperTriangular(got, 1e-12))
	assert.False(IsUpperTriangular(m, 1e-12))
}

func TestFactorizeRoundTrip(t *testing.T) {
	assert := assert.New(t)

	a := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	qr := Factorize(a)
	r := qr.RTo()
	assert.True(IsUpperTriangular(r, 1e-9))

	qTa := qr.ApplyQT(a)
	rr, rc := r.Dims()
	recombined := Chop(qTa, rr, rc)
	for i := 0; i < rr; i++ {
		for j := 0; j < rc; j++ {
			assert.InDelta(r.At(i, j), recombined.At(i, j), 1e-9)
		}
	}

	assert.Nil(qr.ApplyQT(nil))
}

func TestTriSolve(t *testing.T) {
	assert := assert.New(t)

	r := mat.NewDense(2, 2, []float64{2, 1, 0, 2})
	y := mat.NewDense(2, 1, []float64{4, 4})

	x := TriSolve(r, y)
	assert.InDelta(1.0, x.At(0, 0), 1e-9)
	assert.InDelta(2.0, x.At(1, 0), 1e-9)

	singular := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	xs := TriSolve(singular, y)
	assert.True(math.IsNaN(xs.At(0, 0)))
}

func TestInverse(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(2, 2, []float64{4, 0, 0, 2})
	inv := Inverse(m)
	assert.InDelta(0.25, inv.At(0, 0), 1e-9)
	assert.InDelta(0.5, inv.At(1, 1), 1e-9)

	singular := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	invs := Inverse(singular)
	assert.True(math.IsNaN(invs.At(0, 0)))
}

func TestMulAdd(t *testing.T) {
	assert := assert.New(t)

	a := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	b := mat.NewDense(2, 1, []float64{2, 3})
	dst := mat.NewDense(2, 1, []float64{1, 1})

	got := MulAdd(dst, a, b, 1)
	assert.InDelta(3.0, got.At(0, 0), 1e-9)
	assert.InDelta(4.0, got.At(1, 0), 1e-9)

	gotNilDst := MulAdd(nil, a, b, 1)
	assert.InDelta(2.0, gotNilDst.At(0, 0), 1e-9)
}

func TestToSymDense(t *testing.T) {
	assert := assert.New(t)

	badMx := mat.NewDense(2, 1, []float64{0.5, 1.0})
	notSymMx := mat.NewDense(2, 2, []float64{0.5, 1.0, 2.0, 2.0})
	symMx := mat.NewDense(2, 2, []float64{0.5, 1.0, 1.0, 2.0})

	sym, err := ToSymDense(badMx)
	assert.Nil(sym)
	assert.Error(err)

	sym, err = ToSymDense(notSymMx)
	assert.Nil(sym)
	assert.Error(err)

	sym, err = ToSymDense(symMx)
	assert.NotNil(sym)
	assert.NoError(err)
}
