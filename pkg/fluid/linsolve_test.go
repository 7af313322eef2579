package fluid

import (
	"math"
	"testing"
)

// buildDiffusionMatrix assembles I + s*L over the Fluid cells of an w×h
// grid, the same shape the heat solve produces.
func buildDiffusionMatrix(w, h int, s float64, cell []CellType) *SparseMatrix {
	m := NewSparseMatrix(w, h)
	for i := range m.aDiag {
		m.aDiag[i] = 1.0
	}
	for y, idx := 0, 0; y < h; y++ {
		for x := 0; x < w; x, idx = x+1, idx+1 {
			if cell[idx] != CellFluid {
				continue
			}
			if x < w-1 && cell[idx+1] == CellFluid {
				m.aDiag[idx] += s
				m.aDiag[idx+1] += s
				m.aPlusX[idx] = -s
			}
			if y < h-1 && cell[idx+w] == CellFluid {
				m.aDiag[idx] += s
				m.aDiag[idx+w] += s
				m.aPlusY[idx] = -s
			}
		}
	}
	return m
}

func allFluid(n int) []CellType {
	cell := make([]CellType, n)
	for i := range cell {
		cell[i] = CellFluid
	}
	return cell
}

// applyRef computes dst = A*src with an independent stencil loop, so the
// solver's own matrix-vector product is not trusted to generate the test's
// right hand side.
func applyRef(m *SparseMatrix, src []float64) []float64 {
	w, h := m.w, m.h
	dst := make([]float64, w*h)
	for y, idx := 0, 0; y < h; y++ {
		for x := 0; x < w; x, idx = x+1, idx+1 {
			t := m.aDiag[idx] * src[idx]
			if x > 0 {
				t += m.aPlusX[idx-1] * src[idx-1]
			}
			if x < w-1 {
				t += m.aPlusX[idx] * src[idx+1]
			}
			if y > 0 {
				t += m.aPlusY[idx-w] * src[idx-w]
			}
			if y < h-1 {
				t += m.aPlusY[idx] * src[idx+w]
			}
			dst[idx] = t
		}
	}
	return dst
}

func TestPCGSolvesKnownSystem(t *testing.T) {
	const w, h = 8, 8
	cell := allFluid(w * h)
	m := buildDiffusionMatrix(w, h, 0.5, cell)

	want := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			want[x+y*w] = math.Sin(float64(x)*0.7) * math.Cos(float64(y)*0.3)
		}
	}
	rhs := applyRef(m, want)

	x := make([]float64, w*h)
	pcg := NewPCG(w * h)
	iters, residual, converged := pcg.Solve(m, rhs, x, cell)
	if !converged {
		t.Fatalf("PCG did not converge in %d iterations, residual %g", iters, residual)
	}
	if iters >= pcgMaxIter {
		t.Fatalf("PCG used the whole %d-iteration budget", iters)
	}

	for i := range want {
		if d := math.Abs(x[i] - want[i]); d > 1e-4 {
			t.Errorf("x[%d] = %g, want %g (off by %g)", i, x[i], want[i], d)
		}
	}
}

func TestPCGSkipsNonFluidCells(t *testing.T) {
	const w, h = 8, 8
	cell := allFluid(w * h)
	// Wall off the right half.
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			cell[x+y*w] = CellSolid
		}
	}
	m := buildDiffusionMatrix(w, h, 0.5, cell)

	rhs := make([]float64, w*h)
	for i := range rhs {
		rhs[i] = 1.0
	}

	x := make([]float64, w*h)
	pcg := NewPCG(w * h)
	if _, _, converged := pcg.Solve(m, rhs, x, cell); !converged {
		t.Fatal("PCG did not converge on the fluid subgraph")
	}

	for y := 0; y < h; y++ {
		for x2 := w / 2; x2 < w; x2++ {
			if x[x2+y*w] != 0.0 {
				t.Errorf("solid cell (%d, %d) received value %g", x2, y, x[x2+y*w])
			}
		}
	}
}

// TestPreconditionerWellDefined checks that MIC(0) never takes the square
// root of a non-positive pivot (the sigma fallback guarantees this), and
// produces strictly positive scaling on every fluid cell.
func TestPreconditionerWellDefined(t *testing.T) {
	const w, h = 16, 16
	cell := allFluid(w * h)
	// A few solid islands to break up the stencil.
	for _, idx := range []int{3 + 3*w, 4 + 3*w, 10 + 12*w, 11 + 12*w, 11 + 13*w} {
		cell[idx] = CellSolid
	}
	m := buildDiffusionMatrix(w, h, 2.0, cell)

	precon := make([]float64, w*h)
	m.buildPreconditioner(precon, cell)

	for i, c := range cell {
		if c != CellFluid {
			continue
		}
		if math.IsNaN(precon[i]) || math.IsInf(precon[i], 0) || precon[i] <= 0.0 {
			t.Errorf("precon[%d] = %g, want finite positive", i, precon[i])
		}
	}
}

func TestPCGZeroRhsReturnsImmediately(t *testing.T) {
	const w, h = 8, 8
	cell := allFluid(w * h)
	m := buildDiffusionMatrix(w, h, 0.5, cell)

	x := make([]float64, w*h)
	for i := range x {
		x[i] = 42.0 // must be cleared by the solve
	}
	rhs := make([]float64, w*h)

	iters, _, converged := NewPCG(w * h).Solve(m, rhs, x, cell)
	if !converged || iters != 0 {
		t.Fatalf("zero rhs: iters=%d converged=%v, want 0/true", iters, converged)
	}
	for i := range x {
		if x[i] != 0.0 {
			t.Errorf("x[%d] = %g, want 0", i, x[i])
		}
	}
}
