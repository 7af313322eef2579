package fluid

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// micTau trades diagonal dominance for a tighter approximate factor;
	// 0.97 is the reference's tuned value for this stencil.
	micTau = 0.97
	// micSigma guards against an indefinite preconditioner on nearly
	// singular rows.
	micSigma = 0.25

	pcgTolerance = 1e-5
	pcgMaxIter   = 2000
)

// SparseMatrix is a symmetric 5-point Poisson-type operator over a w×h
// grid, stored as three flat diagonals: the main diagonal and the two
// (symmetric) off-diagonals to the +x and +y neighbour.
type SparseMatrix struct {
	aDiag, aPlusX, aPlusY []float64
	w, h                  int
}

// NewSparseMatrix allocates a zeroed w×h operator.
func NewSparseMatrix(w, h int) *SparseMatrix {
	n := w * h
	return &SparseMatrix{
		aDiag:  make([]float64, n),
		aPlusX: make([]float64, n),
		aPlusY: make([]float64, n),
		w:      w, h: h,
	}
}

// Reset zeroes every entry so the matrix can be rebuilt in place each step.
func (m *SparseMatrix) Reset() {
	for i := range m.aDiag {
		m.aDiag[i] = 0
		m.aPlusX[i] = 0
		m.aPlusY[i] = 0
	}
}

// apply computes dst = A*src over every cell unconditionally — coupling and
// diagonal entries are already zero outside the region the matrix was built
// for, so no cell mask is needed here (matches the reference).
func (m *SparseMatrix) apply(dst, src []float64) {
	w, h := m.w, m.h
	for y, idx := 0, 0; y < h; y++ {
		for x := 0; x < w; x, idx = x+1, idx+1 {
			t := m.aDiag[idx] * src[idx]

			if x > 0 {
				t += m.aPlusX[idx-1] * src[idx-1]
			}
			if y > 0 {
				t += m.aPlusY[idx-w] * src[idx-w]
			}
			if x < w-1 {
				t += m.aPlusX[idx] * src[idx+1]
			}
			if y < h-1 {
				t += m.aPlusY[idx] * src[idx+w]
			}

			dst[idx] = t
		}
	}
}

// buildPreconditioner derives a Modified Incomplete Cholesky (0)
// factorization of m into precon, restricted to cells cell marks Fluid —
// the only rows the matrix was assembled for. The forward recurrence
// threads a data dependency from each cell to its -x/-y neighbours, so
// unlike the PCG reductions below it cannot be expressed as a masked
// vector op and stays a plain sweep.
func (m *SparseMatrix) buildPreconditioner(precon []float64, cell []CellType) {
	w, h := m.w, m.h
	for i := range precon {
		precon[i] = 0
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := x + y*w
			if cell[idx] != CellFluid {
				continue
			}

			e := m.aDiag[idx]

			if x > 0 && cell[idx-1] == CellFluid {
				px := m.aPlusX[idx-1] * precon[idx-1]
				py := m.aPlusY[idx-1] * precon[idx-1]
				e -= px*px + micTau*px*py
			}
			if y > 0 && cell[idx-w] == CellFluid {
				px := m.aPlusX[idx-w] * precon[idx-w]
				py := m.aPlusY[idx-w] * precon[idx-w]
				e -= py*py + micTau*px*py
			}

			if e < micSigma*m.aDiag[idx] {
				e = m.aDiag[idx]
			}

			precon[idx] = 1.0 / math.Sqrt(e)
		}
	}
}

// applyPreconditioner solves (L Lt) dst = src via forward then backward
// substitution against the MIC(0) factor, restricted to Fluid cells. Like
// buildPreconditioner, the triangular sweeps carry a sequential dependency
// and are left as plain loops.
func (m *SparseMatrix) applyPreconditioner(dst, src, precon []float64, cell []CellType) {
	w, h := m.w, m.h

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := x + y*w
			if cell[idx] != CellFluid {
				continue
			}

			t := src[idx]
			if x > 0 && cell[idx-1] == CellFluid {
				t -= m.aPlusX[idx-1] * precon[idx-1] * dst[idx-1]
			}
			if y > 0 && cell[idx-w] == CellFluid {
				t -= m.aPlusY[idx-w] * precon[idx-w] * dst[idx-w]
			}
			dst[idx] = t * precon[idx]
		}
	}

	for y := h - 1; y >= 0; y-- {
		for x := w - 1; x >= 0; x-- {
			idx := x + y*w
			if cell[idx] != CellFluid {
				continue
			}

			t := dst[idx]
			if x < w-1 && cell[idx+1] == CellFluid {
				t -= m.aPlusX[idx] * precon[idx] * dst[idx+1]
			}
			if y < h-1 && cell[idx+w] == CellFluid {
				t -= m.aPlusY[idx] * precon[idx] * dst[idx+w]
			}
			dst[idx] = t * precon[idx]
		}
	}
}

// PCG is a reusable scratch-holding Preconditioned Conjugate Gradient
// solver for the SPD systems produced each step (pressure projection and
// implicit heat diffusion). Both systems are only ever posed over Fluid
// cells; non-fluid rows stay at zero for the lifetime of the solve.
//
// The reductions each iteration (dot products, scaled adds, the infinity-
// norm stopping test) are delegated to gonum's floats package rather than
// hand-rolled loops. Since floats' vector ops assume every slice entry is
// live, the Fluid-cell subset is compacted into the fluidIdx/bufA/bufB
// scratch before each call and, for the in-place updates, scattered back
// afterwards.
type PCG struct {
	r, z, s, precon []float64

	fluidIdx   []int
	bufA, bufB []float64
}

// NewPCG allocates scratch vectors for an n-unknown system.
func NewPCG(n int) *PCG {
	return &PCG{
		r:      make([]float64, n),
		z:      make([]float64, n),
		s:      make([]float64, n),
		precon: make([]float64, n),

		fluidIdx: make([]int, 0, n),
		bufA:     make([]float64, n),
		bufB:     make([]float64, n),
	}
}

func (pcg *PCG) compactIndex(cell []CellType) {
	pcg.fluidIdx = pcg.fluidIdx[:0]
	for i, c := range cell {
		if c == CellFluid {
			pcg.fluidIdx = append(pcg.fluidIdx, i)
		}
	}
}

// gather compacts v[idx] for idx in fluidIdx into dst[:len(fluidIdx)].
func (pcg *PCG) gather(dst, v []float64) []float64 {
	dst = dst[:len(pcg.fluidIdx)]
	for k, idx := range pcg.fluidIdx {
		dst[k] = v[idx]
	}
	return dst
}

// scatter writes src[:len(fluidIdx)] back into v at the compacted indices.
func (pcg *PCG) scatter(v, src []float64) {
	for k, idx := range pcg.fluidIdx {
		v[idx] = src[k]
	}
}

func (pcg *PCG) maskedDot(a, b []float64) float64 {
	ca := pcg.gather(pcg.bufA, a)
	cb := pcg.gather(pcg.bufB, b)
	return floats.Dot(ca, cb)
}

func (pcg *PCG) maskedInfNorm(v []float64) float64 {
	cv := pcg.gather(pcg.bufA, v)
	return floats.Norm(cv, math.Inf(1))
}

// maskedAddScaled sets dst[i] += alpha*src[i] for Fluid cells only.
func (pcg *PCG) maskedAddScaled(dst, src []float64, alpha float64) {
	cdst := pcg.gather(pcg.bufA, dst)
	csrc := pcg.gather(pcg.bufB, src)
	floats.AddScaled(cdst, alpha, csrc)
	pcg.scatter(dst, cdst)
}

// maskedScaledAdd sets dst[i] = a[i] + beta*b[i] for Fluid cells only — the
// CG search-direction update s = z + beta*s.
func (pcg *PCG) maskedScaledAdd(dst, a, b []float64, beta float64) {
	ca := pcg.gather(pcg.bufA, a)
	cb := pcg.gather(pcg.bufB, b)
	floats.AddScaled(ca, beta, cb)
	pcg.scatter(dst, ca)
}

// Solve finds x such that A x = rhs to within pcgTolerance (the infinity
// norm of the residual over Fluid cells), up to pcgMaxIter iterations. x is
// overwritten with the result, starting from all-zero. Returns the
// iteration count used, the residual norm reached, and whether the
// tolerance was met.
func (pcg *PCG) Solve(a *SparseMatrix, rhs, x []float64, cell []CellType) (iterations int, residual float64, converged bool) {
	n := len(rhs)
	for i := 0; i < n; i++ {
		x[i] = 0
		pcg.z[i] = 0
		pcg.s[i] = 0
	}
	copy(pcg.r, rhs)

	pcg.compactIndex(cell)

	maxErr := pcg.maskedInfNorm(pcg.r)
	if maxErr < pcgTolerance {
		return 0, maxErr, true
	}

	a.buildPreconditioner(pcg.precon, cell)
	a.applyPreconditioner(pcg.z, pcg.r, pcg.precon, cell)
	copy(pcg.s, pcg.z)

	sigma := pcg.maskedDot(pcg.z, pcg.r)
	if sigma == 0 {
		return 0, maxErr, true
	}

	for iter := 0; iter < pcgMaxIter; iter++ {
		a.apply(pcg.z, pcg.s)

		alpha := sigma / pcg.maskedDot(pcg.z, pcg.s)

		pcg.maskedAddScaled(x, pcg.s, alpha)
		pcg.maskedAddScaled(pcg.r, pcg.z, -alpha)

		maxErr = pcg.maskedInfNorm(pcg.r)
		if maxErr < pcgTolerance {
			return iter + 1, maxErr, true
		}

		a.applyPreconditioner(pcg.z, pcg.r, pcg.precon, cell)

		sigmaNew := pcg.maskedDot(pcg.z, pcg.r)
		beta := sigmaNew / sigma

		pcg.maskedScaledAdd(pcg.s, pcg.z, pcg.s, beta)
		sigma = sigmaNew
	}

	return pcgMaxIter, maxErr, false
}
