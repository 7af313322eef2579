package fluid

import "math"

// CellType classifies a FluidQuantity's cell as containing fluid, being
// inside a solid body, or (transiently, before extrapolation) holding no
// particles.
type CellType uint8

const (
	CellFluid CellType = iota
	CellSolid
	CellEmpty
)

// FluidQuantity is one scalar field living on its own staggered MAC-grid
// offset (density, temperature, u or v). It owns everything needed to
// gather/scatter to particles, stamp inflow, and carry cut-cell geometry
// for its own sample location.
type FluidQuantity struct {
	src, old []float64

	phi               []float64
	volume            []float64
	normalX, normalY  []float64
	cell              []CellType
	body              []uint8
	mask              []uint8

	w, h       int
	ox, oy, hx float64
}

// NewFluidQuantity allocates a w×h scalar field sampled at offset (ox,oy)
// within each cell, on a grid of cell size hx. All cells start classified
// Fluid with full volume, zero value.
func NewFluidQuantity(w, h int, ox, oy, hx float64) *FluidQuantity {
	q := &FluidQuantity{
		src: make([]float64, w*h),
		old: make([]float64, w*h),

		phi:     make([]float64, (w+1)*(h+1)),
		volume:  make([]float64, w*h),
		normalX: make([]float64, w*h),
		normalY: make([]float64, w*h),

		cell: make([]CellType, w*h),
		body: make([]uint8, w*h),
		mask: make([]uint8, w*h),

		w: w, h: h, ox: ox, oy: oy, hx: hx,
	}
	for i := range q.cell {
		q.cell[i] = CellFluid
		q.volume[i] = 1.0
	}
	return q
}

func (q *FluidQuantity) idx(x, y int) int { return x + y*q.w }

// At returns the current value at cell (x,y).
func (q *FluidQuantity) At(x, y int) float64 { return q.src[q.idx(x, y)] }

// SetAt assigns the current value at cell (x,y).
func (q *FluidQuantity) SetAt(x, y int, v float64) { q.src[q.idx(x, y)] = v }

// Volume returns the fluid-area fraction of cell (x,y).
func (q *FluidQuantity) Volume(x, y int) float64 { return q.volume[q.idx(x, y)] }

// CellAt returns the classification of cell (x,y).
func (q *FluidQuantity) CellAt(x, y int) CellType { return q.cell[q.idx(x, y)] }

func lerp(a, b, x float64) float64 { return a*(1.0-x) + b*x }

// Copy snapshots the current values into the "old" buffer, used to compute
// the FLIP delta at the end of a step.
func (q *FluidQuantity) Copy() { copy(q.old, q.src) }

// Diff computes src -= (1-alpha)*old in place, turning src into the change
// since the last Copy (blended with alpha towards a pure PIC update).
func (q *FluidQuantity) Diff(alpha float64) {
	for i := range q.src {
		q.src[i] -= (1.0 - alpha) * q.old[i]
	}
}

// Undiff reverses Diff, restoring src to its pre-diff values.
func (q *FluidQuantity) Undiff(alpha float64) {
	for i := range q.src {
		q.src[i] += (1.0 - alpha) * q.old[i]
	}
}

// Lerp bilinearly samples the field at position (x,y) in grid-cell units,
// clamped into the valid interior so that the four surrounding samples
// always exist.
func (q *FluidQuantity) Lerp(x, y float64) float64 {
	x = math.Min(math.Max(x-q.ox, 0.0), float64(q.w)-1.001)
	y = math.Min(math.Max(y-q.oy, 0.0), float64(q.h)-1.001)
	ix := int(x)
	iy := int(y)
	x -= float64(ix)
	y -= float64(iy)

	x00, x10 := q.At(ix+0, iy+0), q.At(ix+1, iy+0)
	x01, x11 := q.At(ix+0, iy+1), q.At(ix+1, iy+1)

	return lerp(lerp(x00, x10, x), lerp(x01, x11, x), y)
}

// AddInflow stamps a rectangular inflow [x0,y0]-[x1,y1] (world units) of
// value v into every cell whose sample point lies in the rectangle, using a cubic-pulse falloff and a max-magnitude overwrite (not
// an accumulation) so that repeated stamping of the same region does not
// compound.
func (q *FluidQuantity) AddInflow(x0, y0, x1, y1, v float64) {
	ix0 := int(math.Ceil(x0/q.hx - q.ox))
	iy0 := int(math.Ceil(y0/q.hx - q.oy))
	ix1 := int(math.Floor(x1/q.hx-q.ox)) + 1
	iy1 := int(math.Floor(y1/q.hx-q.oy)) + 1

	for y := max(iy0, 0); y < min(iy1, q.h); y++ {
		for x := max(ix0, 0); x < min(ix1, q.w); x++ {
			l := math.Hypot(
				(2.0*(float64(x)+0.5)*q.hx-(x0+x1))/(x1-x0),
				(2.0*(float64(y)+0.5)*q.hx-(y0+y1))/(y1-y0),
			)
			vi := cubicPulse(l) * v
			idx := q.idx(x, y)
			if math.Abs(q.src[idx]) < math.Abs(vi) {
				q.src[idx] = vi
			}
		}
	}
}

// cubicPulse is the smooth falloff kernel used both for inflow stamping and
// (named identically in the reference) nowhere else — kept as a package
// function since nothing else needs a method receiver.
func cubicPulse(x float64) float64 {
	x = math.Min(math.Abs(x), 1.0)
	return 1.0 - x*x*(3.0-2.0*x)
}

// FillSolidFields recomputes corner signed distances, per-cell nearest body
// index, fluid-area volume (via Occupancy) and outward normal for every
// cell, then reclassifies Fluid/Solid accordingly. A no-op with no bodies.
func (q *FluidQuantity) FillSolidFields(bodies []SolidBody) {
	if len(bodies) == 0 {
		return
	}

	// Each corner's distance only ever reads the bodies and writes its own
	// slot, so this fan-out is safe to run across GOMAXPROCS workers.
	cw := q.w + 1
	parallelRange(0, cw*(q.h+1), func(idx int) {
		ix, iy := idx%cw, idx/cw
		x := (float64(ix) + q.ox - 0.5) * q.hx
		y := (float64(iy) + q.oy - 0.5) * q.hx

		d := bodies[0].Distance(x, y)
		for i := 1; i < len(bodies); i++ {
			if id := bodies[i].Distance(x, y); id < d {
				d = id
			}
		}
		q.phi[idx] = d
	})

	// Same argument: every cell only reads the phi corners it owns and
	// writes its own body/volume/normal/cell slot.
	parallelRange(0, q.w*q.h, func(idx int) {
		ix, iy := idx%q.w, idx/q.w
		x := (float64(ix) + q.ox) * q.hx
		y := (float64(iy) + q.oy) * q.hx

		bestBody := 0
		d := bodies[0].Distance(x, y)
		for i := 1; i < len(bodies); i++ {
			if id := bodies[i].Distance(x, y); id < d {
				bestBody = i
				d = id
			}
		}
		q.body[idx] = uint8(bestBody)

		idxp := ix + iy*(q.w+1)
		q.volume[idx] = 1.0 - Occupancy(
			q.phi[idxp], q.phi[idxp+1],
			q.phi[idxp+q.w+1], q.phi[idxp+q.w+2],
		)
		if q.volume[idx] < 0.01 {
			q.volume[idx] = 0.0
		}

		q.normalX[idx], q.normalY[idx] = bodies[q.body[idx]].DistanceNormal(x, y)

		if q.volume[idx] == 0.0 {
			q.cell[idx] = CellSolid
		} else {
			q.cell[idx] = CellFluid
		}
	})
}

func sgn(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func (q *FluidQuantity) fillSolidMask() {
	for x := 0; x < q.w; x++ {
		q.mask[x] = 0xFF
		q.mask[x+(q.h-1)*q.w] = 0xFF
	}
	for y := 0; y < q.h; y++ {
		q.mask[y*q.w] = 0xFF
		q.mask[y*q.w+q.w-1] = 0xFF
	}

	for y := 1; y < q.h-1; y++ {
		for x := 1; x < q.w-1; x++ {
			idx := x + y*q.w

			q.mask[idx] = 0
			switch q.cell[idx] {
			case CellSolid:
				nx, ny := q.normalX[idx], q.normalY[idx]
				if nx != 0.0 && q.cell[idx+sgn(nx)] != CellFluid {
					q.mask[idx] |= 1
				}
				if ny != 0.0 && q.cell[idx+sgn(ny)*q.w] != CellFluid {
					q.mask[idx] |= 2
				}
			case CellEmpty:
				if q.cell[idx-1] != CellFluid && q.cell[idx+1] != CellFluid &&
					q.cell[idx-q.w] != CellFluid && q.cell[idx+q.w] != CellFluid {
					q.mask[idx] = 1
				}
			}
		}
	}
}

func (q *FluidQuantity) extrapolateNormal(idx int) float64 {
	nx, ny := q.normalX[idx], q.normalY[idx]
	srcX := q.src[idx+sgn(nx)]
	srcY := q.src[idx+sgn(ny)*q.w]
	return (math.Abs(nx)*srcX + math.Abs(ny)*srcY) / (math.Abs(nx) + math.Abs(ny))
}

func (q *FluidQuantity) extrapolateAverage(idx int) float64 {
	value := 0.0
	count := 0
	if q.cell[idx-1] == CellFluid {
		value += q.src[idx-1]
		count++
	}
	if q.cell[idx+1] == CellFluid {
		value += q.src[idx+1]
		count++
	}
	if q.cell[idx-q.w] == CellFluid {
		value += q.src[idx-q.w]
		count++
	}
	if q.cell[idx+q.w] == CellFluid {
		value += q.src[idx+q.w]
		count++
	}
	return value / float64(count)
}

func (q *FluidQuantity) freeSolidNeighbour(idx int, border *[]int, maskBit uint8) {
	if q.cell[idx] == CellSolid {
		q.mask[idx] &^= maskBit
		if q.mask[idx] == 0 {
			*border = append(*border, idx)
		}
	}
}

func (q *FluidQuantity) freeEmptyNeighbour(idx int, border *[]int) {
	if q.cell[idx] == CellEmpty && q.mask[idx] == 1 {
		q.mask[idx] = 0
		*border = append(*border, idx)
	}
}

// extrapolateEmptyBorders fills the outermost ring of Empty cells (never
// touched by the interior mask walk) by copying the adjacent interior
// value, averaging the two neighbours at corners, then reclassifies every
// remaining Empty cell as Fluid.
func (q *FluidQuantity) extrapolateEmptyBorders() {
	for x := 1; x < q.w-1; x++ {
		idxT := x
		idxB := x + (q.h-1)*q.w

		if q.cell[idxT] == CellEmpty {
			q.src[idxT] = q.src[idxT+q.w]
		}
		if q.cell[idxB] == CellEmpty {
			q.src[idxB] = q.src[idxB-q.w]
		}
	}
	for y := 1; y < q.h-1; y++ {
		idxL := y * q.w
		idxR := y*q.w + q.w - 1

		if q.cell[idxL] == CellEmpty {
			q.src[idxL] = q.src[idxL+1]
		}
		if q.cell[idxR] == CellEmpty {
			q.src[idxR] = q.src[idxR-1]
		}
	}

	idxTL := 0
	idxTR := q.w - 1
	idxBL := (q.h - 1) * q.w
	idxBR := q.h*q.w - 1

	if q.cell[idxTL] == CellEmpty {
		q.src[idxTL] = 0.5 * (q.src[idxTL+1] + q.src[idxTL+q.w])
	}
	if q.cell[idxTR] == CellEmpty {
		q.src[idxTR] = 0.5 * (q.src[idxTR-1] + q.src[idxTR+q.w])
	}
	if q.cell[idxBL] == CellEmpty {
		q.src[idxBL] = 0.5 * (q.src[idxBL+1] + q.src[idxBL-q.w])
	}
	if q.cell[idxBR] == CellEmpty {
		q.src[idxBR] = 0.5 * (q.src[idxBR-1] + q.src[idxBR-q.w])
	}

	for i := range q.cell {
		if q.cell[i] == CellEmpty {
			q.cell[i] = CellFluid
		}
	}
}

// Extrapolate propagates plausible values into every non-Fluid cell so
// that bilinear Lerp never samples a stale value. The interior walk is a
// strictly serial LIFO stack traversal — its order affects which Fluid
// neighbour wins ties in Empty averaging, never the resulting invariant,
// but it must not be parallelized (see the concurrency model).
func (q *FluidQuantity) Extrapolate() {
	q.fillSolidMask()

	var border []int
	for y := 1; y < q.h-1; y++ {
		for x := 1; x < q.w-1; x++ {
			idx := x + y*q.w
			if q.cell[idx] != CellFluid && q.mask[idx] == 0 {
				border = append(border, idx)
			}
		}
	}

	for len(border) > 0 {
		idx := border[len(border)-1]
		border = border[:len(border)-1]

		if q.cell[idx] == CellEmpty {
			q.src[idx] = q.extrapolateAverage(idx)
			q.cell[idx] = CellFluid
		} else {
			q.src[idx] = q.extrapolateNormal(idx)
		}

		if q.normalX[idx-1] > 0.0 {
			q.freeSolidNeighbour(idx-1, &border, 1)
		}
		if q.normalX[idx+1] < 0.0 {
			q.freeSolidNeighbour(idx+1, &border, 1)
		}
		if q.normalY[idx-q.w] > 0.0 {
			q.freeSolidNeighbour(idx-q.w, &border, 2)
		}
		if q.normalY[idx+q.w] < 0.0 {
			q.freeSolidNeighbour(idx+q.w, &border, 2)
		}

		// Only a cell that just became Fluid gives its Empty neighbours a
		// Fluid value to average; a Solid cell does not.
		if q.cell[idx] == CellFluid {
			q.freeEmptyNeighbour(idx-1, &border)
			q.freeEmptyNeighbour(idx+1, &border)
			q.freeEmptyNeighbour(idx-q.w, &border)
			q.freeEmptyNeighbour(idx+q.w, &border)
		}
	}

	q.extrapolateEmptyBorders()
}

func (q *FluidQuantity) addSample(weight []float64, value, x, y float64, ix, iy int) {
	if ix < 0 || iy < 0 || ix >= q.w || iy >= q.h {
		return
	}
	k := (1.0 - math.Abs(float64(ix)-x)) * (1.0 - math.Abs(float64(iy)-y))
	idx := q.idx(ix, iy)
	weight[idx] += k
	q.src[idx] += k * value
}

// FromParticles scatters count particle properties onto the grid with a
// hat filter, divides by accumulated weight, and reclassifies any
// previously-Fluid cell with zero weight as Empty (it held no particles
// this step). weight must hold at least w*h entries (this quantity's own
// dimensions) and is used as scratch.
func (q *FluidQuantity) FromParticles(weight []float64, count int, posX, posY, property []float64) {
	for i := range q.src {
		q.src[i] = 0
	}
	for i := range weight {
		weight[i] = 0
	}

	for i := 0; i < count; i++ {
		x := posX[i] - q.ox
		y := posY[i] - q.oy
		x = math.Max(0.5, math.Min(float64(q.w)-1.5, x))
		y = math.Max(0.5, math.Min(float64(q.h)-1.5, y))

		ix := int(x)
		iy := int(y)

		q.addSample(weight, property[i], x, y, ix+0, iy+0)
		q.addSample(weight, property[i], x, y, ix+1, iy+0)
		q.addSample(weight, property[i], x, y, ix+0, iy+1)
		q.addSample(weight, property[i], x, y, ix+1, iy+1)
	}

	for i := range q.src {
		if weight[i] != 0.0 {
			q.src[i] /= weight[i]
		} else if q.cell[i] == CellFluid {
			q.cell[i] = CellEmpty
		}
	}
}
