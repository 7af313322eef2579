package fluid

import (
	"math"

	"github.com/sirupsen/logrus"
)

const (
	ambientTemp = 294.0
	gravity     = 9.81
	flipAlpha   = 0.001
)

// Solver orchestrates one MAC-grid, FLIP/PIC hybrid smoke simulation:
// cut-cell geometry against a set of moving rigid bodies, implicit heat
// diffusion, buoyancy, and a variational pressure projection, all coupled
// through a particle set that carries density/temperature/velocity
// between steps.
type Solver struct {
	w, h int
	hx   float64

	density     *FluidQuantity
	temperature *FluidQuantity
	u, v        *FluidQuantity

	particles *ParticleSet
	bodies    []SolidBody

	rhoAir, rhoSoot, diffusion float64

	uDensity, vDensity []float64
	weight             []float64

	inflows []inflow

	rhs      []float64
	pressure []float64
	matrix   *SparseMatrix
	pcg      *PCG

	// StrictBoundaryVelocityBug reproduces the reference implementation's
	// solid boundary condition, which stamps the y-face velocity from the
	// body's velocityX accessor instead of velocityY. Set false to apply
	// the corrected boundary condition.
	StrictBoundaryVelocityBug bool
	// StrictDensityIndexBug reproduces the reference's pressure-matrix
	// assembly, which looks up the v-face density array using the u
	// quantity's (differently strided) index function. Off by default: the
	// aliased slot makes the matrix inconsistent with applyPressure, and on
	// grids with h >= w+2 it indexes past the end of the density array. Set true for bit-exact parity on square grids.
	StrictDensityIndexBug bool

	log logrus.FieldLogger
}

// NewSolver builds a w×h smoke solver. rhoAir and rhoSoot are the
// ambient-air and fully-saturated-smoke densities used for buoyancy and
// the variable-density pressure solve; diffusion is the heat diffusivity
// used by the implicit heat solve. bodies may be nil or empty.
func NewSolver(w, h int, rhoAir, rhoSoot, diffusion float64, bodies []SolidBody) *Solver {
	hx := 1.0 / math.Min(float64(w), float64(h))

	s := &Solver{
		w: w, h: h, hx: hx,
		rhoAir: rhoAir, rhoSoot: rhoSoot, diffusion: diffusion,
		bodies: bodies,

		density:     NewFluidQuantity(w, h, 0.5, 0.5, hx),
		temperature: NewFluidQuantity(w, h, 0.5, 0.5, hx),
		u:           NewFluidQuantity(w+1, h, 0.0, 0.5, hx),
		v:           NewFluidQuantity(w, h+1, 0.5, 0.0, hx),

		uDensity: make([]float64, (w+1)*h),
		vDensity: make([]float64, w*(h+1)),
		weight:   make([]float64, (w+1)*(h+1)),

		rhs:      make([]float64, w*h),
		pressure: make([]float64, w*h),
		matrix:   NewSparseMatrix(w, h),
		pcg:      NewPCG(w * h),

		StrictBoundaryVelocityBug: true,
		StrictDensityIndexBug:     false,

		log: logrus.WithField("component", "fluid.Solver"),
	}

	for i := range s.temperature.src {
		s.temperature.src[i] = ambientTemp
	}

	s.particles = NewParticleSet(w, h, hx, bodies, NewDefaultSource())
	s.particles.GridToParticles(1.0, s.density, s.temperature, s.u, s.v)

	return s
}

// AmbientTemp returns the ambient temperature (Kelvin) buoyancy and
// rendering measure temperature deviations against.
func (s *Solver) AmbientTemp() float64 { return ambientTemp }

// inflow is one queued rectangular source, stamped during the next Update.
type inflow struct {
	x0, y0, x1, y1 float64
	d, t, u, v     float64
}

// AddInflow queues a rectangular inflow of density d, temperature t and
// velocity (u,v), all in world units, overwriting (by max magnitude, not
// accumulating) whatever the grid holds in that region. The stamp is
// deferred to the next Update: it has to land between the grid snapshot
// and the FLIP diff, or the particle scatter would immediately wipe it.
func (s *Solver) AddInflow(x, y, w, h, d, t, u, v float64) {
	s.inflows = append(s.inflows, inflow{x, y, x + w, y + h, d, t, u, v})
}

func (s *Solver) stampInflows() {
	for _, in := range s.inflows {
		s.density.AddInflow(in.x0, in.y0, in.x1, in.y1, in.d)
		s.temperature.AddInflow(in.x0, in.y0, in.x1, in.y1, in.t)
		s.u.AddInflow(in.x0, in.y0, in.x1, in.y1, in.u)
		s.v.AddInflow(in.x0, in.y0, in.x1, in.y1, in.v)
	}
	s.inflows = s.inflows[:0]
}

// Update advances the simulation by dt: it refreshes cut-cell geometry,
// transfers particles to the grid, solves implicit heat diffusion,
// applies buoyancy, solves the pressure projection, extrapolates, and
// advects particles back through the resulting velocity field.
func (s *Solver) Update(dt float64) {
	s.density.FillSolidFields(s.bodies)
	s.temperature.FillSolidFields(s.bodies)
	s.u.FillSolidFields(s.bodies)
	s.v.FillSolidFields(s.bodies)

	s.particles.ParticlesToGrid(s.density, s.temperature, s.u, s.v, s.weight)

	s.density.Copy()
	s.temperature.Copy()
	s.u.Copy()
	s.v.Copy()

	s.stampInflows()

	s.diffuseHeat(dt)
	s.temperature.Extrapolate()

	s.addBuoyancy(dt)
	s.setBoundaryCondition()

	s.project(dt)

	s.density.Extrapolate()
	s.u.Extrapolate()
	s.v.Extrapolate()

	s.setBoundaryCondition()

	s.density.Diff(flipAlpha)
	s.temperature.Diff(flipAlpha)
	s.u.Diff(flipAlpha)
	s.v.Diff(flipAlpha)

	s.particles.GridToParticles(flipAlpha, s.density, s.temperature, s.u, s.v)

	s.density.Undiff(flipAlpha)
	s.temperature.Undiff(flipAlpha)
	s.u.Undiff(flipAlpha)
	s.v.Undiff(flipAlpha)

	s.particles.Advect(dt, s.u, s.v)
}

func (s *Solver) diffuseHeat(dt float64) {
	copy(s.rhs, s.temperature.src)
	s.buildHeatDiffusionMatrix(dt)

	iters, residual, converged := s.pcg.Solve(s.matrix, s.rhs, s.temperature.src, s.density.cell)
	if !converged {
		s.log.WithFields(logrus.Fields{"iterations": iters, "residual": residual, "system": "heat"}).
			Warn("heat diffusion solve exceeded iteration budget")
	}
}

func (s *Solver) project(dt float64) {
	s.buildRhs()
	s.computeDensities()
	s.buildPressureMatrix(dt)

	iters, residual, converged := s.pcg.Solve(s.matrix, s.rhs, s.pressure, s.density.cell)
	if !converged {
		s.log.WithFields(logrus.Fields{"iterations": iters, "residual": residual, "system": "pressure"}).
			Warn("pressure solve exceeded iteration budget")
	}

	s.applyPressure(dt)
}

// buildRhs assembles the divergence (plus solid-velocity correction) right
// hand side of the pressure system. Every cell only ever writes its own
// s.rhs[idx] slot — its neighbour reads are all into read-only geometry and
// body arrays — so the per-cell pass fans out across workers safely.
func (s *Solver) buildRhs() {
	scale := 1.0 / s.hx
	cell := s.density.cell
	body := s.density.body

	parallelRange(0, s.w*s.h, func(idx int) {
		x, y := idx%s.w, idx/s.w

		if cell[idx] != CellFluid {
			s.rhs[idx] = 0.0
			return
		}

		s.rhs[idx] = -scale * (s.u.Volume(x+1, y)*s.u.At(x+1, y) - s.u.Volume(x, y)*s.u.At(x, y) +
			s.v.Volume(x, y+1)*s.v.At(x, y+1) - s.v.Volume(x, y)*s.v.At(x, y))

		if len(s.bodies) == 0 {
			return
		}

		vol := s.density.Volume(x, y)
		if x > 0 {
			s.rhs[idx] -= (s.u.Volume(x, y) - vol) * s.bodies[body[idx-1]].VelocityX(float64(x)*s.hx, (float64(y)+0.5)*s.hx)
		}
		if y > 0 {
			s.rhs[idx] -= (s.v.Volume(x, y) - vol) * s.bodies[body[idx-s.w]].VelocityY((float64(x)+0.5)*s.hx, float64(y)*s.hx)
		}
		if x < s.w-1 {
			s.rhs[idx] += (s.u.Volume(x+1, y) - vol) * s.bodies[body[idx+1]].VelocityX((float64(x)+1.0)*s.hx, (float64(y)+0.5)*s.hx)
		}
		if y < s.h-1 {
			s.rhs[idx] += (s.v.Volume(x, y+1) - vol) * s.bodies[body[idx+s.w]].VelocityY((float64(x)+0.5)*s.hx, (float64(y)+1.0)*s.hx)
		}
	})
}

func (s *Solver) computeDensities() {
	alpha := (s.rhoSoot - s.rhoAir) / s.rhoAir

	for i := range s.uDensity {
		s.uDensity[i] = 0
	}
	for i := range s.vDensity {
		s.vDensity[i] = 0
	}

	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			density := s.rhoAir * ambientTemp / s.temperature.At(x, y) * (1.0 + alpha*s.density.At(x, y))
			density = math.Max(density, 0.05*s.rhoAir)

			s.uDensity[s.u.idx(x, y)] += 0.5 * density
			s.vDensity[s.v.idx(x, y)] += 0.5 * density
			s.uDensity[s.u.idx(x+1, y)] += 0.5 * density
			s.vDensity[s.v.idx(x, y+1)] += 0.5 * density
		}
	}
}

// vDensityIdx resolves the flat index used to look up vDensity when
// assembling the y-face term of the pressure matrix. The reference always
// uses the u quantity's (w+1)-strided idx() here, which happens to alias
// the wrong slot whenever w is used to index a (w)-strided array — see
// StrictDensityIndexBug.
func (s *Solver) vDensityIdx(x, y int) int {
	if s.StrictDensityIndexBug {
		return s.u.idx(x, y)
	}
	return s.v.idx(x, y)
}

func (s *Solver) buildPressureMatrix(dt float64) {
	scale := dt / (s.hx * s.hx)
	cell := s.density.cell
	s.matrix.Reset()

	for y, idx := 0, 0; y < s.h; y++ {
		for x := 0; x < s.w; x, idx = x+1, idx+1 {
			if cell[idx] != CellFluid {
				continue
			}

			if x < s.w-1 && cell[idx+1] == CellFluid {
				factor := scale * s.u.Volume(x+1, y) / s.uDensity[s.u.idx(x+1, y)]
				s.matrix.aDiag[idx] += factor
				s.matrix.aDiag[idx+1] += factor
				s.matrix.aPlusX[idx] = -factor
			}
			if y < s.h-1 && cell[idx+s.w] == CellFluid {
				factor := scale * s.v.Volume(x, y+1) / s.vDensity[s.vDensityIdx(x, y+1)]
				s.matrix.aDiag[idx] += factor
				s.matrix.aDiag[idx+s.w] += factor
				s.matrix.aPlusY[idx] = -factor
			}
		}
	}
}

func (s *Solver) buildHeatDiffusionMatrix(dt float64) {
	m := s.matrix
	for i := range m.aDiag {
		m.aDiag[i] = 1.0
		m.aPlusX[i] = 0
		m.aPlusY[i] = 0
	}

	cell := s.density.cell
	scale := s.diffusion * dt / (s.hx * s.hx)

	for y, idx := 0, 0; y < s.h; y++ {
		for x := 0; x < s.w; x, idx = x+1, idx+1 {
			if cell[idx] != CellFluid {
				continue
			}

			if x < s.w-1 && cell[idx+1] == CellFluid {
				m.aDiag[idx] += scale
				m.aDiag[idx+1] += scale
				m.aPlusX[idx] = -scale
			}
			if y < s.h-1 && cell[idx+s.w] == CellFluid {
				m.aDiag[idx] += scale
				m.aDiag[idx+s.w] += scale
				m.aPlusY[idx] = -scale
			}
		}
	}
}

func (s *Solver) applyPressure(dt float64) {
	scale := dt / s.hx
	cell := s.density.cell
	p := s.pressure

	for y, idx := 0, 0; y < s.h; y++ {
		for x := 0; x < s.w; x, idx = x+1, idx+1 {
			if cell[idx] != CellFluid {
				continue
			}

			s.u.SetAt(x, y, s.u.At(x, y)-scale*p[idx]/s.uDensity[s.u.idx(x, y)])
			s.v.SetAt(x, y, s.v.At(x, y)-scale*p[idx]/s.vDensity[s.v.idx(x, y)])
			s.u.SetAt(x+1, y, s.u.At(x+1, y)+scale*p[idx]/s.uDensity[s.u.idx(x+1, y)])
			s.v.SetAt(x, y+1, s.v.At(x, y+1)+scale*p[idx]/s.vDensity[s.v.idx(x, y+1)])
		}
	}
}

func (s *Solver) addBuoyancy(dt float64) {
	alpha := (s.rhoSoot - s.rhoAir) / s.rhoAir

	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			buoyancy := dt * gravity * (alpha*s.density.At(x, y) - (s.temperature.At(x, y)-ambientTemp)/ambientTemp)

			s.v.SetAt(x, y, s.v.At(x, y)+buoyancy*0.5)
			s.v.SetAt(x, y+1, s.v.At(x, y+1)+buoyancy*0.5)
		}
	}
}

// setBoundaryCondition stamps every solid cell's adjacent faces with the
// owning body's rigid velocity, then zeroes the domain's outer walls.
func (s *Solver) setBoundaryCondition() {
	cell := s.density.cell
	body := s.density.body

	for y, idx := 0, 0; y < s.h; y++ {
		for x := 0; x < s.w; x, idx = x+1, idx+1 {
			if cell[idx] != CellSolid {
				continue
			}
			b := s.bodies[body[idx]]

			s.u.SetAt(x, y, b.VelocityX(float64(x)*s.hx, (float64(y)+0.5)*s.hx))
			if s.StrictBoundaryVelocityBug {
				s.v.SetAt(x, y, b.VelocityX((float64(x)+0.5)*s.hx, float64(y)*s.hx))
			} else {
				s.v.SetAt(x, y, b.VelocityY((float64(x)+0.5)*s.hx, float64(y)*s.hx))
			}
			s.u.SetAt(x+1, y, b.VelocityX((float64(x)+1.0)*s.hx, (float64(y)+0.5)*s.hx))
			if s.StrictBoundaryVelocityBug {
				s.v.SetAt(x, y+1, b.VelocityX((float64(x)+0.5)*s.hx, (float64(y)+1.0)*s.hx))
			} else {
				s.v.SetAt(x, y+1, b.VelocityY((float64(x)+0.5)*s.hx, (float64(y)+1.0)*s.hx))
			}
		}
	}

	for y := 0; y < s.h; y++ {
		s.u.SetAt(0, y, 0.0)
		s.u.SetAt(s.w, y, 0.0)
	}
	for x := 0; x < s.w; x++ {
		s.v.SetAt(x, 0, 0.0)
		s.v.SetAt(x, s.h, 0.0)
	}
}

// ToImage renders the current density (and, if renderHeat, temperature)
// fields into rgba, which must be sized for w*h pixels (or 2*w*h when
// renderHeat is set — heat is rendered in a side-by-side panel to the
// right of the density panel). Solid cells with zero fluid volume shade
// towards black; cells with no particles this step render flagged red.
func (s *Solver) ToImage(rgba []byte, renderHeat bool) {
	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			var idxl, idxr int
			if renderHeat {
				idxl = 4 * (x + y*s.w*2)
				idxr = 4 * (x + y*s.w*2 + s.w)
			} else {
				idxl = 4 * (x + y*s.w)
			}

			volume := s.density.Volume(x, y)

			shade := (1.0 - s.density.At(x, y)) * volume
			shade = math.Min(math.Max(shade, 0.0), 1.0)
			rgba[idxl+0] = byte(shade * 255.0)
			rgba[idxl+1] = byte(shade * 255.0)
			rgba[idxl+2] = byte(shade * 255.0)
			rgba[idxl+3] = 0xFF

			if s.density.CellAt(x, y) == CellEmpty {
				rgba[idxl+0] = 0xFF
				rgba[idxl+1] = 0
				rgba[idxl+2] = 0
			}

			if renderHeat {
				t := math.Abs(s.temperature.At(x, y)-ambientTemp) / 70.0
				t = math.Min(math.Max(t, 0.0), 1.0)

				r := 1.0 + volume*(math.Min(t*4.0, 1.0)-1.0)
				g := 1.0 + volume*(math.Min(t*2.0, 1.0)-1.0)
				b := 1.0 + volume*(math.Max(math.Min(t*4.0-3.0, 1.0), 0.0)-1.0)

				rgba[idxr+0] = byte(r * 255.0)
				rgba[idxr+1] = byte(g * 255.0)
				rgba[idxr+2] = byte(b * 255.0)
				rgba[idxr+3] = 0xFF
			}
		}
	}
}
