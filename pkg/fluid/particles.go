package fluid

import "math"

// Per-cell particle population bounds: cells with fewer than minPerCell
// particles are topped up, cells with more than maxPerCell are thinned,
// and a freshly seeded cell starts at avgPerCell.
const (
	avgPerCell = 4
	minPerCell = 3
	maxPerCell = 12
)

// particleProperty names one of the per-particle scalars carried alongside
// position, so gridToParticles/particlesToGrid can address all four
// advected quantities uniformly.
type particleProperty int

const (
	propDensity particleProperty = iota
	propTemperature
	propU
	propV
	numProperties
)

// ParticleSet is a struct-of-arrays collection of FLIP particles, each
// carrying a position (in grid-cell units, not world units — the
// same convention FluidQuantity.Lerp uses) plus a snapshot of every
// advected quantity.
type ParticleSet struct {
	posX, posY []float64
	properties [numProperties][]float64
	counts     []int

	w, h         int
	hx           float64
	maxParticles int
	bodies       []SolidBody

	rng *Source
}

// NewParticleSet builds the particle population for a w×h grid of cell
// size hx, immediately seeding avgPerCell jittered particles per cell and
// rejecting any that land inside a body.
func NewParticleSet(w, h int, hx float64, bodies []SolidBody, rng *Source) *ParticleSet {
	p := &ParticleSet{
		w: w, h: h, hx: hx,
		maxParticles: w * h * maxPerCell,
		bodies:       bodies,
		counts:       make([]int, w*h),
		rng:          rng,
	}
	p.initParticles()
	return p
}

// Len returns the number of live particles.
func (p *ParticleSet) Len() int { return len(p.posX) }

// Positions returns the live particle coordinate slices (grid-cell units)
// for diagnostics; callers must not mutate them.
func (p *ParticleSet) Positions() (x, y []float64) { return p.posX, p.posY }

func (p *ParticleSet) pointInBody(x, y float64) bool {
	for _, b := range p.bodies {
		if b.Distance(x*p.hx, y*p.hx) < 0.0 {
			return true
		}
	}
	return false
}

func (p *ParticleSet) add(x, y float64) {
	p.posX = append(p.posX, x)
	p.posY = append(p.posY, y)
	for k := range p.properties {
		p.properties[k] = append(p.properties[k], 0)
	}
}

func (p *ParticleSet) initParticles() {
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			for i := 0; i < avgPerCell; i++ {
				px := float64(x) + p.rng.Float64()
				py := float64(y) + p.rng.Float64()
				if !p.pointInBody(px, py) {
					p.add(px, py)
				}
			}
		}
	}
}

func (p *ParticleSet) countParticles() {
	for i := range p.counts {
		p.counts[i] = 0
	}
	for i := range p.posX {
		ix := int(p.posX[i])
		iy := int(p.posY[i])
		if ix >= 0 && iy >= 0 && ix < p.w && iy < p.h {
			p.counts[ix+iy*p.w]++
		}
	}
}

// pruneParticles removes particles from cells holding more than
// maxPerCell, swapping each removed particle with the current last live
// particle — O(1) per removal, order-independent to the physics. This scan
// must stay strictly serial: the swap-with-last trick depends on
// processing indices in a single pass without re-ordering.
func (p *ParticleSet) pruneParticles() {
	for i := 0; i < len(p.posX); i++ {
		ix := int(p.posX[i])
		iy := int(p.posY[i])
		idx := ix + iy*p.w

		// Never fires (the conjunction can't hold); kept to mirror the
		// behavior of boundary-cell particles always being prune candidates.
		if ix < 0 && iy < 0 && ix >= p.w && iy >= p.h {
			continue
		}

		if p.counts[idx] > maxPerCell {
			last := len(p.posX) - 1
			p.posX[i] = p.posX[last]
			p.posY[i] = p.posY[last]
			for k := range p.properties {
				p.properties[k][i] = p.properties[k][last]
			}
			p.posX = p.posX[:last]
			p.posY = p.posY[:last]
			for k := range p.properties {
				p.properties[k] = p.properties[k][:last]
			}

			p.counts[idx]--
			i--
		}
	}
}

// seedParticles tops up any cell below minPerCell, sampling each new
// particle's properties from the grid quantities at its jittered spawn
// point. Must run serially after countParticles/pruneParticles — the loop
// bails out entirely once maxParticles is reached.
func (p *ParticleSet) seedParticles(density, temperature, u, v *FluidQuantity) {
	for y, idx := 0, 0; y < p.h; y++ {
		for x := 0; x < p.w; x, idx = x+1, idx+1 {
			for i := 0; i < minPerCell-p.counts[idx]; i++ {
				if len(p.posX) == p.maxParticles {
					return
				}

				px := float64(x) + p.rng.Float64()
				py := float64(y) + p.rng.Float64()
				if p.pointInBody(px, py) {
					continue
				}

				p.add(px, py)
				j := len(p.posX) - 1
				p.properties[propDensity][j] = density.Lerp(px, py)
				p.properties[propTemperature][j] = temperature.Lerp(px, py)
				p.properties[propU][j] = u.Lerp(px, py)
				p.properties[propV][j] = v.Lerp(px, py)
			}
		}
	}
}

// ParticlesToGrid scatters every particle's properties onto the grid
// quantities, extrapolates over any cell that ended up with no particles,
// then rebalances the particle population per cell (prune crowded cells,
// seed sparse ones). weight is reusable scratch that must hold at least
// (w+1)*h and w*(h+1) entries, so it also serves the staggered u and v.
func (p *ParticleSet) ParticlesToGrid(density, temperature, u, v *FluidQuantity, weight []float64) {
	n := p.Len()
	density.FromParticles(weight, n, p.posX, p.posY, p.properties[propDensity])
	density.Extrapolate()
	temperature.FromParticles(weight, n, p.posX, p.posY, p.properties[propTemperature])
	temperature.Extrapolate()
	u.FromParticles(weight, n, p.posX, p.posY, p.properties[propU])
	u.Extrapolate()
	v.FromParticles(weight, n, p.posX, p.posY, p.properties[propV])
	v.Extrapolate()

	p.countParticles()
	p.pruneParticles()
	p.seedParticles(density, temperature, u, v)
}

// GridToParticles blends the grid's post-update values back onto every
// particle:
//
//	particle' = (1-alpha)*particle + gridValue
//
// which is pure FLIP (particle carries its own history forward, nudged by
// the grid) at alpha=0 and pure PIC (particle fully resampled from the
// grid) at alpha=1.
func (p *ParticleSet) GridToParticles(alpha float64, density, temperature, u, v *FluidQuantity) {
	keep := 1.0 - alpha
	for i := range p.posX {
		x, y := p.posX[i], p.posY[i]
		p.properties[propDensity][i] = keep*p.properties[propDensity][i] + density.Lerp(x, y)
		p.properties[propTemperature][i] = keep*p.properties[propTemperature][i] + temperature.Lerp(x, y)
		p.properties[propU][i] = keep*p.properties[propU][i] + u.Lerp(x, y)
		p.properties[propV][i] = keep*p.properties[propV][i] + v.Lerp(x, y)
	}
}

// rungeKutta3 advects (x,y) — in grid-cell units — through the velocity
// field over dt using Ralston's third-order scheme. The first two stages
// convert the sampled world-unit velocity to grid-unit velocity by
// dividing by hx before stepping; the final stage does not, carrying
// forward the reference implementation's mismatched final weighting
// verbatim rather than silently correcting it.
func rungeKutta3(x, y, dt float64, u, v *FluidQuantity, hx float64) (float64, float64) {
	firstU := u.Lerp(x, y) / hx
	firstV := v.Lerp(x, y) / hx

	midX := x + 0.5*dt*firstU
	midY := y + 0.5*dt*firstV

	midU := u.Lerp(midX, midY) / hx
	midV := v.Lerp(midX, midY) / hx

	lastX := x + 0.75*dt*midU
	lastY := y + 0.75*dt*midV

	lastU := u.Lerp(lastX, lastY)
	lastV := v.Lerp(lastX, lastY)

	x += dt * ((2.0/9.0)*firstU + (3.0/9.0)*midU + (4.0/9.0)*lastU)
	y += dt * ((2.0/9.0)*firstV + (3.0/9.0)*midV + (4.0/9.0)*lastV)
	return x, y
}

// backProject pushes a particle back out to the nearest body's surface,
// offset by one grid cell along the outward surface normal, should it end up more
// than one world unit inside a body — the reference's own (very loose)
// penetration threshold, kept as-is.
func (p *ParticleSet) backProject(x, y float64) (float64, float64) {
	wx, wy := x*p.hx, y*p.hx

	closest := -1
	d := math.Inf(1)
	for i, b := range p.bodies {
		if id := b.Distance(wx, wy); id < d {
			d = id
			closest = i
		}
	}

	if closest >= 0 && d < -1.0 {
		sx, sy := p.bodies[closest].ClosestSurfacePoint(wx, wy)
		nx, ny := p.bodies[closest].DistanceNormal(sx, sy)
		wx = sx + nx*p.hx
		wy = sy + ny*p.hx
		return wx / p.hx, wy / p.hx
	}
	return x, y
}

// Advect moves every particle through the velocity field over dt and
// clamps the result into the grid domain. Particle order is irrelevant
// here — each particle's update is independent — but is kept serial for
// the same reason as the rest of the particle bookkeeping: it runs
// alongside prune/seed passes that are not safe to parallelize.
func (p *ParticleSet) Advect(dt float64, u, v *FluidQuantity) {
	for i := range p.posX {
		x, y := rungeKutta3(p.posX[i], p.posY[i], dt, u, v, p.hx)
		x, y = p.backProject(x, y)

		p.posX[i] = math.Max(math.Min(x, float64(p.w)-0.001), 0.0)
		p.posY[i] = math.Max(math.Min(y, float64(p.h)-0.001), 0.0)
	}
}
