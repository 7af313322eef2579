package fluid

import (
	"math"
	"testing"
)

func TestInitParticlesSeedsAvgPerCell(t *testing.T) {
	p := NewParticleSet(8, 8, 1.0/8.0, nil, NewDefaultSource())

	if got, want := p.Len(), 8*8*avgPerCell; got != want {
		t.Fatalf("particle count = %d, want %d", got, want)
	}

	for i := range p.posX {
		if p.posX[i] < 0.0 || p.posX[i] >= 8.0 || p.posY[i] < 0.0 || p.posY[i] >= 8.0 {
			t.Errorf("particle %d at (%g, %g) outside the grid", i, p.posX[i], p.posY[i])
		}
	}
}

func TestInitParticlesRejectsSolidInterior(t *testing.T) {
	bodies := []SolidBody{NewSphere(0.5, 0.5, 0.5, 0.0, 0.0, 0.0, 0.0)}
	p := NewParticleSet(8, 8, 1.0/8.0, bodies, NewDefaultSource())

	if p.Len() >= 8*8*avgPerCell {
		t.Fatal("no particles were rejected despite a large solid body")
	}
	for i := range p.posX {
		if p.pointInBody(p.posX[i], p.posY[i]) {
			t.Errorf("particle %d at (%g, %g) inside a body", i, p.posX[i], p.posY[i])
		}
	}
}

func TestPruneParticlesEnforcesMaxPerCell(t *testing.T) {
	p := NewParticleSet(4, 4, 0.25, nil, NewDefaultSource())

	// Cram every particle into cell (0, 0).
	for i := range p.posX {
		p.posX[i] = 0.5
		p.posY[i] = 0.5
	}

	p.countParticles()
	p.pruneParticles()
	p.countParticles()

	for idx, c := range p.counts {
		if c > maxPerCell {
			t.Errorf("cell %d holds %d particles after pruning, max is %d", idx, c, maxPerCell)
		}
	}
	if p.Len() != maxPerCell {
		t.Errorf("live particles = %d, want %d", p.Len(), maxPerCell)
	}
}

func TestSeedParticlesTopsUpSparseCells(t *testing.T) {
	p := NewParticleSet(4, 4, 0.25, nil, NewDefaultSource())
	for i := range p.posX {
		p.posX[i] = 0.5
		p.posY[i] = 0.5
	}
	p.countParticles()
	p.pruneParticles()

	density := NewFluidQuantity(4, 4, 0.5, 0.5, 0.25)
	temperature := NewFluidQuantity(4, 4, 0.5, 0.5, 0.25)
	u := NewFluidQuantity(5, 4, 0.0, 0.5, 0.25)
	v := NewFluidQuantity(4, 5, 0.5, 0.0, 0.25)
	for i := range temperature.src {
		temperature.src[i] = ambientTemp
	}

	p.seedParticles(density, temperature, u, v)
	p.countParticles()

	for idx, c := range p.counts {
		if c < minPerCell {
			t.Errorf("cell %d holds %d particles after seeding, min is %d", idx, c, minPerCell)
		}
	}

	// New particles sample their properties from the grid.
	for i := 0; i < p.Len(); i++ {
		if got := p.properties[propTemperature][i]; p.posX[i] > 1.0 && math.Abs(got-ambientTemp) > 1e-12 {
			t.Errorf("seeded particle %d temperature = %g, want %g", i, got, ambientTemp)
		}
	}
}

func TestSeedParticlesStopsAtMaxParticles(t *testing.T) {
	p := NewParticleSet(4, 4, 0.25, nil, NewDefaultSource())

	// Fake a full population so the seeder must bail out silently.
	for p.Len() < p.maxParticles {
		p.add(0.5, 0.5)
	}
	p.countParticles()

	density := NewFluidQuantity(4, 4, 0.5, 0.5, 0.25)
	temperature := NewFluidQuantity(4, 4, 0.5, 0.5, 0.25)
	u := NewFluidQuantity(5, 4, 0.0, 0.5, 0.25)
	v := NewFluidQuantity(4, 5, 0.5, 0.0, 0.25)
	p.seedParticles(density, temperature, u, v)

	if p.Len() != p.maxParticles {
		t.Errorf("particle count = %d, want exactly %d", p.Len(), p.maxParticles)
	}
}

// TestAdvectUniformField pins the RK3 integrator on a constant velocity
// field, including the final stage reading the velocity without the 1/hx
// normalization the first two stages apply.
func TestAdvectUniformField(t *testing.T) {
	const hx = 1.0 / 8.0
	u := NewFluidQuantity(9, 8, 0.0, 0.5, hx)
	v := NewFluidQuantity(8, 9, 0.5, 0.0, hx)
	const u0, v0 = 0.5, -0.25
	for i := range u.src {
		u.src[i] = u0
	}
	for i := range v.src {
		v.src[i] = v0
	}

	p := NewParticleSet(8, 8, hx, nil, NewDefaultSource())

	// Track a particle well away from the domain clamp.
	probe := -1
	for i := range p.posX {
		if p.posX[i] > 2.0 && p.posX[i] < 6.0 && p.posY[i] > 2.0 && p.posY[i] < 6.0 {
			probe = i
			break
		}
	}
	if probe < 0 {
		t.Fatal("no interior particle found")
	}
	x0, y0 := p.posX[probe], p.posY[probe]

	const dt = 0.01
	p.Advect(dt, u, v)

	wantDX := dt * ((2.0/9.0)*u0/hx + (3.0/9.0)*u0/hx + (4.0/9.0)*u0)
	wantDY := dt * ((2.0/9.0)*v0/hx + (3.0/9.0)*v0/hx + (4.0/9.0)*v0)

	if d := math.Abs(p.posX[probe] - (x0 + wantDX)); d > 1e-12 {
		t.Errorf("x displacement off by %g", d)
	}
	if d := math.Abs(p.posY[probe] - (y0 + wantDY)); d > 1e-12 {
		t.Errorf("y displacement off by %g", d)
	}
}

func TestAdvectClampsToDomain(t *testing.T) {
	const hx = 1.0 / 8.0
	u := NewFluidQuantity(9, 8, 0.0, 0.5, hx)
	v := NewFluidQuantity(8, 9, 0.5, 0.0, hx)
	for i := range u.src {
		u.src[i] = 100.0
	}

	p := NewParticleSet(8, 8, hx, nil, NewDefaultSource())
	p.Advect(1.0, u, v)

	for i := range p.posX {
		if p.posX[i] < 0.0 || p.posX[i] > 8.0-0.001 {
			t.Fatalf("particle %d escaped to x=%g", i, p.posX[i])
		}
	}
}

// TestBackProject checks the deep-penetration recovery path: the particle
// snaps to the closest surface point, offset one cell width along the
// normal.
func TestBackProject(t *testing.T) {
	const hx = 1.0 / 8.0
	bodies := []SolidBody{NewSphere(0.5, 0.5, 6.0, 0.0, 0.0, 0.0, 0.0)}
	p := &ParticleSet{w: 8, h: 8, hx: hx, bodies: bodies}

	// Grid point (4, 4) is the sphere's center, 3 world units deep.
	gx, gy := p.backProject(4.0, 4.0)

	// Degenerate center query picks the (+x) surface point (3.5, 0.5),
	// then steps one cell width out along the (1, 0) normal.
	wantX := (3.5 + hx) / hx
	if math.Abs(gx-wantX) > 1e-9 || math.Abs(gy-0.5/hx) > 1e-9 {
		t.Errorf("back-projected to (%g, %g), want (%g, %g)", gx, gy, wantX, 0.5/hx)
	}
}

func TestGridToParticlesPurePIC(t *testing.T) {
	const hx = 1.0 / 4.0
	density := NewFluidQuantity(4, 4, 0.5, 0.5, hx)
	temperature := NewFluidQuantity(4, 4, 0.5, 0.5, hx)
	u := NewFluidQuantity(5, 4, 0.0, 0.5, hx)
	v := NewFluidQuantity(4, 5, 0.5, 0.0, hx)
	for i := range density.src {
		density.src[i] = 2.5
	}

	p := NewParticleSet(4, 4, hx, nil, NewDefaultSource())
	for i := range p.properties[propDensity] {
		p.properties[propDensity][i] = -100.0 // must be fully replaced
	}

	p.GridToParticles(1.0, density, temperature, u, v)

	for i := range p.properties[propDensity] {
		if d := math.Abs(p.properties[propDensity][i] - 2.5); d > 1e-12 {
			t.Fatalf("particle %d density = %g, want 2.5", i, p.properties[propDensity][i])
		}
	}
}
