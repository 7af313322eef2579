package fluid

import (
	"math"
	"testing"
)

// maxFaceSpeed returns the largest velocity magnitude on either staggered
// component.
func maxFaceSpeed(s *Solver) float64 {
	m := 0.0
	for _, v := range s.u.src {
		m = math.Max(m, math.Abs(v))
	}
	for _, v := range s.v.src {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func divergence(s *Solver, x, y int) float64 {
	return (s.u.At(x+1, y) - s.u.At(x, y) + s.v.At(x, y+1) - s.v.At(x, y)) / s.hx
}

// TestStaticPool fills a closed box with uniform smoke at rest and checks
// that nothing drifts: no buoyancy (soot density matches air, ambient
// temperature), no inflow, no bodies.
func TestStaticPool(t *testing.T) {
	s := NewSolver(16, 16, 1.0, 1.0, 0.0, nil)
	for i := range s.density.src {
		s.density.src[i] = 1.0
	}
	s.particles.GridToParticles(1.0, s.density, s.temperature, s.u, s.v)

	for step := 0; step < 100; step++ {
		s.Update(0.01)
	}

	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if d := math.Abs(s.density.At(x, y) - 1.0); d > 1e-3 {
				t.Errorf("density at (%d, %d) drifted to %g", x, y, s.density.At(x, y))
			}
		}
	}
	if m := maxFaceSpeed(s); m > 1e-5 {
		t.Errorf("spurious velocity %g in a static pool", m)
	}
}

// TestDivergenceKill checks that a single pressure projection removes the
// divergence of a velocity jump down to solver tolerance.
func TestDivergenceKill(t *testing.T) {
	s := NewSolver(8, 8, 1.0, 1.0, 0.0, nil)
	for y := 0; y < 8; y++ {
		s.u.SetAt(4, y, 1.0)
	}

	s.setBoundaryCondition()
	s.project(0.01)
	s.setBoundaryCondition()

	maxDiv := 0.0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			maxDiv = math.Max(maxDiv, math.Abs(divergence(s, x, y)))
		}
	}
	if limit := 1e-4 / s.hx; maxDiv > limit {
		t.Errorf("max divergence %g after projection, want below %g", maxDiv, limit)
	}
}

// TestBuoyantPlume injects hot smoke near the bottom of the domain and
// checks that the column rises (negative v, with image-space y pointing
// down) and that smoke piles up near the top.
func TestBuoyantPlume(t *testing.T) {
	if testing.Short() {
		t.Skip("long scenario")
	}

	s := NewSolver(32, 32, 0.1, 0.1, 0.01, nil)
	const dt = 0.005
	for step := 0; step < 200; step++ {
		s.AddInflow(0.35, 0.9, 0.1, 0.05, 1.0, s.AmbientTemp()+300.0, 0.0, 0.0)
		s.Update(dt)
	}

	columnV := 0.0
	for x := 11; x <= 13; x++ {
		columnV += s.v.At(x, 16)
	}
	columnV /= 3.0
	if columnV >= 0.0 {
		t.Errorf("plume column v = %g at mid height, want negative (rising)", columnV)
	}

	topD, bottomD := 0.0, 0.0
	for x := 0; x < 32; x++ {
		topD += s.density.At(x, 0)
		bottomD += s.density.At(x, 31)
	}
	if topD <= bottomD {
		t.Errorf("top-row density %g not above bottom-row density %g", topD/32, bottomD/32)
	}
}

// TestRotatingBoxGeometry spins a thin box through the fluid and checks
// that the per-cell fluid volumes track the occupancy kernel on freshly
// sampled corner distances, and that the solid/volume classification
// invariant holds.
func TestRotatingBoxGeometry(t *testing.T) {
	if testing.Short() {
		t.Skip("long scenario")
	}

	box := NewBox(0.5, 0.6, 0.7, 0.1, math.Pi/4, 0.0, 0.0, 0.5)
	bodies := []SolidBody{box}
	s := NewSolver(64, 64, 0.1, 0.25, 0.01, bodies)

	const dt = 0.005
	for step := 0; step < 50; step++ {
		s.Update(dt)
		box.Update(dt)
	}
	s.density.FillSolidFields(bodies)

	d := s.density
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			idx := d.idx(x, y)

			corner := func(ix, iy int) float64 {
				px := (float64(ix) + d.ox - 0.5) * d.hx
				py := (float64(iy) + d.oy - 0.5) * d.hx
				return box.Distance(px, py)
			}
			want := 1.0 - Occupancy(corner(x, y), corner(x+1, y), corner(x, y+1), corner(x+1, y+1))
			if want < 0.01 {
				want = 0.0
			}

			if diff := math.Abs(d.volume[idx] - want); diff > 1e-3 {
				t.Errorf("volume at (%d, %d) = %g, fresh occupancy gives %g", x, y, d.volume[idx], want)
			}

			solid := d.cell[idx] == CellSolid
			if solid != (d.volume[idx] == 0.0) {
				t.Errorf("cell (%d, %d): solid=%v but volume=%g", x, y, solid, d.volume[idx])
			}
		}
	}
}

// TestUpdateLeavesNoEmptyCells checks that a full step never exposes a cell
// still tagged Empty: extrapolation reclassifies every one.
func TestUpdateLeavesNoEmptyCells(t *testing.T) {
	bodies := []SolidBody{NewSphere(0.5, 0.5, 0.3, 0.0, 0.0, 0.0, 0.0)}
	s := NewSolver(16, 16, 0.1, 0.25, 0.01, bodies)

	s.AddInflow(0.4, 0.8, 0.2, 0.1, 1.0, s.AmbientTemp()+200.0, 0.0, 0.0)
	s.Update(0.005)

	for name, q := range map[string]*FluidQuantity{
		"density": s.density, "temperature": s.temperature, "u": s.u, "v": s.v,
	} {
		for i, c := range q.cell {
			if c == CellEmpty {
				t.Errorf("%s cell %d still Empty after a full step", name, i)
			}
		}
	}
}

// TestInflowDeferredToUpdate checks that a queued inflow survives the
// particle scatter: it must land between the grid snapshot and the FLIP
// diff to have any effect.
func TestInflowDeferredToUpdate(t *testing.T) {
	s := NewSolver(16, 16, 0.1, 0.1, 0.0, nil)

	s.AddInflow(0.25, 0.25, 0.5, 0.5, 1.0, s.AmbientTemp(), 0.0, 0.0)

	// The stamp is deferred, so the grid is untouched until Update runs.
	for i, v := range s.density.src {
		if v != 0.0 {
			t.Fatalf("density[%d] = %g before Update, want 0", i, v)
		}
	}

	s.Update(0.005)

	total := 0.0
	for _, v := range s.density.src {
		total += v
	}
	if total <= 0.0 {
		t.Error("inflow left no density on the grid after Update")
	}
}

func TestAmbientTemp(t *testing.T) {
	s := NewSolver(4, 4, 1.0, 1.0, 0.0, nil)
	if got := s.AmbientTemp(); got != 294.0 {
		t.Errorf("AmbientTemp() = %g, want 294", got)
	}
}

func TestToImageDensityPanel(t *testing.T) {
	s := NewSolver(4, 4, 1.0, 1.0, 0.0, nil)
	rgba := make([]byte, 4*4*4)
	s.ToImage(rgba, false)

	// Clear fluid, zero smoke: shade = (1-0)*1 = 1 -> white, opaque.
	for i := 0; i < len(rgba); i += 4 {
		if rgba[i] != 255 || rgba[i+1] != 255 || rgba[i+2] != 255 || rgba[i+3] != 0xFF {
			t.Fatalf("pixel %d = (%d, %d, %d, %d), want opaque white",
				i/4, rgba[i], rgba[i+1], rgba[i+2], rgba[i+3])
		}
	}
}

func TestToImageHeatPanel(t *testing.T) {
	s := NewSolver(4, 4, 1.0, 1.0, 0.0, nil)
	rgba := make([]byte, 4*4*4*2)
	s.ToImage(rgba, true)

	// At ambient temperature the heat panel (right half) is black; the
	// density panel (left half) stays white.
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			l := 4 * (x + y*8 + 4)
			r := 4 * (x + y*8)
			if rgba[l] != 0 || rgba[l+1] != 0 || rgba[l+2] != 0 {
				t.Errorf("heat pixel (%d, %d) = (%d, %d, %d), want black", x, y, rgba[l], rgba[l+1], rgba[l+2])
			}
			if rgba[r] != 255 || rgba[r+1] != 255 || rgba[r+2] != 255 {
				t.Errorf("density pixel (%d, %d) = (%d, %d, %d), want white", x, y, rgba[r], rgba[r+1], rgba[r+2])
			}
		}
	}
}
