package fluid

import "fmt"

// ScalarField is a read-only, bounds-checked view onto one of the
// solver's cell-centered quantities (density or temperature), meant for
// a host to inspect or render without reaching into solver internals.
type ScalarField struct {
	numX, numY int
	values     []float64
}

// Value returns the field's sample at cell (i,j).
func (s ScalarField) Value(i, j int) (float64, error) {
	if i < 0 || i >= s.numX {
		return 0.0, fmt.Errorf("x index out of range, must be between 0 and %d", s.numX-1)
	}
	if j < 0 || j >= s.numY {
		return 0.0, fmt.Errorf("y index out of range, must be between 0 and %d", s.numY-1)
	}
	return s.values[i+j*s.numX], nil
}

// VectorField is a read-only, bounds-checked view onto the solver's
// staggered velocity components, resampled onto a single numX×numY grid
// of cell-center lerps so a host doesn't need to know about MAC staggering
// to draw velocity glyphs.
type VectorField struct {
	numX, numY       int
	valuesU, valuesV []float64
}

// Value returns the field's (u,v) sample at cell (i,j).
func (v VectorField) Value(i, j int) (float64, float64, error) {
	if i < 0 || i >= v.numX {
		return 0.0, 0.0, fmt.Errorf("x index out of range, must be between 0 and %d", v.numX-1)
	}
	if j < 0 || j >= v.numY {
		return 0.0, 0.0, fmt.Errorf("y index out of range, must be between 0 and %d", v.numY-1)
	}
	return v.valuesU[i+j*v.numX], v.valuesV[i+j*v.numX], nil
}

// Density returns a read-only view of the current soot density field.
func (s *Solver) Density() ScalarField {
	return ScalarField{numX: s.w, numY: s.h, values: s.density.src}
}

// Temperature returns a read-only view of the current temperature field.
func (s *Solver) Temperature() ScalarField {
	return ScalarField{numX: s.w, numY: s.h, values: s.temperature.src}
}

// Velocity returns a read-only view of the velocity field, resampled from
// the staggered u/v faces onto cell centers.
func (s *Solver) Velocity() VectorField {
	vf := VectorField{
		numX: s.w, numY: s.h,
		valuesU: make([]float64, s.w*s.h),
		valuesV: make([]float64, s.w*s.h),
	}
	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			idx := x + y*s.w
			vf.valuesU[idx] = 0.5 * (s.u.At(x, y) + s.u.At(x+1, y))
			vf.valuesV[idx] = 0.5 * (s.v.At(x, y) + s.v.At(x, y+1))
		}
	}
	return vf
}

// ParticleCount returns the number of live FLIP particles, a useful
// diagnostic for a host's HUD.
func (s *Solver) ParticleCount() int { return s.particles.Len() }

// Particles returns the current particle positions in world units,
// suitable for a host to scatter-plot over the rendered grid.
func (s *Solver) Particles() (x, y []float64) {
	px, py := s.particles.Positions()
	wx := make([]float64, len(px))
	wy := make([]float64, len(py))
	for i := range px {
		wx[i] = px[i] * s.hx
		wy[i] = py[i] * s.hx
	}
	return wx, wy
}
