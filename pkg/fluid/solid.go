package fluid

import "math"

// SolidBody is the capability set every rigid obstacle exposes to the
// solver. Distance is negative inside the body, zero on its surface,
// positive outside.
type SolidBody interface {
	Distance(x, y float64) float64
	ClosestSurfacePoint(x, y float64) (float64, float64)
	DistanceNormal(x, y float64) (float64, float64)
	VelocityX(x, y float64) float64
	VelocityY(x, y float64) float64
	Update(dt float64)
}

// Pose is the shared rigid-body state (position, orientation, scale,
// velocity) that every SolidBody variant embeds.
type Pose struct {
	PosX, PosY     float64
	ScaleX, ScaleY float64
	Theta          float64

	VelX, VelY, VelTheta float64
}

func rotate(x, y, phi float64) (float64, float64) {
	s, c := math.Sin(phi), math.Cos(phi)
	return c*x + s*y, -s*x + c*y
}

func (p *Pose) globalToLocal(x, y float64) (float64, float64) {
	x -= p.PosX
	y -= p.PosY
	x, y = rotate(x, y, -p.Theta)
	return x / p.ScaleX, y / p.ScaleY
}

func (p *Pose) localToGlobal(x, y float64) (float64, float64) {
	x *= p.ScaleX
	y *= p.ScaleY
	x, y = rotate(x, y, p.Theta)
	return x + p.PosX, y + p.PosY
}

// VelocityX is the x-component of the rigid body's velocity at world point
// (x,y), treating the body as rotating rigidly about its pose.
func (p *Pose) VelocityX(x, y float64) float64 {
	return (p.PosY-y)*p.VelTheta + p.VelX
}

// VelocityY is the y-component of the rigid body's velocity at (x,y).
func (p *Pose) VelocityY(x, y float64) float64 {
	return (x-p.PosX)*p.VelTheta + p.VelY
}

// Update integrates the body's pose forward by dt using its constant
// linear/angular velocity.
func (p *Pose) Update(dt float64) {
	p.PosX += p.VelX * dt
	p.PosY += p.VelY * dt
	p.Theta += p.VelTheta * dt
}

func nsgn(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Box is an axis-aligned (in its own rotated frame) rectangular solid of
// size (ScaleX, ScaleY) centered on its pose.
type Box struct {
	Pose
}

// NewBox builds a box obstacle centered at (x,y), of size (sx,sy), rotated
// by theta, with the given rigid-body velocity.
func NewBox(x, y, sx, sy, theta, vx, vy, vtheta float64) *Box {
	return &Box{Pose{PosX: x, PosY: y, ScaleX: sx, ScaleY: sy, Theta: theta,
		VelX: vx, VelY: vy, VelTheta: vtheta}}
}

func (b *Box) Distance(x, y float64) float64 {
	x -= b.PosX
	y -= b.PosY
	x, y = rotate(x, y, -b.Theta)
	dx := math.Abs(x) - b.ScaleX*0.5
	dy := math.Abs(y) - b.ScaleY*0.5

	if dx >= 0.0 || dy >= 0.0 {
		return math.Hypot(math.Max(dx, 0.0), math.Max(dy, 0.0))
	}
	return math.Max(dx, dy)
}

func (b *Box) ClosestSurfacePoint(x, y float64) (float64, float64) {
	x -= b.PosX
	y -= b.PosY
	x, y = rotate(x, y, -b.Theta)
	dx := math.Abs(x) - b.ScaleX*0.5
	dy := math.Abs(y) - b.ScaleY*0.5

	if dx > dy {
		x = nsgn(x) * 0.5 * b.ScaleX
	} else {
		y = nsgn(y) * 0.5 * b.ScaleY
	}

	x, y = rotate(x, y, b.Theta)
	return x + b.PosX, y + b.PosY
}

func (b *Box) DistanceNormal(x, y float64) (float64, float64) {
	x -= b.PosX
	y -= b.PosY
	x, y = rotate(x, y, -b.Theta)

	var nx, ny float64
	if math.Abs(x)-b.ScaleX*0.5 > math.Abs(y)-b.ScaleY*0.5 {
		nx, ny = nsgn(x), 0.0
	} else {
		nx, ny = 0.0, nsgn(y)
	}
	return rotate(nx, ny, b.Theta)
}

// Sphere is a circular solid of diameter ScaleX (ScaleY is kept equal to
// ScaleX, matching the reference's SolidSphere construction).
type Sphere struct {
	Pose
}

// NewSphere builds a circular obstacle centered at (x,y) with diameter s.
func NewSphere(x, y, s, theta, vx, vy, vtheta float64) *Sphere {
	return &Sphere{Pose{PosX: x, PosY: y, ScaleX: s, ScaleY: s, Theta: theta,
		VelX: vx, VelY: vy, VelTheta: vtheta}}
}

func (s *Sphere) Distance(x, y float64) float64 {
	return math.Hypot(x-s.PosX, y-s.PosY) - s.ScaleX*0.5
}

func (s *Sphere) ClosestSurfacePoint(x, y float64) (float64, float64) {
	lx, ly := s.globalToLocal(x, y)

	r := math.Hypot(lx, ly)
	if r < 1e-4 {
		lx, ly = 0.5, 0.0
	} else {
		lx, ly = lx/(2.0*r), ly/(2.0*r)
	}
	return s.localToGlobal(lx, ly)
}

func (s *Sphere) DistanceNormal(x, y float64) (float64, float64) {
	x -= s.PosX
	y -= s.PosY
	r := math.Hypot(x, y)
	if r < 1e-4 {
		return 1.0, 0.0
	}
	return x / r, y / r
}
