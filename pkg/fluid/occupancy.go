package fluid

// triangleOccupancy returns the fraction of a right triangle's bounding
// cell that lies inside the solid, given the two "outside" corner distances
// and the one "inside" corner distance along the cut edges.
func triangleOccupancy(out1, in, out2 float64) float64 {
	return 0.5 * in * in / ((out1 - in) * (out2 - in))
}

// trapezoidOccupancy returns the fraction of a trapezoid-shaped cut region
// inside the solid, given the two outside and two inside corner distances.
func trapezoidOccupancy(out1, out2, in1, in2 float64) float64 {
	return 0.5 * (-in1/(out1-in1) - in2/(out2-in2))
}

// Occupancy returns the fraction of a unit cell's area with negative
// (inside-solid) signed distance, given the four corner distances in
// (d11=(0,0), d12=(1,0), d21=(0,1), d22=(1,1)) order. It classifies the
// cell by the 4-bit sign pattern of its corners and dispatches to the
// appropriate closed-form area formula.
func Occupancy(d11, d12, d21, d22 float64) float64 {
	ds := [4]float64{d11, d12, d22, d21}

	var b uint8
	for i := 3; i >= 0; i-- {
		b <<= 1
		if ds[i] < 0.0 {
			b |= 1
		}
	}

	switch b {
	case 0x0:
		return 0.0

	case 0x1:
		return triangleOccupancy(d21, d11, d12)
	case 0x2:
		return triangleOccupancy(d11, d12, d22)
	case 0x4:
		return triangleOccupancy(d12, d22, d21)
	case 0x8:
		return triangleOccupancy(d22, d21, d11)

	case 0xE:
		return 1.0 - triangleOccupancy(-d21, -d11, -d12)
	case 0xD:
		return 1.0 - triangleOccupancy(-d11, -d12, -d22)
	case 0xB:
		return 1.0 - triangleOccupancy(-d12, -d22, -d21)
	case 0x7:
		return 1.0 - triangleOccupancy(-d22, -d21, -d11)

	case 0x3:
		return trapezoidOccupancy(d21, d22, d11, d12)
	case 0x6:
		return trapezoidOccupancy(d11, d21, d12, d22)
	case 0x9:
		return trapezoidOccupancy(d12, d22, d11, d21)
	case 0xC:
		return trapezoidOccupancy(d11, d12, d21, d22)

	case 0x5:
		return triangleOccupancy(d11, d12, d22) + triangleOccupancy(d22, d21, d11)
	case 0xA:
		return triangleOccupancy(d21, d11, d12) + triangleOccupancy(d12, d22, d21)

	case 0xF:
		return 1.0
	}

	return 0.0
}
