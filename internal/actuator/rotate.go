package actuator

import "math"

const twoPi = 2 * math.Pi

// AngleEpsilon is the tolerance, in radians, under which a rotor counts as
// already being at its target.
const AngleEpsilon = 1e-4

func Radians(deg float64) float64 { return deg * math.Pi / 180 }
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

// AreSimilar reports whether a and b differ by less than eps.
func AreSimilar(a, b, eps float64) bool { return math.Abs(a-b) < eps }

// Lerp interpolates between from and to by t.
func Lerp(from, to, t float64) float64 { return from*(1-t) + to*t }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func positive(a float64) float64 {
	if a < 0 {
		return a + twoPi
	}
	return a
}

// RotateToAngle drives r toward target (radians) at rpm along the shortest
// path that stays inside the rotor's limits. The limit on the side of travel
// is moved onto the goal so the rotor stops there by itself. It returns
// false, without touching the rotor, when r is already at the target.
func RotateToAngle(r Rotor, target, rpm float64) bool {
	current := r.Angle()
	lower, upper := r.LowerLimit(), r.UpperLimit()
	goal := clamp(math.Mod(target, twoPi), lower, upper)
	if AreSimilar(positive(math.Mod(current, twoPi)), positive(goal), AngleEpsilon) {
		return false
	}
	r.SetLocked(false)

	delta := math.Mod(positive(goal)-positive(math.Mod(current, twoPi))+twoPi, twoPi)
	forward := current + delta
	backward := current - (twoPi - delta)

	sign, final := 1.0, forward
	if delta >= math.Pi {
		sign, final = -1, backward
	}
	// Never travel through a limit; go the long way instead.
	if sign > 0 && forward > upper+AngleEpsilon {
		sign, final = -1, backward
	} else if sign < 0 && backward < lower-AngleEpsilon {
		sign, final = 1, forward
	}

	if sign > 0 {
		r.SetUpperLimit(final)
	} else {
		r.SetLowerLimit(final)
	}
	r.SetTargetVelocity(sign * math.Abs(rpm))
	return true
}

// RotateToDegrees is RotateToAngle with the target in degrees.
func RotateToDegrees(r Rotor, deg, rpm float64) bool {
	return RotateToAngle(r, Radians(deg), rpm)
}

// IsAtAngle reports whether r is within eps radians of deg degrees.
func IsAtAngle(r Rotor, deg, eps float64) bool {
	return math.Abs(r.Angle()-Radians(deg)) < eps
}

func IsBelowAngle(r Rotor, deg float64) bool { return r.Angle() < Radians(deg) }
func IsAboveAngle(r Rotor, deg float64) bool { return r.Angle() > Radians(deg) }
