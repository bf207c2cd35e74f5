package math

import (
	"github.com/chewxy/math32"
	"golang.org/x/exp/constraints"
)

const (
	/** @brief An approximate representation of PI. */
	K_PI float32 = math32.Pi
	/** @brief An approximate representation of PI multiplied by 2. */
	K_PI_2 float32 = 2.0 * K_PI
	/** @brief An approximate representation of PI divided by 2. */
	K_HALF_PI float32 = 0.5 * K_PI
	/** @brief A multiplier used to convert degrees to radians. */
	K_DEG2RAD_MULTIPLIER float32 = K_PI / 180.0
	/** @brief A huge number that should be larger than any valid number used. */
	K_INFINITY float32 = 1e30
	/** @brief Smallest positive number where 1.0 + FLOAT_EPSILON != 0 */
	K_FLOAT_EPSILON float32 = 1.192092896e-07
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// DivRoundUp is the integer ceil(value / divisor), used to size dispatches.
func DivRoundUp[T constraints.Integer](value, divisor T) T {
	return (value + divisor - 1) / divisor
}

func DegToRad(degrees float32) float32 {
	return degrees * K_DEG2RAD_MULTIPLIER
}

func Lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

func Sin(x float32) float32  { return math32.Sin(x) }
func Cos(x float32) float32  { return math32.Cos(x) }
func Tan(x float32) float32  { return math32.Tan(x) }
func Sqrt(x float32) float32 { return math32.Sqrt(x) }
func Abs(x float32) float32  { return math32.Abs(x) }
func Pow(x, y float32) float32 {
	return math32.Pow(x, y)
}
