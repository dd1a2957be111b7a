// Package eye turns eye-region landmarks into a per-frame openness ratio.
package eye

import "math"

// PointsPerEye is the number of landmarks describing one eye contour.
// Order: outer corner, two upper-lid points, inner corner, two lower-lid points.
const PointsPerEye = 6

// SaturatedRatio is returned for an eye whose corners coincide. It reads as
// wide open so a malformed landmark set never registers a closure.
const SaturatedRatio = 1.0

// minHorizontal is the corner distance below which an eye is degenerate.
const minHorizontal = 1e-6

// Face-mesh indices of the six contour points of each eye.
var (
	LeftEyeIndices  = [PointsPerEye]int{33, 160, 158, 133, 153, 144}
	RightEyeIndices = [PointsPerEye]int{362, 385, 387, 263, 373, 380}
)

type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

type Eye [PointsPerEye]Point

// Landmarks holds both eyes of the primary subject for a single frame.
type Landmarks struct {
	Left  Eye
	Right Eye
}

// FromMesh picks the eye contours out of a full face mesh. It reports false
// when the mesh is too short to contain every eye index.
func FromMesh(mesh []Point) (Landmarks, bool) {
	var l Landmarks
	for i := 0; i < PointsPerEye; i++ {
		li, ri := LeftEyeIndices[i], RightEyeIndices[i]
		if li >= len(mesh) || ri >= len(mesh) {
			return Landmarks{}, false
		}
		l.Left[i] = mesh[li]
		l.Right[i] = mesh[ri]
	}
	return l, true
}

// Scale converts normalized [0,1] coordinates into pixel coordinates of a
// width x height frame, rounding to whole pixels.
func (l Landmarks) Scale(width, height int) Landmarks {
	scale := func(e Eye) Eye {
		var out Eye
		for i, p := range e {
			out[i] = Point{
				X: math.Round(p.X * float64(width)),
				Y: math.Round(p.Y * float64(height)),
			}
		}
		return out
	}
	return Landmarks{Left: scale(l.Left), Right: scale(l.Right)}
}

// AspectRatio computes (|p1-p5| + |p2-p4|) / (2 |p0-p3|) for one eye.
func AspectRatio(e Eye) float64 {
	horizontal := e[0].Dist(e[3])
	if horizontal < minHorizontal {
		return SaturatedRatio
	}
	vertical := e[1].Dist(e[5]) + e[2].Dist(e[4])
	return vertical / (2 * horizontal)
}

// Openness returns the mean aspect ratio of both eyes. A nil landmark set
// means no face was found this frame and yields ok == false.
func Openness(l *Landmarks) (ratio float64, ok bool) {
	if l == nil {
		return 0, false
	}
	return (AspectRatio(l.Left) + AspectRatio(l.Right)) / 2, true
}
