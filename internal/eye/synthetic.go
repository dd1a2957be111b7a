package eye

// ForRatio builds a normalized eye contour centred on (cx, cy) whose aspect
// ratio, once scaled to a width x height frame, equals ratio. halfWidth is
// the normalized distance from the centre to each corner.
func ForRatio(cx, cy, halfWidth, ratio float64, width, height int) Eye {
	lid := ratio * halfWidth
	if width > 0 && height > 0 {
		lid = lid * float64(width) / float64(height)
	}
	inner := halfWidth / 3
	return Eye{
		{X: cx - halfWidth, Y: cy},
		{X: cx - inner, Y: cy - lid},
		{X: cx + inner, Y: cy - lid},
		{X: cx + halfWidth, Y: cy},
		{X: cx + inner, Y: cy + lid},
		{X: cx - inner, Y: cy + lid},
	}
}

// FaceForRatio places both eyes of a synthetic face at the given ratio.
func FaceForRatio(ratio float64, width, height int) Landmarks {
	return Landmarks{
		Left:  ForRatio(0.35, 0.4, 0.1, ratio, width, height),
		Right: ForRatio(0.65, 0.4, 0.1, ratio, width, height),
	}
}
