package mathx

// FloorDivF returns floor(a/b) as an int for a float position and a positive span.
func FloorDivF(a, b float32) int {
	q := a / b
	i := int(q)
	if float32(i) > q {
		i--
	}
	return i
}
