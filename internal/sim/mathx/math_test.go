package mathx

import "testing"

func TestFloorDivF(t *testing.T) {
	cases := []struct {
		a, b float32
		want int
	}{
		{-0.5, 31, -1},
		{62, 31, 2},
		{30.9, 31, 0},
		{-31, 31, -1},
		{0, 31, 0},
	}
	for _, c := range cases {
		if got := FloorDivF(c.a, c.b); got != c.want {
			t.Fatalf("FloorDivF(%v,%v)=%d want %d", c.a, c.b, got, c.want)
		}
	}
}
