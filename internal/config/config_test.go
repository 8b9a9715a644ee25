package config

import "testing"

func TestLoad_defaults(t *testing.T) {
	c := Load()
	if c.FPS != 30 || c.FPSMax != 30 {
		t.Errorf("fps defaults: %d/%d", c.FPS, c.FPSMax)
	}
	if c.BufferMS != 500 {
		t.Errorf("buffer_ms default: %d", c.BufferMS)
	}
	if c.PenaltyDivisor != 4 {
		t.Errorf("penalty divisor default: %d", c.PenaltyDivisor)
	}
}

func TestConfig_ClampFPS(t *testing.T) {
	c := &Config{FPSMax: 30}
	cases := map[int]int{
		0:   1,
		-5:  1,
		15:  15,
		30:  30,
		100: 30,
	}
	for in, want := range cases {
		if got := c.ClampFPS(in); got != want {
			t.Errorf("ClampFPS(%d) = %d, want %d", in, got, want)
		}
	}
}
