package skymap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/afikmenashe/gocart/internal/healpix"
	"github.com/cockroachdb/errors"
)

func TestStats_Areas(t *testing.T) {
	// Three dominant base pixels: cumulative probability 0.45, 0.75, 0.95.
	area := healpix.PixelArea(1)
	probs := []float64{0.45, 0.3, 0.2}
	for i := 0; i < 9; i++ {
		probs = append(probs, 0.05/9)
	}
	pixels := make([]Pixel, len(probs))
	for i, p := range probs {
		pixels[i] = Pixel{Level: 0, IPix: uint64(i), ProbDensity: p / area}
	}

	stats, err := Stats(pixels)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	deg2 := healpix.PixelAreaDeg2(1)
	if stats.Area10 != 0 {
		t.Errorf("Area10 = %v, want 0", stats.Area10)
	}
	if want := round3(deg2); stats.Area50 != want {
		t.Errorf("Area50 = %v, want %v", stats.Area50, want)
	}
	if want := round3(2 * deg2); stats.Area90 != want {
		t.Errorf("Area90 = %v, want %v", stats.Area90, want)
	}
	if !approxEqual(stats.TotalProbability, 1, 1e-12) {
		t.Errorf("TotalProbability = %v, want 1", stats.TotalProbability)
	}
}

func TestStats_Peak(t *testing.T) {
	pixels := []Pixel{
		{Level: 0, IPix: 0, ProbDensity: 0.01},
		{Level: 0, IPix: 4, ProbDensity: 0.2},
		{Level: 0, IPix: 7, ProbDensity: 0.05},
	}
	stats, err := Stats(pixels)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	ra, dec := healpix.PixToAngNest(1, 4)
	c := stats.CentralCoordinate
	if c.RA != ra || c.Dec != dec {
		t.Errorf("peak = (%v, %v), want (%v, %v)", c.RA, c.Dec, ra, dec)
	}
	if want := fmt.Sprintf("%.6f %.6f", ra, dec); c.Equatorial != want {
		t.Errorf("Equatorial = %q, want %q", c.Equatorial, want)
	}

	parts := strings.Fields(c.Galactic)
	if len(parts) != 2 {
		t.Fatalf("Galactic = %q, want two fields", c.Galactic)
	}
	for _, p := range parts {
		if _, err := strconv.ParseFloat(p, 64); err != nil {
			t.Errorf("Galactic field %q is not numeric", p)
		}
		if dot := strings.IndexByte(p, '.'); dot < 0 || len(p)-dot-1 != 6 {
			t.Errorf("Galactic field %q does not have 6 decimals", p)
		}
	}
}

func TestStats_AreasMonotonic(t *testing.T) {
	for _, nside := range []int64{1, 4, 64} {
		f, err := Flatten(concentratedMap(t), nside)
		if err != nil {
			t.Fatalf("Flatten(nside=%d) error = %v", nside, err)
		}
		stats, err := Stats(f.Pixels())
		if err != nil {
			t.Fatalf("Stats(nside=%d) error = %v", nside, err)
		}
		if !(stats.Area10 <= stats.Area50 && stats.Area50 <= stats.Area90) {
			t.Errorf("nside=%d areas not ordered: %v %v %v", nside, stats.Area10, stats.Area50, stats.Area90)
		}
	}
}

func TestStats_MultiOrderMatchesFlat(t *testing.T) {
	m := concentratedMap(t)
	pixels, err := m.Pixels()
	if err != nil {
		t.Fatalf("Pixels() error = %v", err)
	}
	multi, err := Stats(pixels)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if !approxEqual(multi.TotalProbability, 1, 1e-12) {
		t.Errorf("TotalProbability = %v, want 1", multi.TotalProbability)
	}
	// the densest pixel is level-2 pixel 0 whichever view is used
	ra, dec := healpix.PixToAngNest(4, 0)
	if multi.CentralCoordinate.RA != ra || multi.CentralCoordinate.Dec != dec {
		t.Errorf("peak = (%v, %v), want (%v, %v)", multi.CentralCoordinate.RA, multi.CentralCoordinate.Dec, ra, dec)
	}
}

func TestStats_Errors(t *testing.T) {
	tests := []struct {
		name   string
		pixels []Pixel
	}{
		{"empty", nil},
		{"nan density", []Pixel{{Level: 0, IPix: 0, ProbDensity: math.NaN()}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Stats(tt.pixels)
			if !errors.Is(err, ErrMalformedSkymap) {
				t.Errorf("Stats() error = %v, want ErrMalformedSkymap", err)
			}
		})
	}
}
