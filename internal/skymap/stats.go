package skymap

import (
	"fmt"
	"math"
	"sort"

	"github.com/afikmenashe/gocart/internal/healpix"
	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
)

// Coordinate is a sky position in both equatorial and galactic frames.
type Coordinate struct {
	Equatorial string  `yaml:"equatorial" json:"equatorial"`
	Galactic   string  `yaml:"galactic" json:"galactic"`
	RA         float64 `yaml:"-" json:"-"`
	Dec        float64 `yaml:"-" json:"-"`
	GalLon     float64 `yaml:"-" json:"-"`
	GalLat     float64 `yaml:"-" json:"-"`
}

// SkymapStats holds the value-added statistics derived from a probability map.
// Areas are in square degrees.
type SkymapStats struct {
	Area10            float64    `yaml:"area10" json:"area10"`
	Area50            float64    `yaml:"area50" json:"area50"`
	Area90            float64    `yaml:"area90" json:"area90"`
	TotalProbability  float64    `yaml:"total_probability" json:"total_probability"`
	CentralCoordinate Coordinate `yaml:"central_coordinate" json:"central_coordinate"`
}

type rankedPixel struct {
	level int
	ipix  uint64
	prob  float64
	area  float64
}

// Stats computes the 10/50/90% credible areas and the most probable position.
//
// Pixels are ranked by probability, highest first. The X% area is the summed area of
// every pixel whose cumulative probability is strictly below X, so the pixel that
// crosses the threshold is not counted. Areas are rounded to three decimals.
func Stats(pixels []Pixel) (*SkymapStats, error) {
	if len(pixels) == 0 {
		return nil, errors.Mark(errors.New("cannot compute stats of an empty map"), ErrMalformedSkymap)
	}

	ranked := make([]rankedPixel, len(pixels))
	densities := make([]float64, len(pixels))
	probs := make([]float64, len(pixels))
	for i, p := range pixels {
		if math.IsNaN(p.ProbDensity) {
			return nil, errors.Mark(errors.Newf("pixel %d has NaN probability density", p.IPix), ErrMalformedSkymap)
		}
		nside := healpix.LevelToNside(p.Level)
		prob := p.ProbDensity * healpix.PixelArea(nside)
		ranked[i] = rankedPixel{
			level: p.Level,
			ipix:  p.IPix,
			prob:  prob,
			area:  healpix.PixelAreaDeg2(nside),
		}
		densities[i] = p.ProbDensity
		probs[i] = prob
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.prob != b.prob {
			return a.prob > b.prob
		}
		if a.level != b.level {
			return a.level < b.level
		}
		return a.ipix < b.ipix
	})

	var area10, area50, area90, cum float64
	for _, p := range ranked {
		cum += p.prob
		if cum < 0.1 {
			area10 += p.area
		}
		if cum < 0.5 {
			area50 += p.area
		}
		if cum < 0.9 {
			area90 += p.area
		} else {
			break
		}
	}

	peak := pixels[floats.MaxIdx(densities)]
	ra, dec := healpix.PixToAngNest(healpix.LevelToNside(peak.Level), peak.IPix)
	l, b := healpix.EquatorialToGalactic(ra, dec)

	return &SkymapStats{
		Area10:           round3(area10),
		Area50:           round3(area50),
		Area90:           round3(area90),
		TotalProbability: floats.Sum(probs),
		CentralCoordinate: Coordinate{
			Equatorial: fmt.Sprintf("%.6f %.6f", ra, dec),
			Galactic:   fmt.Sprintf("%.6f %.6f", l, b),
			RA:         ra,
			Dec:        dec,
			GalLon:     l,
			GalLat:     b,
		},
	}, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
