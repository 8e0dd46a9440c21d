// Package skymap reads multi-order HEALPix probability sky maps, resamples them onto a
// single fixed-resolution grid, and derives localisation statistics from them.
package skymap

import (
	"math"
	"strings"

	"github.com/afikmenashe/gocart/internal/healpix"
	"github.com/cockroachdb/errors"
)

// ErrMalformedSkymap marks errors caused by an unreadable or invalid probability table.
var ErrMalformedSkymap = errors.New("malformed skymap")

// Card is a single FITS header keyword and its value.
type Card struct {
	Key   string
	Value any
}

// Header is the ordered list of header cards of the sky map table.
type Header []Card

// Get returns the value for key and whether it was present.
func (h Header) Get(key string) (any, bool) {
	for _, c := range h {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

// String returns the string value for key, or "" if absent or not a string.
func (h Header) String(key string) string {
	v, ok := h.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// Float returns the numeric value for key.
func (h Header) Float(key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// Row is one pixel of a multi-order map, keyed by its NUNIQ index.
type Row struct {
	UNIQ        uint64
	ProbDensity float64 // per steradian
	DistMu      float64
	DistSigma   float64
	DistNorm    float64
}

// MultiOrderMap is a variable-resolution probability table.
type MultiOrderMap struct {
	Header      Header
	Rows        []Row
	HasDistance bool
}

// FlatRow is one pixel of a fixed-resolution map in nested ordering.
type FlatRow struct {
	IPix        uint64
	Prob        float64
	ProbDensity float64
	DistMu      float64
	DistSigma   float64
	DistNorm    float64
}

// FlatMap is a uniform-resolution probability table ordered by pixel index.
type FlatMap struct {
	Nside int64
	Level int
	Rows  []FlatRow
}

// Pixel is the resolution-independent view of a map pixel used for statistics.
type Pixel struct {
	Level       int
	IPix        uint64
	ProbDensity float64
}

// Pixels returns the map rows as resolution-independent pixels.
func (m *MultiOrderMap) Pixels() ([]Pixel, error) {
	pixels := make([]Pixel, 0, len(m.Rows))
	for _, r := range m.Rows {
		level, ipix, err := healpix.UniqToLevelIPix(r.UNIQ)
		if err != nil {
			return nil, errors.Mark(err, ErrMalformedSkymap)
		}
		pixels = append(pixels, Pixel{Level: level, IPix: ipix, ProbDensity: r.ProbDensity})
	}
	return pixels, nil
}

// Pixels returns the flat map rows as resolution-independent pixels.
func (f *FlatMap) Pixels() []Pixel {
	pixels := make([]Pixel, len(f.Rows))
	for i, r := range f.Rows {
		pixels[i] = Pixel{Level: f.Level, IPix: r.IPix, ProbDensity: r.ProbDensity}
	}
	return pixels
}

// TotalProbability integrates probability density over the map.
func TotalProbability(m *MultiOrderMap) (float64, error) {
	var total float64
	for _, r := range m.Rows {
		level, _, err := healpix.UniqToLevelIPix(r.UNIQ)
		if err != nil {
			return 0, errors.Mark(err, ErrMalformedSkymap)
		}
		total += r.ProbDensity * healpix.PixelArea(healpix.LevelToNside(level))
	}
	return total, nil
}

// Creator returns the lower-cased pipeline name that produced the map. It is used as a file
// name, so anything that is not a single path element yields "skymap".
func (m *MultiOrderMap) Creator() string {
	c := strings.ToLower(m.Header.String("CREATOR"))
	if c == "" || c == "." || c == ".." || strings.ContainsAny(c, "/\\\x00") {
		return "skymap"
	}
	return c
}

// unconstrained replaces missing distance values with the "no constraint" sentinel.
func unconstrained(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}
