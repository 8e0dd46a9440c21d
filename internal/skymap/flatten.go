package skymap

import (
	"sort"

	"github.com/afikmenashe/gocart/internal/healpix"
	"github.com/cockroachdb/errors"
)

// DefaultNside is the resolution maps are flattened to when none is configured.
const DefaultNside = 64

// MaxNside bounds the flattening resolution. A flat map holds 12*nside^2 rows.
const MaxNside = 2048

type mergeGroup struct {
	prob  float64
	mu    float64
	sigma float64
	norm  float64
	n     int
}

// Flatten resamples a multi-order map onto a uniform nested grid at nside.
//
// Pixels coarser than the target are split across the target pixels they cover, keeping
// their probability density. Finer pixels are merged into their target ancestor: the
// probability is summed and the distance parameters are averaged. Pixels already at the
// target resolution pass through unchanged. The result is ordered by pixel index.
func Flatten(m *MultiOrderMap, nside int64) (*FlatMap, error) {
	target, err := healpix.NsideToLevel(nside)
	if err != nil {
		return nil, errors.Wrap(err, "invalid target resolution")
	}
	if nside > MaxNside {
		return nil, errors.Newf("target resolution nside %d exceeds %d", nside, MaxNside)
	}
	targetArea := healpix.PixelArea(nside)

	var upsampled []FlatRow
	merged := make(map[uint64]*mergeGroup)

	for i, r := range m.Rows {
		level, ipix, err := healpix.UniqToLevelIPix(r.UNIQ)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "row %d", i), ErrMalformedSkymap)
		}
		mu, sigma := unconstrained(r.DistMu), unconstrained(r.DistSigma)

		if level < target {
			lo, hi := healpix.ChildRange(ipix, level, target)
			for p := lo; p < hi; p++ {
				upsampled = append(upsampled, FlatRow{
					IPix:        p,
					Prob:        r.ProbDensity * targetArea,
					ProbDensity: r.ProbDensity,
					DistMu:      mu,
					DistSigma:   sigma,
					DistNorm:    r.DistNorm,
				})
			}
			continue
		}

		parent := healpix.ParentIndex(ipix, level, target)
		g, ok := merged[parent]
		if !ok {
			g = &mergeGroup{}
			merged[parent] = g
		}
		g.prob += r.ProbDensity * healpix.PixelArea(healpix.LevelToNside(level))
		g.mu += mu
		g.sigma += sigma
		g.norm += r.DistNorm
		g.n++
	}

	rows := make([]FlatRow, 0, len(upsampled)+len(merged))
	rows = append(rows, upsampled...)
	for ipix, g := range merged {
		n := float64(g.n)
		rows = append(rows, FlatRow{
			IPix:        ipix,
			Prob:        g.prob,
			ProbDensity: g.prob / targetArea,
			DistMu:      g.mu / n,
			DistSigma:   g.sigma / n,
			DistNorm:    g.norm / n,
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].IPix < rows[j].IPix })
	for i := 1; i < len(rows); i++ {
		if rows[i].IPix == rows[i-1].IPix {
			return nil, errors.Mark(errors.Newf("overlapping multi-order pixels at nested index %d", rows[i].IPix), ErrMalformedSkymap)
		}
	}

	return &FlatMap{Nside: nside, Level: target, Rows: rows}, nil
}

// MultiOrder returns the flat map as a single-level multi-order map.
func (f *FlatMap) MultiOrder() *MultiOrderMap {
	m := &MultiOrderMap{Rows: make([]Row, len(f.Rows)), HasDistance: true}
	for i, r := range f.Rows {
		m.Rows[i] = Row{
			UNIQ:        healpix.LevelIPixToUniq(f.Level, r.IPix),
			ProbDensity: r.ProbDensity,
			DistMu:      r.DistMu,
			DistSigma:   r.DistSigma,
			DistNorm:    r.DistNorm,
		}
	}
	return m
}
