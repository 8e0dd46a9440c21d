// Package healpix implements the subset of nested-scheme HEALPix geometry needed to
// resample and summarise multi-order sky maps.
package healpix

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
)

// MaxLevel is the deepest HEALPix order representable in a 64-bit UNIQ index.
const MaxLevel = 29

var (
	jrll = [12]int64{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	jpll = [12]int64{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}
)

// UniqToLevelIPix splits a NUNIQ index into its level and nested pixel index.
func UniqToLevelIPix(uniq uint64) (level int, ipix uint64, err error) {
	if uniq < 4 {
		return 0, 0, errors.Newf("invalid UNIQ %d: must be >= 4", uniq)
	}
	level = (bits.Len64(uniq)-1)/2 - 1
	if level > MaxLevel {
		return 0, 0, errors.Newf("invalid UNIQ %d: level %d exceeds %d", uniq, level, MaxLevel)
	}
	ipix = uniq - (uint64(4) << (2 * uint(level)))
	return level, ipix, nil
}

// LevelIPixToUniq packs a level and nested pixel index into a NUNIQ index.
func LevelIPixToUniq(level int, ipix uint64) uint64 {
	return (uint64(4) << (2 * uint(level))) + ipix
}

// LevelToNside returns 2^level.
func LevelToNside(level int) int64 {
	return int64(1) << uint(level)
}

// NsideToLevel returns log2(nside). nside must be a power of two no larger than 2^MaxLevel.
func NsideToLevel(nside int64) (int, error) {
	if nside <= 0 || nside&(nside-1) != 0 {
		return 0, errors.Newf("nside %d is not a positive power of two", nside)
	}
	level := bits.TrailingZeros64(uint64(nside))
	if level > MaxLevel {
		return 0, errors.Newf("nside %d exceeds maximum order %d", nside, MaxLevel)
	}
	return level, nil
}

// NsideToNpix returns the number of pixels covering the sphere at nside.
func NsideToNpix(nside int64) int64 {
	return 12 * nside * nside
}

// PixelArea returns the solid angle of a single pixel at nside, in steradians.
func PixelArea(nside int64) float64 {
	return 4 * math.Pi / float64(NsideToNpix(nside))
}

// PixelAreaDeg2 returns the area of a single pixel at nside, in square degrees.
func PixelAreaDeg2(nside int64) float64 {
	deg := 180 / math.Pi
	return PixelArea(nside) * deg * deg
}

// ChildRange returns the half-open range of nested indices at toLevel covered by
// pixel ipix at fromLevel. toLevel must not be coarser than fromLevel.
func ChildRange(ipix uint64, fromLevel, toLevel int) (lo, hi uint64) {
	shift := 2 * uint(toLevel-fromLevel)
	return ipix << shift, (ipix + 1) << shift
}

// ParentIndex returns the nested index at toLevel containing pixel ipix at fromLevel.
// toLevel must not be finer than fromLevel.
func ParentIndex(ipix uint64, fromLevel, toLevel int) uint64 {
	return ipix >> (2 * uint(fromLevel-toLevel))
}

// compressBits gathers the even-numbered bits of v into the low half of the result.
func compressBits(v uint64) uint64 {
	var out uint64
	for i := uint(0); i < 32; i++ {
		out |= ((v >> (2 * i)) & 1) << i
	}
	return out
}

func nest2xyf(nside int64, pix uint64) (ix, iy int64, face int) {
	npface := uint64(nside) * uint64(nside)
	face = int(pix / npface)
	pix &= npface - 1
	return int64(compressBits(pix)), int64(compressBits(pix >> 1)), face
}

// PixToAngNest returns the centre of nested pixel ipix at nside as right ascension and
// declination in degrees. RA is normalised to [0, 360).
func PixToAngNest(nside int64, ipix uint64) (ra, dec float64) {
	nl4 := 4 * nside
	fact2 := 4 / float64(NsideToNpix(nside))

	ix, iy, face := nest2xyf(nside, ipix)
	jr := jrll[face]*nside - ix - iy - 1

	var (
		nr     int64
		z      float64
		kshift int64
	)
	switch {
	case jr < nside:
		nr = jr
		z = 1 - float64(nr)*float64(nr)*fact2
	case jr > 3*nside:
		nr = nl4 - jr
		z = float64(nr)*float64(nr)*fact2 - 1
	default:
		fact1 := float64(nside<<1) * fact2
		nr = nside
		z = float64(2*nside-jr) * fact1
		kshift = (jr - nside) & 1
	}

	jp := (jpll[face]*nr + ix - iy + 1 + kshift) / 2
	if jp > nl4 {
		jp -= nl4
	}
	if jp < 1 {
		jp += nl4
	}

	phi := (float64(jp) - float64(kshift+1)*0.5) * (math.Pi / 2 / float64(nr))

	ra = math.Mod(phi*180/math.Pi, 360)
	if ra < 0 {
		ra += 360
	}
	dec = math.Asin(math.Max(-1, math.Min(1, z))) * 180 / math.Pi
	return ra, dec
}

// icrsToGalactic rotates ICRS unit vectors into the galactic frame.
var icrsToGalactic = [3][3]float64{
	{-0.0548755604162154, -0.8734370902348850, -0.4838350155487132},
	{0.4941094278755837, -0.4448296299600112, 0.7469822444972189},
	{-0.8676661490190047, -0.1980763734312015, 0.4559837761750669},
}

// EquatorialToGalactic converts ICRS (ra, dec) in degrees to galactic (l, b) in degrees.
func EquatorialToGalactic(ra, dec float64) (l, b float64) {
	r := ra * math.Pi / 180
	d := dec * math.Pi / 180
	v := [3]float64{math.Cos(d) * math.Cos(r), math.Cos(d) * math.Sin(r), math.Sin(d)}

	var g [3]float64
	for i := 0; i < 3; i++ {
		g[i] = icrsToGalactic[i][0]*v[0] + icrsToGalactic[i][1]*v[1] + icrsToGalactic[i][2]*v[2]
	}

	l = math.Atan2(g[1], g[0]) * 180 / math.Pi
	if l < 0 {
		l += 360
	}
	b = math.Asin(math.Max(-1, math.Min(1, g[2]))) * 180 / math.Pi
	return l, b
}
