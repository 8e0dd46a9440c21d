// Package skymaptest builds small FITS binary tables in memory for tests.
package skymaptest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/afikmenashe/gocart/internal/healpix"
)

const blockSize = 2880

// Column is one binary table column. Data must be []int64 (format K) or []float64 (format D).
type Column struct {
	Name string
	Data any
}

// Keyword is an extra header card for the table HDU. Value may be a string, bool, int or float64.
type Keyword struct {
	Key   string
	Value any
}

func (c Column) format() string {
	switch c.Data.(type) {
	case []int64:
		return "K"
	case []float64:
		return "D"
	}
	panic(fmt.Sprintf("skymaptest: unsupported column data %T", c.Data))
}

func (c Column) len() int {
	switch d := c.Data.(type) {
	case []int64:
		return len(d)
	case []float64:
		return len(d)
	}
	return 0
}

// Encode returns a FITS file with an empty primary HDU followed by one BINTABLE HDU.
func Encode(keywords []Keyword, cols ...Column) []byte {
	var buf bytes.Buffer

	writeHeader(&buf, []string{
		card("SIMPLE", true),
		card("BITPIX", 8),
		card("NAXIS", 0),
		card("EXTEND", true),
	})

	nrows := 0
	if len(cols) > 0 {
		nrows = cols[0].len()
	}
	cards := []string{
		card("XTENSION", "BINTABLE"),
		card("BITPIX", 8),
		card("NAXIS", 2),
		card("NAXIS1", 8*len(cols)),
		card("NAXIS2", nrows),
		card("PCOUNT", 0),
		card("GCOUNT", 1),
		card("TFIELDS", len(cols)),
	}
	for i, c := range cols {
		cards = append(cards,
			card(fmt.Sprintf("TTYPE%d", i+1), c.Name),
			card(fmt.Sprintf("TFORM%d", i+1), c.format()),
		)
	}
	for _, k := range keywords {
		cards = append(cards, card(k.Key, k.Value))
	}
	writeHeader(&buf, cards)

	var data bytes.Buffer
	for r := 0; r < nrows; r++ {
		for _, c := range cols {
			switch d := c.Data.(type) {
			case []int64:
				_ = binary.Write(&data, binary.BigEndian, d[r])
			case []float64:
				_ = binary.Write(&data, binary.BigEndian, math.Float64bits(d[r]))
			}
		}
	}
	buf.Write(pad(data.Bytes(), 0))
	return buf.Bytes()
}

func writeHeader(buf *bytes.Buffer, cards []string) {
	var h strings.Builder
	for _, c := range cards {
		h.WriteString(c)
	}
	h.WriteString(fmt.Sprintf("%-80s", "END"))
	buf.Write(pad([]byte(h.String()), ' '))
}

func card(key string, value any) string {
	var v string
	switch x := value.(type) {
	case string:
		v = fmt.Sprintf("%-20s", "'"+fmt.Sprintf("%-8s", x)+"'")
	case bool:
		v = "F"
		if x {
			v = "T"
		}
		v = fmt.Sprintf("%20s", v)
	case int:
		v = fmt.Sprintf("%20d", x)
	case float64:
		v = fmt.Sprintf("%20s", fmt.Sprintf("%G", x))
	default:
		panic(fmt.Sprintf("skymaptest: unsupported keyword value %T", value))
	}
	return fmt.Sprintf("%-80s", fmt.Sprintf("%-8s= %s", key, v))
}

func pad(b []byte, fill byte) []byte {
	if rem := len(b) % blockSize; rem != 0 {
		b = append(b, bytes.Repeat([]byte{fill}, blockSize-rem)...)
	}
	return b
}

// ConcentratedMap returns the columns of a full-sky multi-order map that mixes levels 0
// to 2. Total probability is 1 and half of it sits in level-2 pixel 0. Level-0 pixels
// carry no distance estimate (NaN).
func ConcentratedMap() []Column {
	var (
		uniq  []int64
		dens  []float64
		mu    []float64
		sigma []float64
		norm  []float64
	)
	add := func(level int, ipix uint64, prob, distMu float64) {
		uniq = append(uniq, int64(healpix.LevelIPixToUniq(level, ipix)))
		dens = append(dens, prob/healpix.PixelArea(healpix.LevelToNside(level)))
		mu = append(mu, distMu)
		sigma = append(sigma, 10)
		norm = append(norm, 1e-4)
	}

	add(2, 0, 0.5, 100)
	for ipix := uint64(1); ipix < 4; ipix++ {
		add(2, ipix, 0.1, 100)
	}
	for ipix := uint64(1); ipix < 4; ipix++ {
		add(1, ipix, 0.05, 200)
	}
	for ipix := uint64(1); ipix < 12; ipix++ {
		add(0, ipix, 0.05/11, math.NaN())
	}

	return []Column{
		{Name: "UNIQ", Data: uniq},
		{Name: "PROBDENSITY", Data: dens},
		{Name: "DISTMU", Data: mu},
		{Name: "DISTSIGMA", Data: sigma},
		{Name: "DISTNORM", Data: norm},
	}
}

// ConcentratedFITS encodes ConcentratedMap as a NUNIQ-ordered table written by creator.
func ConcentratedFITS(creator string) []byte {
	return Encode([]Keyword{
		{Key: "ORDERING", Value: "NUNIQ"},
		{Key: "CREATOR", Value: creator},
		{Key: "DISTMEAN", Value: 250.5},
		{Key: "DISTSTD", Value: 40.0},
	}, ConcentratedMap()...)
}
