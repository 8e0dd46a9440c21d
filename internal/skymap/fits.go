package skymap

import (
	"io"
	"math"
	"strings"

	"github.com/afikmenashe/gocart/internal/healpix"
	"github.com/astrogo/fitsio"
	"github.com/cockroachdb/errors"
)

// structuralKeys are table layout keywords that are not part of the map metadata.
var structuralKeys = []string{
	"XTENSION", "BITPIX", "NAXIS", "PCOUNT", "GCOUNT", "TFIELDS",
	"TTYPE", "TFORM", "TUNIT", "TNULL", "TDISP", "TDIM", "TSCAL", "TZERO",
	"COMMENT", "HISTORY",
}

func isStructural(key string) bool {
	for _, p := range structuralKeys {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return key == "" || key == "END"
}

// ReadMultiOrder decodes the first binary table of a FITS stream into a multi-order map.
//
// NUNIQ-ordered tables are read as is. NESTED-ordered tables holding a PROB column are
// converted to a single-level multi-order map so both layouts can be resampled.
func ReadMultiOrder(r io.Reader) (*MultiOrderMap, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to open FITS stream"), ErrMalformedSkymap)
	}
	defer f.Close()

	var table *fitsio.Table
	for _, hdu := range f.HDUs() {
		if t, ok := hdu.(*fitsio.Table); ok {
			table = t
			break
		}
	}
	if table == nil {
		return nil, errors.Mark(errors.New("no binary table HDU found"), ErrMalformedSkymap)
	}

	header := readHeader(table.Header())

	cols := table.Cols()
	dest := make([]any, len(cols))
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		ptr, err := columnDest(c.Format)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "column %s", c.Name), ErrMalformedSkymap)
		}
		dest[i] = ptr
		index[strings.ToUpper(c.Name)] = i
	}

	ordering := strings.ToUpper(header.String("ORDERING"))
	switch ordering {
	case "", "NUNIQ":
		if _, ok := index["UNIQ"]; !ok {
			return nil, errors.Mark(errors.New("table has no UNIQ column"), ErrMalformedSkymap)
		}
		if _, ok := index["PROBDENSITY"]; !ok {
			return nil, errors.Mark(errors.New("table has no PROBDENSITY column"), ErrMalformedSkymap)
		}
	case "NESTED":
		if _, ok := index["PROB"]; !ok {
			return nil, errors.Mark(errors.New("NESTED table has no PROB column"), ErrMalformedSkymap)
		}
	default:
		return nil, errors.Mark(errors.Newf("unsupported ORDERING %q", ordering), ErrMalformedSkymap)
	}

	var nestedLevel int
	if ordering == "NESTED" {
		nside, ok := header.Float("NSIDE")
		if !ok {
			return nil, errors.Mark(errors.New("NESTED table has no NSIDE keyword"), ErrMalformedSkymap)
		}
		nestedLevel, err = healpix.NsideToLevel(int64(nside))
		if err != nil {
			return nil, errors.Mark(err, ErrMalformedSkymap)
		}
	}

	rows, err := table.Read(0, table.NumRows())
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to read table rows"), ErrMalformedSkymap)
	}
	defer rows.Close()

	_, hasMu := index["DISTMU"]
	m := &MultiOrderMap{
		Header:      header,
		Rows:        make([]Row, 0, table.NumRows()),
		HasDistance: hasMu,
	}

	pixelArea := healpix.PixelArea(healpix.LevelToNside(nestedLevel))
	var n uint64
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "failed to scan row %d", n), ErrMalformedSkymap)
		}

		row := Row{
			DistMu:    math.Inf(1),
			DistSigma: math.Inf(1),
		}
		if ordering == "NESTED" {
			row.UNIQ = healpix.LevelIPixToUniq(nestedLevel, n)
			row.ProbDensity = column(dest, index, "PROB") / pixelArea
		} else {
			uniq, ok := integerColumn(dest, index, "UNIQ")
			if !ok || uniq < 4 {
				return nil, errors.Mark(errors.Newf("row %d has invalid UNIQ", n), ErrMalformedSkymap)
			}
			row.UNIQ = uint64(uniq)
			row.ProbDensity = column(dest, index, "PROBDENSITY")
		}
		if hasMu {
			row.DistMu = unconstrained(column(dest, index, "DISTMU"))
			row.DistSigma = unconstrained(column(dest, index, "DISTSIGMA"))
			if norm := column(dest, index, "DISTNORM"); !math.IsNaN(norm) {
				row.DistNorm = norm
			}
		}
		m.Rows = append(m.Rows, row)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to iterate table rows"), ErrMalformedSkymap)
	}
	if len(m.Rows) == 0 {
		return nil, errors.Mark(errors.New("table has no rows"), ErrMalformedSkymap)
	}

	return m, nil
}

func readHeader(h *fitsio.Header) Header {
	keys := h.Keys()
	header := make(Header, 0, len(keys))
	for _, k := range keys {
		if isStructural(k) {
			continue
		}
		card := h.Get(k)
		if card == nil {
			continue
		}
		header = append(header, Card{Key: k, Value: card.Value})
	}
	return header
}

// columnDest allocates a scan destination for a binary table column format such as
// "K", "1D" or "E".
func columnDest(format string) (any, error) {
	code := strings.TrimLeft(strings.TrimSpace(format), "0123456789")
	if code == "" {
		return nil, errors.Newf("empty column format %q", format)
	}
	switch code[0] {
	case 'K':
		return new(int64), nil
	case 'J':
		return new(int32), nil
	case 'I':
		return new(int16), nil
	case 'D':
		return new(float64), nil
	case 'E':
		return new(float32), nil
	}
	return nil, errors.Newf("unsupported column format %q", format)
}

// integerColumn returns the scanned value of an integer column without a float round trip.
func integerColumn(dest []any, index map[string]int, name string) (int64, bool) {
	i, ok := index[name]
	if !ok {
		return 0, false
	}
	switch v := dest[i].(type) {
	case *int64:
		return *v, true
	case *int32:
		return int64(*v), true
	case *int16:
		return int64(*v), true
	}
	return 0, false
}

// column returns the scanned value of a named column as float64, or NaN if absent.
func column(dest []any, index map[string]int, name string) float64 {
	i, ok := index[name]
	if !ok {
		return math.NaN()
	}
	switch v := dest[i].(type) {
	case *int64:
		return float64(*v)
	case *int32:
		return float64(*v)
	case *int16:
		return float64(*v)
	case *float64:
		return *v
	case *float32:
		return float64(*v)
	}
	return math.NaN()
}
