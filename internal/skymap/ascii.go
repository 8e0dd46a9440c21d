package skymap

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
)

var asciiColumns = []string{"IPIX", "PROB", "PROBDENSITY", "DISTMU", "DISTSIGMA", "DISTNORM"}

// WriteASCII tabulates a flat map as CSV, one row per pixel, with a header row.
func WriteASCII(w io.Writer, f *FlatMap) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(asciiColumns); err != nil {
		return errors.Wrap(err, "failed to write ASCII header")
	}

	record := make([]string, len(asciiColumns))
	for _, r := range f.Rows {
		record[0] = strconv.FormatUint(r.IPix, 10)
		record[1] = formatFloat(r.Prob)
		record[2] = formatFloat(r.ProbDensity)
		record[3] = formatFloat(r.DistMu)
		record[4] = formatFloat(r.DistSigma)
		record[5] = formatFloat(r.DistNorm)
		if err := cw.Write(record); err != nil {
			return errors.Wrapf(err, "failed to write ASCII row for pixel %d", r.IPix)
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush ASCII table")
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
