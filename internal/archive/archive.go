// Package archive writes accepted alerts and their derived sky map products to disk.
//
// Layout:
//
//	<root>/{mockevents|superevents}/<superevent_id>/<time_created>_<alert_type>/
//	    <creator>.multiorder.fits
//	    <creator>.flat<nside>.csv
//	    meta.yaml
//	    meta.json (optional)
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/afikmenashe/gocart/internal/events"
	"github.com/afikmenashe/gocart/internal/skymap"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Bundle is everything persisted for one alert. The sky map fields are empty for alerts
// without a probability map.
type Bundle struct {
	Alert   *events.AlertRecord
	Skymap  []byte
	Creator string
	Header  skymap.Header
	Stats   *skymap.SkymapStats
	Flat    *skymap.FlatMap
	Rule    string
}

// Metadata is the document written to meta.yaml.
type Metadata struct {
	Header map[string]any      `yaml:"header,omitempty" json:"header,omitempty"`
	Alert  map[string]any      `yaml:"alert" json:"alert"`
	Stats  *skymap.SkymapStats `yaml:"stats,omitempty" json:"stats,omitempty"`
	Rule   string              `yaml:"matched_rule,omitempty" json:"matched_rule,omitempty"`
}

// Writer persists bundles under a root directory. It is not safe for concurrent use.
type Writer struct {
	root     string
	jsonDump bool
}

// NewWriter creates a writer rooted at root. With jsonDump set the metadata is also
// written as meta.json.
func NewWriter(root string, jsonDump bool) *Writer {
	return &Writer{root: root, jsonDump: jsonDump}
}

// Dir returns the directory an alert is archived in.
func (w *Writer) Dir(a *events.AlertRecord) string {
	return filepath.Join(w.root, a.EventClass(), a.SupereventID, a.DirName())
}

// Write persists b and returns the alert directory. Re-writing the same alert overwrites
// its files.
func (w *Writer) Write(ctx context.Context, b Bundle) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if b.Alert == nil {
		return "", errors.New("bundle has no alert")
	}

	dir := w.Dir(b.Alert)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create alert directory %s", dir)
	}

	creator := b.Creator
	if creator == "" || creator == "." || creator == ".." || strings.ContainsAny(creator, "/\\\x00") {
		creator = "skymap"
	}

	if len(b.Skymap) > 0 {
		path := filepath.Join(dir, creator+".multiorder.fits")
		if err := os.WriteFile(path, b.Skymap, 0o644); err != nil {
			return "", errors.Wrapf(err, "failed to write %s", path)
		}
	}

	if b.Flat != nil {
		var buf bytes.Buffer
		if err := skymap.WriteASCII(&buf, b.Flat); err != nil {
			return "", err
		}
		path := filepath.Join(dir, fmt.Sprintf("%s.flat%d.csv", creator, b.Flat.Nside))
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return "", errors.Wrapf(err, "failed to write %s", path)
		}
	}

	meta := Metadata{
		Header: headerMap(b.Header),
		Alert:  b.Alert.Summary(),
		Stats:  b.Stats,
		Rule:   b.Rule,
	}
	if err := writeYAML(filepath.Join(dir, "meta.yaml"), meta); err != nil {
		return "", err
	}
	if w.jsonDump {
		if err := writeJSON(filepath.Join(dir, "meta.json"), meta); err != nil {
			return "", err
		}
	}

	return dir, nil
}

func headerMap(h skymap.Header) map[string]any {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]any, len(h))
	for _, c := range h {
		m[c.Key] = c.Value
	}
	return m
}

func writeYAML(path string, v any) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err := enc.Encode(v); err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := enc.Close(); err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
