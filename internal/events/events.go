// Package events defines the GCN gravitational-wave alert record consumed from igwn.gwalert
// and the alerts.persisted notice published after an alert is archived.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrMalformedAlert marks alerts that cannot be decoded or fail validation.
var ErrMalformedAlert = errors.New("malformed alert")

// Alert types in lifecycle order.
const (
	AlertTypeEarlyWarning = "EARLYWARNING"
	AlertTypePreliminary  = "PRELIMINARY"
	AlertTypeInitial      = "INITIAL"
	AlertTypeUpdate       = "UPDATE"
	AlertTypeRetraction   = "RETRACTION"
)

var alertTypeRank = map[string]int{
	AlertTypeEarlyWarning: 0,
	AlertTypePreliminary:  1,
	AlertTypeInitial:      2,
	AlertTypeUpdate:       3,
	AlertTypeRetraction:   4,
}

// Event classes, also used as the top-level archive directories.
const (
	ClassMock = "mockevents"
	ClassReal = "superevents"
)

// AlertRecord is one message from the igwn.gwalert topic.
type AlertRecord struct {
	SupereventID  string            `json:"superevent_id"`
	AlertType     string            `json:"alert_type"`
	TimeCreated   string            `json:"time_created"`
	URLs          map[string]string `json:"urls,omitempty"`
	Event         *EventDetails     `json:"event"`
	ExternalCoinc map[string]any    `json:"external_coinc"`

	// CreatedAt is TimeCreated parsed.
	CreatedAt time.Time `json:"-"`
	// Raw is the decoded message body, used for the metadata document.
	Raw map[string]any `json:"-"`
}

// EventDetails carries the candidate parameters of a non-retraction alert.
type EventDetails struct {
	Time           string             `json:"time"`
	FAR            *float64           `json:"far"`
	Significant    bool               `json:"significant"`
	Instruments    []string           `json:"instruments"`
	Group          string             `json:"group"`
	Pipeline       string             `json:"pipeline"`
	Search         string             `json:"search"`
	Properties     map[string]float64 `json:"properties"`
	Classification map[string]float64 `json:"classification"`
	// Skymap is the base64-decoded multi-order FITS table.
	Skymap []byte `json:"skymap"`
}

// ParseAlert decodes and validates an alert message.
func ParseAlert(data []byte) (*AlertRecord, error) {
	var rec AlertRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to unmarshal alert"), ErrMalformedAlert)
	}
	if err := json.Unmarshal(data, &rec.Raw); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to unmarshal alert body"), ErrMalformedAlert)
	}

	if rec.SupereventID == "" {
		return nil, errors.Mark(errors.New("alert has no superevent_id"), ErrMalformedAlert)
	}
	if strings.ContainsAny(rec.SupereventID, `/\`) || rec.SupereventID == "." || rec.SupereventID == ".." {
		return nil, errors.Mark(errors.Newf("invalid superevent_id %q", rec.SupereventID), ErrMalformedAlert)
	}
	if _, ok := alertTypeRank[rec.AlertType]; !ok {
		return nil, errors.Mark(errors.Newf("unknown alert_type %q", rec.AlertType), ErrMalformedAlert)
	}
	if rec.TimeCreated == "" {
		return nil, errors.Mark(errors.New("alert has no time_created"), ErrMalformedAlert)
	}
	created, err := time.Parse(time.RFC3339Nano, rec.TimeCreated)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid time_created %q", rec.TimeCreated), ErrMalformedAlert)
	}
	rec.CreatedAt = created

	return &rec, nil
}

// IsMock reports whether the alert belongs to a mock (test) superevent.
func (a *AlertRecord) IsMock() bool {
	return strings.HasPrefix(a.SupereventID, "M")
}

// EventClass returns the archive directory for the alert's superevent class.
func (a *AlertRecord) EventClass() string {
	if a.IsMock() {
		return ClassMock
	}
	return ClassReal
}

// DirName returns the per-alert directory name, e.g. "20230320T153402.123_preliminary".
func (a *AlertRecord) DirName() string {
	stamp := strings.NewReplacer("-", "", ":", "", "Z", "").Replace(a.TimeCreated)
	return stamp + "_" + strings.ToLower(a.AlertType)
}

// HasSkymap reports whether the alert carries a probability map.
func (a *AlertRecord) HasSkymap() bool {
	return a.Event != nil && len(a.Event.Skymap) > 0
}

// Summary returns the alert body without the encoded sky map.
func (a *AlertRecord) Summary() map[string]any {
	out := make(map[string]any, len(a.Raw))
	for k, v := range a.Raw {
		if k != "event" {
			out[k] = v
			continue
		}
		event, ok := v.(map[string]any)
		if !ok {
			out[k] = v
			continue
		}
		stripped := make(map[string]any, len(event))
		for ek, ev := range event {
			if ek != "skymap" {
				stripped[ek] = ev
			}
		}
		out[k] = stripped
	}
	return out
}

// Classification returns a classification probability such as "BNS".
func (a *AlertRecord) Classification(name string) *float64 {
	if a.Event == nil {
		return nil
	}
	v, ok := a.Event.Classification[name]
	if !ok {
		return nil
	}
	return &v
}

// Property returns a source property probability such as "HasNS".
func (a *AlertRecord) Property(name string) *float64 {
	if a.Event == nil {
		return nil
	}
	v, ok := a.Event.Properties[name]
	if !ok {
		return nil
	}
	return &v
}

// FAR returns the false alarm rate in Hz, or nil if the alert has none.
func (a *AlertRecord) FAR() *float64 {
	if a.Event == nil {
		return nil
	}
	return a.Event.FAR
}

// AlertTypeRank orders alert types by lifecycle stage. Unknown types rank -1.
func AlertTypeRank(alertType string) int {
	if r, ok := alertTypeRank[strings.ToUpper(alertType)]; ok {
		return r
	}
	return -1
}

// AlertPersisted is published to the alerts.persisted topic after an alert is archived.
// Emitted only for alerts the catalogue had not seen before.
type AlertPersisted struct {
	SupereventID  string   `json:"superevent_id"`
	AlertType     string   `json:"alert_type"`
	TimeCreated   string   `json:"time_created"`
	EventClass    string   `json:"event_class"`
	Directory     string   `json:"directory"`
	Rule          string   `json:"rule,omitempty"`
	Area90        *float64 `json:"area90,omitempty"`
	SchemaVersion int      `json:"schema_version"`
}

// SchemaVersion is the current AlertPersisted schema.
const SchemaVersion = 1
