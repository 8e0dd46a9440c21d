package events

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
)

func alertJSON(id, alertType, created, skymap string) []byte {
	return []byte(fmt.Sprintf(`{
		"superevent_id": %q,
		"alert_type": %q,
		"time_created": %q,
		"urls": {"gracedb": "https://example.org/superevents/%s/view/"},
		"event": {
			"time": "2023-03-20T15:33:58.123Z",
			"far": 3.2e-10,
			"significant": true,
			"instruments": ["H1", "L1"],
			"group": "CBC",
			"pipeline": "gstlal",
			"search": "AllSky",
			"properties": {"HasNS": 0.95, "HasRemnant": 0.4, "HasMassGap": 0.01},
			"classification": {"BNS": 0.7, "NSBH": 0.2, "BBH": 0.0, "Terrestrial": 0.1},
			"skymap": %q
		},
		"external_coinc": null
	}`, id, alertType, created, id, skymap))
}

func TestParseAlert(t *testing.T) {
	payload := []byte("SIMPLE  = T")
	rec, err := ParseAlert(alertJSON("S230320ab", "PRELIMINARY", "2023-03-20T15:34:02Z", base64.StdEncoding.EncodeToString(payload)))
	if err != nil {
		t.Fatalf("ParseAlert() error = %v", err)
	}

	if rec.SupereventID != "S230320ab" || rec.AlertType != AlertTypePreliminary {
		t.Errorf("ParseAlert() = %+v", rec)
	}
	if rec.CreatedAt.IsZero() || rec.CreatedAt.Hour() != 15 {
		t.Errorf("CreatedAt = %v", rec.CreatedAt)
	}
	if string(rec.Event.Skymap) != string(payload) {
		t.Errorf("Skymap = %q, want decoded payload", rec.Event.Skymap)
	}
	if !rec.HasSkymap() {
		t.Error("HasSkymap() = false")
	}
	if rec.IsMock() || rec.EventClass() != ClassReal {
		t.Errorf("EventClass() = %q, want %q", rec.EventClass(), ClassReal)
	}
	if got := rec.DirName(); got != "20230320T153402_preliminary" {
		t.Errorf("DirName() = %q", got)
	}
	if far := rec.FAR(); far == nil || *far != 3.2e-10 {
		t.Errorf("FAR() = %v", far)
	}
	if bns := rec.Classification("BNS"); bns == nil || *bns != 0.7 {
		t.Errorf("Classification(BNS) = %v", bns)
	}
	if ns := rec.Property("HasNS"); ns == nil || *ns != 0.95 {
		t.Errorf("Property(HasNS) = %v", ns)
	}
	if rec.Property("HasUnicorn") != nil {
		t.Error("Property(HasUnicorn) should be nil")
	}
}

func TestParseAlert_Retraction(t *testing.T) {
	rec, err := ParseAlert([]byte(`{"superevent_id":"MS230320x","alert_type":"RETRACTION","time_created":"2023-03-20T16:00:00Z","event":null}`))
	if err != nil {
		t.Fatalf("ParseAlert() error = %v", err)
	}
	if !rec.IsMock() || rec.EventClass() != ClassMock {
		t.Errorf("EventClass() = %q, want %q", rec.EventClass(), ClassMock)
	}
	if rec.HasSkymap() {
		t.Error("HasSkymap() = true for retraction")
	}
	if rec.FAR() != nil || rec.Classification("BNS") != nil {
		t.Error("retraction should have no event parameters")
	}
}

func TestParseAlert_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `not json`},
		{"missing id", `{"alert_type":"INITIAL","time_created":"2023-03-20T16:00:00Z"}`},
		{"path in id", `{"superevent_id":"../etc","alert_type":"INITIAL","time_created":"2023-03-20T16:00:00Z"}`},
		{"unknown type", `{"superevent_id":"S1","alert_type":"FINAL","time_created":"2023-03-20T16:00:00Z"}`},
		{"missing time", `{"superevent_id":"S1","alert_type":"INITIAL"}`},
		{"bad time", `{"superevent_id":"S1","alert_type":"INITIAL","time_created":"yesterday"}`},
		{"bad base64", `{"superevent_id":"S1","alert_type":"INITIAL","time_created":"2023-03-20T16:00:00Z","event":{"skymap":"!!!"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAlert([]byte(tt.data))
			if !errors.Is(err, ErrMalformedAlert) {
				t.Errorf("ParseAlert() error = %v, want ErrMalformedAlert", err)
			}
		})
	}
}

func TestSummary_StripsSkymap(t *testing.T) {
	rec, err := ParseAlert(alertJSON("S1", "INITIAL", "2023-03-20T15:34:02Z", "AAAA"))
	if err != nil {
		t.Fatalf("ParseAlert() error = %v", err)
	}
	summary := rec.Summary()
	event, ok := summary["event"].(map[string]any)
	if !ok {
		t.Fatalf("Summary()[event] = %T", summary["event"])
	}
	if _, ok := event["skymap"]; ok {
		t.Error("Summary() still contains the skymap")
	}
	if event["pipeline"] != "gstlal" {
		t.Errorf("Summary()[event][pipeline] = %v", event["pipeline"])
	}
	if summary["superevent_id"] != "S1" {
		t.Errorf("Summary()[superevent_id] = %v", summary["superevent_id"])
	}
	// the record itself is untouched
	if _, ok := rec.Raw["event"].(map[string]any)["skymap"]; !ok {
		t.Error("Summary() mutated Raw")
	}
}

func TestAlertTypeRank(t *testing.T) {
	order := []string{"earlywarning", "PRELIMINARY", "Initial", "UPDATE", "RETRACTION"}
	for i := 1; i < len(order); i++ {
		if AlertTypeRank(order[i-1]) >= AlertTypeRank(order[i]) {
			t.Errorf("AlertTypeRank(%s) >= AlertTypeRank(%s)", order[i-1], order[i])
		}
	}
	if AlertTypeRank("FINAL") != -1 {
		t.Error("AlertTypeRank(FINAL) should be -1")
	}
}
