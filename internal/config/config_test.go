package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

func validSettings() Settings {
	return Settings{
		LVK: LVKSettings{
			ParseMockEvents: true,
			ParseRealEvents: true,
			DownloadDir:     "/tmp/gocart",
			Nside:           64,
		},
		GCNKafka: KafkaSettings{
			ClientID:     "client",
			ClientSecret: "secret",
			GroupID:      "5b0c8d1e-6e51-4a3c-9b5e-0e2f4a6c8d10",
			Domain:       "gcn.nasa.gov",
			Topic:        "igwn.gwalert",
		},
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid settings",
			mutate: func(s *Settings) {},
		},
		{
			name:    "missing download dir",
			mutate:  func(s *Settings) { s.LVK.DownloadDir = "" },
			wantErr: true,
			errMsg:  "lvk.download_dir cannot be empty",
		},
		{
			name:    "nside not a power of two",
			mutate:  func(s *Settings) { s.LVK.Nside = 100 },
			wantErr: true,
			errMsg:  "invalid lvk.nside",
		},
		{
			name:    "nside too large",
			mutate:  func(s *Settings) { s.LVK.Nside = 1 << 29 },
			wantErr: true,
			errMsg:  "invalid lvk.nside",
		},
		{
			name:   "nside at maximum",
			mutate: func(s *Settings) { s.LVK.Nside = 2048 },
		},
		{
			name:    "placeholder group id",
			mutate:  func(s *Settings) { s.GCNKafka.GroupID = PlaceholderGroupID },
			wantErr: true,
			errMsg:  "gcn_kafka.group_id has not been generated",
		},
		{
			name:    "missing credentials",
			mutate:  func(s *Settings) { s.GCNKafka.ClientSecret = "" },
			wantErr: true,
			errMsg:  "client_secret are required",
		},
		{
			name: "plaintext without credentials",
			mutate: func(s *Settings) {
				s.GCNKafka.Plaintext = true
				s.GCNKafka.Brokers = "localhost:9092"
				s.GCNKafka.ClientID, s.GCNKafka.ClientSecret = "", ""
			},
		},
		{
			name: "plaintext without brokers",
			mutate: func(s *Settings) {
				s.GCNKafka.Plaintext = true
			},
			wantErr: true,
			errMsg:  "gcn_kafka.brokers cannot be empty",
		},
		{
			name:    "publish topic without brokers",
			mutate:  func(s *Settings) { s.Publish.Topic = "alerts.persisted" },
			wantErr: true,
			errMsg:  "publish.brokers cannot be empty",
		},
		{
			name: "publish back onto the alert topic",
			mutate: func(s *Settings) {
				s.Publish.Topic = "igwn.gwalert"
				s.Publish.Brokers = "localhost:9092"
			},
			wantErr: true,
			errMsg:  "must differ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error not marked ErrInvalidConfig: %v", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func writeDefaultSettings(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "gocart", "gocart.yaml")
	created, err := WriteDefault(path)
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if !created {
		t.Fatal("WriteDefault() created = false for a new path")
	}
	return path
}

func TestWriteDefault_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gocart.yaml")
	if err := os.WriteFile(path, []byte("lvk:\n    nside: 8\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	created, err := WriteDefault(path)
	if err != nil || created {
		t.Fatalf("WriteDefault() = %v, %v; want false, nil", created, err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "lvk:\n    nside: 8\n" {
		t.Errorf("WriteDefault() overwrote existing file: %q", raw)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeDefaultSettings(t)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, "gocart"); s.LVK.DownloadDir != want {
		t.Errorf("DownloadDir = %q, want %q", s.LVK.DownloadDir, want)
	}
	if s.LVK.Nside != 64 {
		t.Errorf("Nside = %d, want 64", s.LVK.Nside)
	}
	if !s.LVK.ParseMockEvents || !s.LVK.ParseRealEvents {
		t.Error("event classes should be enabled by default")
	}
	if !s.LVK.Plot.Contours || !s.LVK.Plot.GalacticPlane {
		t.Error("plot toggles should be enabled by default")
	}
	if s.GCNKafka.GroupID != PlaceholderGroupID {
		t.Errorf("GroupID = %q, want placeholder", s.GCNKafka.GroupID)
	}
	if s.GCNKafka.Topic != "igwn.gwalert" {
		t.Errorf("Topic = %q", s.GCNKafka.Topic)
	}
	if got := s.GCNKafka.BrokerList(); got != "kafka.gcn.nasa.gov:9092" {
		t.Errorf("BrokerList() = %q", got)
	}
	if got := s.GCNKafka.TokenURL(); got != "https://auth.gcn.nasa.gov/oauth2/token" {
		t.Errorf("TokenURL() = %q", got)
	}

	if len(s.LVK.Filters) != 2 {
		t.Fatalf("Filters = %d, want 2", len(s.LVK.Filters))
	}
	rule := s.LVK.Filters[0]
	if rule.Name != "bns-nearby" || len(rule.AlertTypes) != 3 {
		t.Errorf("Filters[0] = %+v", rule)
	}
	if rule.MinNSMerger == nil || *rule.MinNSMerger != 0.5 || rule.MaxDistance == nil || *rule.MaxDistance != 300 {
		t.Errorf("Filters[0] thresholds = %v %v", rule.MinNSMerger, rule.MaxDistance)
	}
	if rule.MaxFAR != nil {
		t.Errorf("Filters[0].MaxFAR = %v, want nil", *rule.MaxFAR)
	}
	if far := s.LVK.Filters[1].MaxFAR; far == nil || *far != 3.17e-08 {
		t.Errorf("Filters[1].MaxFAR = %v", far)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeDefaultSettings(t)
	t.Setenv("GOCART_LVK_NSIDE", "128")
	t.Setenv("GOCART_GCN_KAFKA_CLIENT_SECRET", "from-env")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.LVK.Nside != 128 {
		t.Errorf("Nside = %d, want 128", s.LVK.Nside)
	}
	if s.GCNKafka.ClientSecret != "from-env" {
		t.Errorf("ClientSecret = %q, want from-env", s.GCNKafka.ClientSecret)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
	if hints := errors.GetAllHints(err); len(hints) == 0 {
		t.Error("Load() error should carry a hint")
	}
}

func TestAssignAndSaveGroupID(t *testing.T) {
	path := writeDefaultSettings(t)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !AssignGroupID(s) {
		t.Fatal("AssignGroupID() = false for placeholder")
	}
	if _, err := uuid.Parse(s.GCNKafka.GroupID); err != nil {
		t.Errorf("GroupID %q is not a UUID: %v", s.GCNKafka.GroupID, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), PlaceholderGroupID) {
		t.Fatal("AssignGroupID() must not write the settings file")
	}

	if err := SaveGroupID(s); err != nil {
		t.Fatalf("SaveGroupID() error = %v", err)
	}
	raw, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "# generated on first use") {
		t.Error("comments were not preserved")
	}
	if strings.Contains(string(raw), PlaceholderGroupID) {
		t.Error("placeholder still present in settings file")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after SaveGroupID error = %v", err)
	}
	if reloaded.GCNKafka.GroupID != s.GCNKafka.GroupID {
		t.Errorf("reloaded GroupID = %q, want %q", reloaded.GCNKafka.GroupID, s.GCNKafka.GroupID)
	}
	if len(reloaded.LVK.Filters) != 2 {
		t.Errorf("reloaded Filters = %d, want 2", len(reloaded.LVK.Filters))
	}

	if AssignGroupID(reloaded) {
		t.Error("AssignGroupID() second call = true, want false")
	}
}

func TestSaveGroupID_AddsMissingSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gocart.yaml")
	if err := os.WriteFile(path, []byte("lvk:\n    nside: 8\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	AssignGroupID(s)
	if err := SaveGroupID(s); err != nil {
		t.Fatalf("SaveGroupID() error = %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.GCNKafka.GroupID != s.GCNKafka.GroupID || reloaded.LVK.Nside != 8 {
		t.Errorf("reloaded = %+v", reloaded)
	}
}

func TestSaveGroupID_NoPath(t *testing.T) {
	s := &Settings{GCNKafka: KafkaSettings{GroupID: "group"}}
	if err := SaveGroupID(s); err == nil {
		t.Error("SaveGroupID() expected error without a settings path")
	}
}
