// Package config loads, validates and updates the gocart settings file.
package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/afikmenashe/gocart/internal/filter"
	"github.com/afikmenashe/gocart/internal/healpix"
	"github.com/afikmenashe/gocart/internal/skymap"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultSettings []byte

// PlaceholderGroupID marks a settings file whose consumer group has not been generated yet.
const PlaceholderGroupID = "XXXX"

// ErrInvalidConfig marks settings that fail validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Settings holds the gocart configuration. It is built once at startup and not modified
// afterwards.
type Settings struct {
	LVK         LVKSettings     `mapstructure:"lvk"`
	GCNKafka    KafkaSettings   `mapstructure:"gcn_kafka"`
	RedisAddr   string          `mapstructure:"redis_addr"`
	PostgresDSN string          `mapstructure:"postgres_dsn"`
	Publish     PublishSettings `mapstructure:"publish"`

	// Path is the settings file the values were read from.
	Path string `mapstructure:"-"`
}

// LVKSettings configures the gravitational-wave alert parser.
type LVKSettings struct {
	ParseMockEvents bool          `mapstructure:"parse_mock_events"`
	ParseRealEvents bool          `mapstructure:"parse_real_events"`
	DownloadDir     string        `mapstructure:"download_dir"`
	Nside           int64         `mapstructure:"nside"`
	JSONDump        bool          `mapstructure:"json_dump"`
	Plot            PlotSettings  `mapstructure:"plot"`
	Filters         []filter.Rule `mapstructure:"filters"`
}

// PlotSettings are the sky map plot toggles. They are kept in the settings file for
// compatibility; gocart does not render plots.
type PlotSettings struct {
	Contours      bool `mapstructure:"contours"`
	GalacticPlane bool `mapstructure:"galactic_plane"`
	Sun           bool `mapstructure:"sun"`
	Moon          bool `mapstructure:"moon"`
}

// KafkaSettings holds the GCN Kafka credentials and consumer identity.
type KafkaSettings struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	GroupID      string `mapstructure:"group_id"`
	Domain       string `mapstructure:"domain"`
	Topic        string `mapstructure:"topic"`
	Brokers      string `mapstructure:"brokers"`
	Plaintext    bool   `mapstructure:"plaintext"`
}

// PublishSettings configures the optional alerts.persisted producer.
type PublishSettings struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// DefaultPath returns ~/.config/gocart/gocart.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve home directory")
	}
	return filepath.Join(home, ".config", "gocart", "gocart.yaml"), nil
}

// WriteDefault writes the default settings file to path unless it already exists.
// It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "failed to stat %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, defaultSettings, 0o600); err != nil {
		return false, errors.Wrapf(err, "failed to write %s", path)
	}
	return true, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lvk.parse_mock_events", true)
	v.SetDefault("lvk.parse_real_events", true)
	v.SetDefault("lvk.download_dir", ".")
	v.SetDefault("lvk.nside", 64)
	v.SetDefault("lvk.json_dump", false)
	v.SetDefault("lvk.plot.contours", true)
	v.SetDefault("lvk.plot.galactic_plane", true)
	v.SetDefault("lvk.plot.sun", true)
	v.SetDefault("lvk.plot.moon", true)

	v.SetDefault("gcn_kafka.client_id", "")
	v.SetDefault("gcn_kafka.client_secret", "")
	v.SetDefault("gcn_kafka.group_id", PlaceholderGroupID)
	v.SetDefault("gcn_kafka.domain", "gcn.nasa.gov")
	v.SetDefault("gcn_kafka.topic", "igwn.gwalert")
	v.SetDefault("gcn_kafka.brokers", "")
	v.SetDefault("gcn_kafka.plaintext", false)

	v.SetDefault("redis_addr", "")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("publish.brokers", "")
	v.SetDefault("publish.topic", "")
}

// Load reads the settings file at path. GOCART_ environment variables override file values,
// with nested keys joined by underscores.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GOCART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "failed to read settings file %s", path),
			"run 'gocart init' to create a default settings file",
		)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to decode settings file %s", path), ErrInvalidConfig)
	}
	s.Path = path

	dir, err := expandHome(s.LVK.DownloadDir)
	if err != nil {
		return nil, err
	}
	s.LVK.DownloadDir = dir
	for i := range s.LVK.Filters {
		if s.LVK.Filters[i].Name == "" {
			s.LVK.Filters[i].Name = "rule-" + strconv.Itoa(i+1)
		}
	}

	return &s, nil
}

// Validate checks that all required configuration fields are set and have valid values.
func (s *Settings) Validate() error {
	if s.LVK.DownloadDir == "" {
		return errors.Mark(errors.New("lvk.download_dir cannot be empty"), ErrInvalidConfig)
	}
	if _, err := healpix.NsideToLevel(s.LVK.Nside); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid lvk.nside"), ErrInvalidConfig)
	}
	if s.LVK.Nside > skymap.MaxNside {
		return errors.Mark(errors.Newf("invalid lvk.nside: %d exceeds %d", s.LVK.Nside, skymap.MaxNside), ErrInvalidConfig)
	}
	if s.GCNKafka.Topic == "" {
		return errors.Mark(errors.New("gcn_kafka.topic cannot be empty"), ErrInvalidConfig)
	}
	if s.GCNKafka.GroupID == "" || s.GCNKafka.GroupID == PlaceholderGroupID {
		return errors.Mark(errors.New("gcn_kafka.group_id has not been generated"), ErrInvalidConfig)
	}
	if s.GCNKafka.Plaintext {
		if s.GCNKafka.Brokers == "" {
			return errors.Mark(errors.New("gcn_kafka.brokers cannot be empty for a plaintext connection"), ErrInvalidConfig)
		}
	} else {
		if s.GCNKafka.ClientID == "" || s.GCNKafka.ClientSecret == "" {
			return errors.Mark(errors.WithHint(
				errors.New("gcn_kafka.client_id and gcn_kafka.client_secret are required"),
				"create client credentials at https://gcn.nasa.gov/quickstart",
			), ErrInvalidConfig)
		}
		if s.GCNKafka.Domain == "" && s.GCNKafka.Brokers == "" {
			return errors.Mark(errors.New("gcn_kafka.domain cannot be empty"), ErrInvalidConfig)
		}
	}
	if s.Publish.Topic != "" && s.Publish.Brokers == "" {
		return errors.Mark(errors.New("publish.brokers cannot be empty when publish.topic is set"), ErrInvalidConfig)
	}
	if s.Publish.Topic != "" && s.Publish.Topic == s.GCNKafka.Topic {
		return errors.Mark(errors.New("publish.topic must differ from gcn_kafka.topic"), ErrInvalidConfig)
	}
	return nil
}

// BrokerList returns the configured broker list, or the GCN broker for the domain.
func (k KafkaSettings) BrokerList() string {
	if k.Brokers != "" {
		return k.Brokers
	}
	return "kafka." + k.Domain + ":9092"
}

// TokenURL returns the OAuth2 token endpoint for the GCN domain.
func (k KafkaSettings) TokenURL() string {
	return "https://auth." + k.Domain + "/oauth2/token"
}

// AssignGroupID replaces a placeholder consumer group ID in s with a new UUID. It does not
// touch the settings file and reports whether an ID was generated.
func AssignGroupID(s *Settings) bool {
	if s.GCNKafka.GroupID != "" && s.GCNKafka.GroupID != PlaceholderGroupID {
		return false
	}
	s.GCNKafka.GroupID = uuid.NewString()
	return true
}

// SaveGroupID writes the consumer group ID of s back to its settings file, preserving the
// rest of the document.
func SaveGroupID(s *Settings) error {
	if s.Path == "" {
		return errors.New("settings have no file to save to")
	}
	return writeGroupID(s.Path, s.GCNKafka.GroupID)
}

func writeGroupID(path, groupID string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to parse %s", path), ErrInvalidConfig)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return errors.Mark(errors.Newf("%s is not a YAML mapping", path), ErrInvalidConfig)
	}

	kafka := mappingValue(doc.Content[0], "gcn_kafka")
	if kafka == nil || kafka.Kind != yaml.MappingNode {
		kafka = &yaml.Node{Kind: yaml.MappingNode}
		setMappingValue(doc.Content[0], "gcn_kafka", kafka)
	}
	setMappingValue(kafka, "group_id", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: groupID})

	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(4)
	if err := enc.Encode(&doc); err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := enc.Close(); err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", path)
	}
	if err := os.WriteFile(path, []byte(b.String()), info.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			value.HeadComment = m.Content[i+1].HeadComment
			value.LineComment = m.Content[i+1].LineComment
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
