package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
)

// Supported channel types.
const (
	TypeSNS    = "sns"
	TypeSQS    = "sqs"
	TypePubSub = "pubsub"
	TypeHTTP   = "http"

	httpDefaultMethod         = "POST"
	httpDefaultTimeoutSeconds = 5
)

type channelsFile struct {
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig is a single notification channel entry from the channels file.
type ChannelConfig struct {
	ID      string            `yaml:"id"`
	Type    string            `yaml:"type"`
	Enabled *bool             `yaml:"enabled"`
	SNS     *SNSChannelConfig `yaml:"sns"`
	SQS     *SQSChannelConfig `yaml:"sqs"`
	PubSub  *PubSubConfig     `yaml:"pubsub"`
	HTTP    *HTTPConfig       `yaml:"http"`
}

// SNSChannelConfig holds AWS SNS settings.
type SNSChannelConfig struct {
	TopicARN string `yaml:"topic_arn"`
	Region   string `yaml:"region"`
}

// SQSChannelConfig holds AWS SQS settings.
type SQSChannelConfig struct {
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	Topic     string `yaml:"topic"`
}

// HTTPConfig holds generic webhook settings.
type HTTPConfig struct {
	URL            string            `yaml:"url"`
	Method         string            `yaml:"method"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// ChannelRegistry materializes channel definitions from the channels file.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels []ChannelConfig
	idx      map[string]ChannelConfig
}

// LoadChannels loads the channel registry from a YAML file.
func LoadChannels(path string) (*ChannelRegistry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("channels file path is empty")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channels file: %w", err)
	}

	var file channelsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode channels file: %w", err)
	}
	if len(file.Channels) == 0 {
		return nil, errors.New("channels file contains no channels entries")
	}

	reg := &ChannelRegistry{
		channels: make([]ChannelConfig, len(file.Channels)),
		idx:      make(map[string]ChannelConfig, len(file.Channels)),
	}
	for i := range file.Channels {
		cfg := sanitizeChannelConfig(file.Channels[i])
		if err := validateChannelConfig(cfg); err != nil {
			return nil, fmt.Errorf("channels[%d]: %w", i, err)
		}
		if _, exists := reg.idx[cfg.ID]; exists {
			return nil, fmt.Errorf("duplicate channel id %q", cfg.ID)
		}
		reg.channels[i] = cfg
		reg.idx[cfg.ID] = cfg
	}
	return reg, nil
}

func sanitizeChannelConfig(cfg ChannelConfig) ChannelConfig {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	if cfg.Enabled == nil {
		def := true
		cfg.Enabled = &def
	}
	if cfg.HTTP != nil {
		c := *cfg.HTTP
		c.URL = strings.TrimSpace(c.URL)
		c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
		if c.Method == "" {
			c.Method = httpDefaultMethod
		}
		if c.TimeoutSeconds <= 0 {
			c.TimeoutSeconds = httpDefaultTimeoutSeconds
		}
		cfg.HTTP = &c
	}
	return cfg
}

func validateChannelConfig(cfg ChannelConfig) error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	switch cfg.Type {
	case TypeSNS:
		if cfg.SNS == nil || strings.TrimSpace(cfg.SNS.TopicARN) == "" {
			return fmt.Errorf("sns.topic_arn is required for channel %q", cfg.ID)
		}
	case TypeSQS:
		if cfg.SQS == nil || strings.TrimSpace(cfg.SQS.QueueURL) == "" {
			return fmt.Errorf("sqs.queue_url is required for channel %q", cfg.ID)
		}
	case TypePubSub:
		if cfg.PubSub == nil || cfg.PubSub.ProjectID == "" || cfg.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic are required for channel %q", cfg.ID)
		}
	case TypeHTTP:
		if cfg.HTTP == nil || cfg.HTTP.URL == "" {
			return fmt.Errorf("http.url is required for channel %q", cfg.ID)
		}
	case "":
		return fmt.Errorf("type is required for channel %q", cfg.ID)
	default:
		return fmt.Errorf("unsupported channel type %q", cfg.Type)
	}
	return nil
}

// Enabled returns the channels that are switched on.
func (r *ChannelRegistry) Enabled() []ChannelConfig {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ChannelConfig, 0, len(r.channels))
	for _, cfg := range r.channels {
		if cfg.Enabled == nil || *cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out
}

// Builder creates a Sender from a channel config entry.
type Builder func(ctx context.Context, cfg ChannelConfig, log logger.Logger) (Sender, error)

// builders maps channel types onto their constructors.
var builders = map[string]Builder{
	TypeSNS:    newSNSSender,
	TypeSQS:    newSQSSender,
	TypePubSub: newPubSubSender,
	TypeHTTP:   newHTTPSender,
}

// BuildAll instantiates a Sender for every enabled channel.
func BuildAll(ctx context.Context, cfgs []ChannelConfig, log logger.Logger) ([]Sender, error) {
	var senders []Sender
	for _, cfg := range cfgs {
		builder := builders[cfg.Type]
		if builder == nil {
			return nil, fmt.Errorf("no sender registered for type %q", cfg.Type)
		}
		s, err := builder(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", cfg.ID, err)
		}
		senders = append(senders, s)
	}
	return senders, nil
}
