package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel      string     `yaml:"log_level"`
	LedgerPath    string     `yaml:"ledger_path"`
	Lookback      string     `yaml:"lookback"`
	RecordSkipped bool       `yaml:"record_skipped"`
	IMAP          IMAP       `yaml:"imap"`
	Filter        Filter     `yaml:"filter"`
	Trainline     Trainline  `yaml:"trainline"`
	Pushbullet    Pushbullet `yaml:"pushbullet"`
}

// IMAP holds the mailbox connection configuration.
type IMAP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
	Folder   string `yaml:"folder"`
}

// Filter selects which inbox messages are considered ticket emails.
type Filter struct {
	Sender   string `yaml:"sender"`
	Subject  string `yaml:"subject"`
	LinkHost string `yaml:"link_host"`
}

// Trainline holds the ticket-site credentials.
type Trainline struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	BaseURL  string `yaml:"base_url"`
}

// Pushbullet holds the optional notifier configuration. An empty access
// token disables notifications.
type Pushbullet struct {
	AccessToken string `yaml:"access_token"`
	APIURL      string `yaml:"api_url"`
}

// GetFolder returns the IMAP folder name, defaulting to "INBOX".
func (i *IMAP) GetFolder() string {
	if i.Folder == "" {
		return "INBOX"
	}
	return i.Folder
}

// GetSender returns the sender filter, defaulting to the Trainline
// confirmation address.
func (f *Filter) GetSender() string {
	if f.Sender == "" {
		return "auto-confirm@info.thetrainline.com"
	}
	return f.Sender
}

// GetSubject returns the subject filter, defaulting to "Your eticket".
func (f *Filter) GetSubject() string {
	if f.Subject == "" {
		return "Your eticket"
	}
	return f.Subject
}

// GetLinkHost returns the host a ticket link must point at.
func (f *Filter) GetLinkHost() string {
	if f.LinkHost == "" {
		return "download.thetrainline.com"
	}
	return f.LinkHost
}

// Enabled reports whether notifications are configured.
func (p *Pushbullet) Enabled() bool { return p.AccessToken != "" }

// GetAPIURL returns the Pushbullet API base URL.
func (p *Pushbullet) GetAPIURL() string {
	if p.APIURL == "" {
		return "https://api.pushbullet.com"
	}
	return p.APIURL
}

// GetLedgerPath returns the ledger file location, defaulting to
// data/processed.json.
func (c *Config) GetLedgerPath() string {
	if c.LedgerPath == "" {
		return "data/processed.json"
	}
	return c.LedgerPath
}

// GetLookback returns the default lookback window, defaulting to 14 days.
func (c *Config) GetLookback() string {
	if c.Lookback == "" {
		return "14 days"
	}
	return c.Lookback
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{
		LogLevel: "info",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if c.IMAP.Port == 0 {
		return fmt.Errorf("imap.port is required")
	}
	if c.IMAP.Username == "" {
		return fmt.Errorf("imap.username is required")
	}
	if c.IMAP.Password == "" {
		return fmt.Errorf("imap.password is required")
	}
	if c.Lookback != "" {
		if _, err := ParseLookback(c.Lookback, time.Now()); err != nil {
			return fmt.Errorf("lookback: %w", err)
		}
	}
	return nil
}

// ParseLookback converts a relative window such as "14 days" or "999 years"
// into the point in time that far before now. Units are hours, days, weeks,
// months and years, singular or plural.
func ParseLookback(s string, now time.Time) (time.Time, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 2 {
		return time.Time{}, fmt.Errorf("window %q: want \"<count> <unit>\"", s)
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("window %q: count must be a positive integer", s)
	}

	switch strings.TrimSuffix(fields[1], "s") {
	case "hour":
		return now.Add(-time.Duration(n) * time.Hour), nil
	case "day":
		return now.AddDate(0, 0, -n), nil
	case "week":
		return now.AddDate(0, 0, -7*n), nil
	case "month":
		return now.AddDate(0, -n, 0), nil
	case "year":
		return now.AddDate(-n, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("window %q: unknown unit %q", s, fields[1])
	}
}
