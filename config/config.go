package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type MetaConfig struct {
	Version         string `json:"-"`
	ListenAddr      string `json:"listen"`
	SiteName        string `json:"sitename"`
	SiteURL         string `json:"siteurl"`
	DevelopmentMode bool   `json:"devmode"`
	CopyrightName   string `json:"copyright-name"`
	PathTemplates   string `json:"templatedir"` // empty uses the embedded templates
}

type Config struct {
	Meta           MetaConfig     `json:"Meta,omitempty"`
	Sec            SecurityConfig `json:"Security,omitempty"`
	Sheets         SheetsConfig   `json:"Sheets,omitempty"`
	ConfigFilePath string         `json:"-"` // empty if stdin ($PWD used)
}

type SecurityConfig struct {
	HashKey    string `json:"hash-key"`
	BlockKey   string `json:"block-key"`
	CSRFKey    string `json:"csrf-key"`
	CookieName string `json:"cookie-name"`
	Whitelist  string `json:"whitelist"`
	Blacklist  string `json:"blacklist"`
	BoltDB     string `json:"database"` // audit log, disabled if empty

	// reverse proxies (ips or CIDRs) allowed to set X-Forwarded-For
	TrustedProxies []string `json:"trusted-proxies,omitempty"`
}

type SheetsConfig struct {
	SpreadsheetID   string `json:"spreadsheet-id"`
	Range           string `json:"range"`
	CredentialsFile string `json:"credentials-file"`
	CredentialsJSON string `json:"-"` // only from the environment, never dumped
}

// Environment overrides. Unset variables leave the config untouched.
type Environment struct {
	Port            *string `env:"PORT"`
	SiteURL         *string `env:"SITEURL"`
	SpreadsheetID   *string `env:"SHEETS_SPREADSHEET_ID"`
	Range           *string `env:"SHEETS_RANGE"`
	CredentialsFile *string `env:"GOOGLE_CREDENTIALS_FILE"`
	CredentialsJSON *string `env:"GOOGLE_CREDENTIALS_JSON"`
}

// Read decodes a JSON config from path, or stdin if path is "-".
func Read(path string, stdin io.Reader) (*Config, error) {
	var config = new(Config)
	if path == "-" {
		if err := json.NewDecoder(stdin).Decode(config); err != nil {
			return nil, fmt.Errorf("error decoding json config: %w", err)
		}
		return config, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(config); err != nil {
		return nil, fmt.Errorf("error decoding json config: %w", err)
	}
	config.ConfigFilePath = path
	return config, nil
}

// LoadEnv reads an optional .env file then applies environment overrides.
func LoadEnv(config *Config, log *zap.Logger, dotenv ...string) error {
	if err := godotenv.Load(dotenv...); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading .env: %w", err)
	}
	var e Environment
	if _, err := env.UnmarshalFromEnviron(&e); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	e.apply(config, log)
	return nil
}

func (e Environment) apply(config *Config, log *zap.Logger) {
	if e.Port != nil && *e.Port != "" {
		log.Info("overriding flags and config file with $PORT", zap.String("port", *e.Port))
		config.Meta.ListenAddr = ":" + *e.Port
	}
	if e.SiteURL != nil && *e.SiteURL != "" {
		log.Info("overriding flags and config file with $SITEURL", zap.String("siteurl", *e.SiteURL))
		config.Meta.SiteURL = *e.SiteURL
	}
	if e.SpreadsheetID != nil && *e.SpreadsheetID != "" {
		config.Sheets.SpreadsheetID = *e.SpreadsheetID
	}
	if e.Range != nil && *e.Range != "" {
		config.Sheets.Range = *e.Range
	}
	if e.CredentialsFile != nil && *e.CredentialsFile != "" {
		config.Sheets.CredentialsFile = *e.CredentialsFile
	}
	if e.CredentialsJSON != nil && *e.CredentialsJSON != "" {
		config.Sheets.CredentialsJSON = *e.CredentialsJSON
	}
}

// CheckConfig fills defaults and rejects configs that can't serve.
// Missing sheet credentials are allowed: submissions then fail with a config error.
func CheckConfig(config *Config, log *zap.Logger) error {
	// minimal config needed
	if config.Meta.Version == "" {
		config.Meta.Version = "solventics"
	}
	if config.Meta.SiteName == "" {
		config.Meta.SiteName = "Solventics AI"
	}
	if config.Meta.CopyrightName == "" {
		config.Meta.CopyrightName = "Solventics AI Inc."
	}
	if config.Sheets.Range == "" {
		config.Sheets.Range = "Sheet1"
	}

	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	if config.ConfigFilePath != "" {
		dir, err = filepath.Abs(filepath.Dir(config.ConfigFilePath))
		if err != nil {
			return fmt.Errorf("error %v", err)
		}
	}
	for _, p := range []*string{&config.Meta.PathTemplates, &config.Sec.BoltDB, &config.Sheets.CredentialsFile, &config.Sec.Whitelist, &config.Sec.Blacklist} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		*p = filepath.Join(dir, *p)
	}
	if config.Meta.PathTemplates != "" {
		if s, err := os.Stat(config.Meta.PathTemplates); err != nil || !s.IsDir() {
			if err != nil {
				return err
			}
			return fmt.Errorf("is not a dir: %v", config.Meta.PathTemplates)
		}
	}

	if config.Meta.SiteURL == "" {
		return fmt.Errorf("config needs Meta.siteurl")
	}
	if config.Sec.BlockKey == "" {
		return fmt.Errorf("config needs Security.block-key")
	}
	switch len(config.Sec.BlockKey) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("Security.block-key must be 16, 24 or 32 bytes")
	}
	if config.Sec.CSRFKey == "" {
		return fmt.Errorf("config needs Security.csrf-key")
	}
	if len(config.Sec.CSRFKey) != 32 {
		return fmt.Errorf("Security.csrf-key must be 32 bytes")
	}
	if config.Sec.HashKey == "" {
		return fmt.Errorf("config needs Security.hash-key")
	}
	if config.Sec.CookieName == "" {
		return fmt.Errorf("config needs Security.cookie-name")
	}
	for _, p := range config.Sec.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			return fmt.Errorf("Security.trusted-proxies: %q is not an ip or CIDR", p)
		}
	}

	if config.Sheets.SpreadsheetID == "" || (config.Sheets.CredentialsFile == "" && config.Sheets.CredentialsJSON == "") {
		log.Warn("no spreadsheet credentials configured, contact submissions will fail")
	}
	return nil
}
