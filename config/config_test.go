package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testConfig = `{
 "Meta": {"siteurl": "http://localhost:8080", "listen": "127.0.0.1:8080"},
 "Security": {
  "hash-key": "hash",
  "block-key": "0123456789abcdef",
  "csrf-key": "0123456789abcdef0123456789abcdef",
  "cookie-name": "solventics",
  "database": "audit.db",
  "trusted-proxies": ["127.0.0.1", "10.0.0.0/8"]
 },
 "Sheets": {"spreadsheet-id": "abc", "credentials-file": "sa.json"}
}`

func TestRead(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	req.NoError(os.WriteFile(path, []byte(testConfig), 0600))

	c, err := Read(path, nil)
	req.NoError(err)
	req.Equal(path, c.ConfigFilePath)
	req.Equal("abc", c.Sheets.SpreadsheetID)

	req.NoError(CheckConfig(c, zap.NewNop()))
	req.Equal(filepath.Join(dir, "audit.db"), c.Sec.BoltDB)
	req.Equal(filepath.Join(dir, "sa.json"), c.Sheets.CredentialsFile)
	req.Equal("Sheet1", c.Sheets.Range)
	req.Equal("Solventics AI", c.Meta.SiteName)
	req.Equal([]string{"127.0.0.1", "10.0.0.0/8"}, c.Sec.TrustedProxies)
}

func TestRead_Stdin(t *testing.T) {
	req := require.New(t)
	c, err := Read("-", strings.NewReader(testConfig))
	req.NoError(err)
	req.Empty(c.ConfigFilePath)

	_, err = Read("-", strings.NewReader("{"))
	req.Error(err)
}

func TestCheckConfig_Missing(t *testing.T) {
	cases := map[string]func(c *Config){
		"siteurl":     func(c *Config) { c.Meta.SiteURL = "" },
		"block key":   func(c *Config) { c.Sec.BlockKey = "" },
		"short block": func(c *Config) { c.Sec.BlockKey = "0123" },
		"csrf key":    func(c *Config) { c.Sec.CSRFKey = "" },
		"short csrf":  func(c *Config) { c.Sec.CSRFKey = "short" },
		"hash key":    func(c *Config) { c.Sec.HashKey = "" },
		"cookie name": func(c *Config) { c.Sec.CookieName = "" },
		"bad proxy":   func(c *Config) { c.Sec.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := Read("-", strings.NewReader(testConfig))
			require.NoError(t, err)
			mutate(c)
			require.Error(t, CheckConfig(c, zap.NewNop()))
		})
	}
}

func TestCheckConfig_NoCredentialsIsNotFatal(t *testing.T) {
	c, err := Read("-", strings.NewReader(testConfig))
	require.NoError(t, err)
	c.Sheets = SheetsConfig{}
	require.NoError(t, CheckConfig(c, zap.NewNop()))
}

func TestLoadEnv(t *testing.T) {
	req := require.New(t)
	t.Setenv("PORT", "9999")
	t.Setenv("SITEURL", "https://solventicsai.com")
	t.Setenv("SHEETS_SPREADSHEET_ID", "from-env")
	t.Setenv("GOOGLE_CREDENTIALS_JSON", `{"type":"service_account"}`)

	c, err := Read("-", strings.NewReader(testConfig))
	req.NoError(err)
	req.NoError(LoadEnv(c, zap.NewNop(), filepath.Join(t.TempDir(), "missing.env")))

	req.Equal(":9999", c.Meta.ListenAddr)
	req.Equal("https://solventicsai.com", c.Meta.SiteURL)
	req.Equal("from-env", c.Sheets.SpreadsheetID)
	req.Equal(`{"type":"service_account"}`, c.Sheets.CredentialsJSON)
	req.Equal("sa.json", c.Sheets.CredentialsFile)
}

func TestLoadEnv_DotEnv(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), ".env")
	req.NoError(os.WriteFile(path, []byte("SHEETS_RANGE=Contact!A:D\n"), 0600))
	t.Setenv("SHEETS_RANGE", "")
	os.Unsetenv("SHEETS_RANGE")

	c, err := Read("-", strings.NewReader(testConfig))
	req.NoError(err)
	req.NoError(LoadEnv(c, zap.NewNop(), path))
	req.Equal("Contact!A:D", c.Sheets.Range)
}
