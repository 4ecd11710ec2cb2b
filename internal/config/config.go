package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/semi-cli/internal/registry"
)

const envPrefix = "SEMI_"

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Strict         bool
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	LogLevel       string
}

type Settings struct {
	OutputMode          string
	SelectFields        []string
	ResultsOnly         bool
	EnableCommands      []string
	Strict              bool
	Timeout             time.Duration
	HistoryTimeout      time.Duration
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
	Retries             int
	MaxStale            time.Duration
	NoStale             bool
	CacheEnabled        bool
	CachePath           string
	CacheLockPath       string
	RedisURL            string
	LogLevel            string
	LogFormat           string
	OTLPEndpoint        string
	ServiceName         string
	ExplorerBaseURL     string
	ExplorerAPIKey      string
	ExplorerRateLimit   float64
	PimlicoAPIKey       string
	BundlerURLs         map[int64]string
	RPCURLs             map[int64]string
	ThirdwebClientID    string
	ThirdwebBaseURL     string
	ProxyBaseURL        string
	IPFSGateways        []string
	ServerAddr          string
	CORSOrigins         []string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Strict  *bool  `yaml:"strict"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Telemetry struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		ServiceName  string `yaml:"service_name"`
	} `yaml:"telemetry"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
		RedisURL string `yaml:"redis_url"`
	} `yaml:"cache"`
	History struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"history"`
	Receipts struct {
		Timeout      string `yaml:"timeout"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"receipts"`
	Explorer struct {
		BaseURL   string   `yaml:"base_url"`
		APIKey    string   `yaml:"api_key"`
		APIKeyEnv string   `yaml:"api_key_env"`
		RateLimit *float64 `yaml:"rate_limit"`
	} `yaml:"explorer"`
	Bundlers struct {
		PimlicoAPIKey    string           `yaml:"pimlico_api_key"`
		PimlicoAPIKeyEnv string           `yaml:"pimlico_api_key_env"`
		URLs             map[int64]string `yaml:"urls"`
	} `yaml:"bundlers"`
	RPCs     map[int64]string `yaml:"rpcs"`
	Thirdweb struct {
		ClientID    string `yaml:"client_id"`
		ClientIDEnv string `yaml:"client_id_env"`
		BaseURL     string `yaml:"base_url"`
	} `yaml:"thirdweb"`
	ProxyBaseURL string `yaml:"proxy_base_url"`
	IPFS         struct {
		Gateways []string `yaml:"gateways"`
	} `yaml:"ipfs"`
	Server struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := loadDotEnv(cfgPath); err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.HistoryTimeout <= 0 {
		settings.HistoryTimeout = 30 * time.Second
	}
	if settings.ReceiptTimeout <= 0 {
		settings.ReceiptTimeout = 2 * time.Minute
	}
	if settings.ReceiptPollInterval <= 0 {
		settings.ReceiptPollInterval = 2 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.ExplorerRateLimit <= 0 {
		settings.ExplorerRateLimit = 5
	}
	if len(settings.IPFSGateways) == 0 {
		settings.IPFSGateways = defaultIPFSGateways(settings.ProxyBaseURL)
	}

	return settings, nil
}

// BundlerURL resolves the ERC-4337 bundler endpoint for a chain.
func (s Settings) BundlerURL(chainID int64) (string, bool) {
	if raw := strings.TrimSpace(s.BundlerURLs[chainID]); raw != "" {
		return registry.NormalizeBundlerURL(raw), true
	}
	if strings.TrimSpace(s.PimlicoAPIKey) != "" {
		return registry.PimlicoBundlerURL(chainID, s.PimlicoAPIKey), true
	}
	return "", false
}

func (s Settings) RPCURL(chainID int64) (string, error) {
	return registry.ResolveRPCURL(s.RPCURLs[chainID], chainID)
}

// URLRewrites maps upstream bases onto the proxy when one is configured.
func (s Settings) URLRewrites() map[string]string {
	if strings.TrimSpace(s.ProxyBaseURL) == "" {
		return nil
	}
	return map[string]string{
		registry.ThirdwebInsightBaseURL: registry.ProxiedThirdwebURL(s.ProxyBaseURL),
	}
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:          "json",
		Timeout:             10 * time.Second,
		HistoryTimeout:      30 * time.Second,
		ReceiptTimeout:      2 * time.Minute,
		ReceiptPollInterval: 2 * time.Second,
		Retries:             2,
		MaxStale:            5 * time.Minute,
		CacheEnabled:        true,
		CachePath:           cachePath,
		CacheLockPath:       lockPath,
		LogLevel:            "warn",
		LogFormat:           "json",
		ServiceName:         "semi",
		ExplorerBaseURL:     registry.EtherscanBaseURL,
		ExplorerRateLimit:   5,
		BundlerURLs:         map[int64]string{},
		RPCURLs:             map[int64]string{},
		ThirdwebBaseURL:     registry.ThirdwebInsightBaseURL,
		ServerAddr:          ":8080",
		CORSOrigins:         []string{"*"},
	}, nil
}

func defaultIPFSGateways(proxyBase string) []string {
	out := []string{}
	if strings.TrimSpace(proxyBase) != "" {
		out = append(out, strings.TrimRight(strings.TrimSpace(proxyBase), "/"))
	}
	return append(out,
		"https://ipfs.io",
		"https://nftstorage.link",
		"https://dweb.link",
		"https://gateway.pinata.cloud",
	)
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "semi", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "semi")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

// loadDotEnv loads .env next to the config file, then in the working directory.
// Variables already present in the environment are never overridden.
func loadDotEnv(configPath string) error {
	candidates := []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"}
	seen := map[string]struct{}{}
	for _, path := range candidates {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func dedup(values []string) []string {
	out := make([]string, 0, len(values))
	for i, v := range values {
		if i > 0 && values[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(buf))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Strict != nil {
		settings.Strict = *cfg.Strict
	}
	if err := setDuration(cfg.Timeout, "timeout", &settings.Timeout); err != nil {
		return err
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		settings.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		settings.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if err := setDuration(cfg.Cache.MaxStale, "cache.max_stale", &settings.MaxStale); err != nil {
		return err
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Cache.RedisURL != "" {
		settings.RedisURL = cfg.Cache.RedisURL
	}
	if err := setDuration(cfg.History.Timeout, "history.timeout", &settings.HistoryTimeout); err != nil {
		return err
	}
	if err := setDuration(cfg.Receipts.Timeout, "receipts.timeout", &settings.ReceiptTimeout); err != nil {
		return err
	}
	if err := setDuration(cfg.Receipts.PollInterval, "receipts.poll_interval", &settings.ReceiptPollInterval); err != nil {
		return err
	}
	if cfg.Explorer.BaseURL != "" {
		settings.ExplorerBaseURL = cfg.Explorer.BaseURL
	}
	if cfg.Explorer.APIKey != "" {
		settings.ExplorerAPIKey = cfg.Explorer.APIKey
	}
	if cfg.Explorer.APIKeyEnv != "" {
		settings.ExplorerAPIKey = os.Getenv(cfg.Explorer.APIKeyEnv)
	}
	if cfg.Explorer.RateLimit != nil {
		settings.ExplorerRateLimit = *cfg.Explorer.RateLimit
	}
	if cfg.Bundlers.PimlicoAPIKey != "" {
		settings.PimlicoAPIKey = cfg.Bundlers.PimlicoAPIKey
	}
	if cfg.Bundlers.PimlicoAPIKeyEnv != "" {
		settings.PimlicoAPIKey = os.Getenv(cfg.Bundlers.PimlicoAPIKeyEnv)
	}
	for chainID, url := range cfg.Bundlers.URLs {
		settings.BundlerURLs[chainID] = url
	}
	for chainID, url := range cfg.RPCs {
		settings.RPCURLs[chainID] = url
	}
	if cfg.Thirdweb.ClientID != "" {
		settings.ThirdwebClientID = cfg.Thirdweb.ClientID
	}
	if cfg.Thirdweb.ClientIDEnv != "" {
		settings.ThirdwebClientID = os.Getenv(cfg.Thirdweb.ClientIDEnv)
	}
	if cfg.Thirdweb.BaseURL != "" {
		settings.ThirdwebBaseURL = cfg.Thirdweb.BaseURL
	}
	if cfg.ProxyBaseURL != "" {
		settings.ProxyBaseURL = cfg.ProxyBaseURL
	}
	if len(cfg.IPFS.Gateways) > 0 {
		settings.IPFSGateways = normalizeList(cfg.IPFS.Gateways)
	}
	if cfg.Server.Addr != "" {
		settings.ServerAddr = cfg.Server.Addr
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		settings.CORSOrigins = normalizeList(cfg.Server.CORSOrigins)
	}

	return nil
}

func setDuration(raw, field string, dst *time.Duration) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	*dst = d
	return nil
}

func applyEnv(settings *Settings) error {
	if v := os.Getenv(envPrefix + "OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv(envPrefix + "STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Strict = b
		}
	}
	envDuration(envPrefix+"TIMEOUT", &settings.Timeout)
	envDuration(envPrefix+"HISTORY_TIMEOUT", &settings.HistoryTimeout)
	envDuration(envPrefix+"RECEIPT_TIMEOUT", &settings.ReceiptTimeout)
	envDuration(envPrefix+"RECEIPT_POLL_INTERVAL", &settings.ReceiptPollInterval)
	envDuration(envPrefix+"MAX_STALE", &settings.MaxStale)
	if v := os.Getenv(envPrefix + "RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv(envPrefix + "NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv(envPrefix + "NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	envString(envPrefix+"CACHE_PATH", &settings.CachePath)
	envString(envPrefix+"CACHE_LOCK_PATH", &settings.CacheLockPath)
	envString(envPrefix+"REDIS_URL", &settings.RedisURL)
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		settings.LogFormat = strings.ToLower(v)
	}
	envString(envPrefix+"OTLP_ENDPOINT", &settings.OTLPEndpoint)
	envString(envPrefix+"SERVICE_NAME", &settings.ServiceName)
	envString(envPrefix+"EXPLORER_BASE_URL", &settings.ExplorerBaseURL)
	envString(envPrefix+"ETHERSCAN_API_KEY", &settings.ExplorerAPIKey)
	if v := os.Getenv(envPrefix + "EXPLORER_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.ExplorerRateLimit = f
		}
	}
	envString(envPrefix+"PIMLICO_API_KEY", &settings.PimlicoAPIKey)
	envString(envPrefix+"THIRDWEB_CLIENT_ID", &settings.ThirdwebClientID)
	envString(envPrefix+"THIRDWEB_BASE_URL", &settings.ThirdwebBaseURL)
	envString(envPrefix+"PROXY_BASE_URL", &settings.ProxyBaseURL)
	if v := os.Getenv(envPrefix + "IPFS_GATEWAYS"); v != "" {
		settings.IPFSGateways = normalizeList(strings.Split(v, ","))
	} else if v := os.Getenv(envPrefix + "IPFS_GATEWAY"); v != "" {
		settings.IPFSGateways = normalizeList([]string{v})
	}
	envString(envPrefix+"SERVER_ADDR", &settings.ServerAddr)
	if v := os.Getenv(envPrefix + "CORS_ORIGINS"); v != "" {
		settings.CORSOrigins = normalizeList(strings.Split(v, ","))
	}

	// SEMI_BUNDLER_URL_<chainID> and SEMI_RPC_URL_<chainID>.
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		switch {
		case strings.HasPrefix(name, envPrefix+"BUNDLER_URL_"):
			chainID, err := strconv.ParseInt(strings.TrimPrefix(name, envPrefix+"BUNDLER_URL_"), 10, 64)
			if err != nil {
				return fmt.Errorf("%s: chain id suffix must be numeric", name)
			}
			settings.BundlerURLs[chainID] = value
		case strings.HasPrefix(name, envPrefix+"RPC_URL_"):
			chainID, err := strconv.ParseInt(strings.TrimPrefix(name, envPrefix+"RPC_URL_"), 10, 64)
			if err != nil {
				return fmt.Errorf("%s: chain id suffix must be numeric", name)
			}
			settings.RPCURLs[chainID] = value
		}
	}
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = normalizeList(strings.Split(flags.Select, ","))
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = normalizeList(strings.Split(flags.EnableCommands, ","))
	}

	if flags.Strict {
		settings.Strict = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if strings.TrimSpace(flags.LogLevel) != "" {
		settings.LogLevel = strings.ToLower(strings.TrimSpace(flags.LogLevel))
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.LogFormat != "json" && settings.LogFormat != "text" {
		return fmt.Errorf("log format must be json or text")
	}

	return nil
}
