// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for canvas, economy and server settings.
//
// Values resolve in three layers: compiled defaults, an optional YAML file
// (CONFIG_FILE), then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	StaticDir  string `yaml:"static_dir"`  // Directory with the web client
	AdminReset bool   `yaml:"admin_reset"` // Enables POST /api/admin/reset

	// AllowedOrigins are accepted for CORS and WebSocket upgrades in
	// addition to localhost and the server's own host.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Host:      "0.0.0.0",
		Port:      3000,
		StaticDir: "public",
	}
}

func (c *ServerConfig) applyEnv() {
	if h := os.Getenv("HOST"); h != "" {
		c.Host = h
	}
	if p := getEnvInt("PORT", 0); p > 0 {
		c.Port = p
	}
	if d := os.Getenv("STATIC_DIR"); d != "" {
		c.StaticDir = d
	}
	if v := os.Getenv("ADMIN_RESET_ENABLED"); v != "" {
		c.AdminReset = v == "true"
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}
}

// =============================================================================
// CANVAS CONFIGURATION
// =============================================================================

// CanvasConfig describes the shared grid.
type CanvasConfig struct {
	Size         int    `yaml:"size"`          // Side length of the square grid
	SnapshotPath string `yaml:"snapshot_path"` // ".zst" suffix enables compression
}

// DefaultCanvas returns the default canvas configuration.
func DefaultCanvas() CanvasConfig {
	return CanvasConfig{
		Size:         250,
		SnapshotPath: "pixels.json",
	}
}

func (c *CanvasConfig) applyEnv() {
	if s := getEnvInt("CANVAS_SIZE", 0); s > 0 {
		c.Size = s
	}
	if p := os.Getenv("SNAPSHOT_PATH"); p != "" {
		c.SnapshotPath = p
	}
}

// =============================================================================
// ECONOMY CONFIGURATION
// =============================================================================

// EconomyConfig holds token, level and energy rules.
type EconomyConfig struct {
	PixelReward    float64 `yaml:"pixel_reward"`    // Tokens granted per placed pixel
	LevelThreshold float64 `yaml:"level_threshold"` // Tokens per level
	MaxLevel       int     `yaml:"max_level"`
	DynamiteCost   float64 `yaml:"dynamite_cost"`
	MaxEnergy      int     `yaml:"max_energy"`

	DefaultColor  string `yaml:"default_color"`
	DefaultEnergy int    `yaml:"default_energy"`
}

// DefaultEconomy returns the default economy rules.
func DefaultEconomy() EconomyConfig {
	return EconomyConfig{
		PixelReward:    0.1,
		LevelThreshold: 100,
		MaxLevel:       100,
		DynamiteCost:   100,
		MaxEnergy:      100,
		DefaultColor:   "#ff4444",
		DefaultEnergy:  100,
	}
}

func (c *EconomyConfig) applyEnv() {
	if v := getEnvFloat("PIXEL_REWARD", -1); v >= 0 {
		c.PixelReward = v
	}
	if v := getEnvFloat("DYNAMITE_COST", -1); v >= 0 {
		c.DynamiteCost = v
	}
	if v := getEnvInt("MAX_LEVEL", 0); v > 0 {
		c.MaxLevel = v
	}
}

// =============================================================================
// MAINTENANCE CONFIGURATION
// =============================================================================

// MaintenanceConfig controls the periodic background actions.
type MaintenanceConfig struct {
	PersistEvery   time.Duration `yaml:"persist_every"`
	RegenEvery     time.Duration `yaml:"regen_every"`
	RegenAmount    int           `yaml:"regen_amount"`
	ActivityWindow time.Duration `yaml:"activity_window"` // Only recently active players regenerate
	EvictEvery     time.Duration `yaml:"evict_every"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// DefaultMaintenance returns the default schedule.
func DefaultMaintenance() MaintenanceConfig {
	return MaintenanceConfig{
		PersistEvery:   30 * time.Second,
		RegenEvery:     30 * time.Second,
		RegenAmount:    10,
		ActivityWindow: 5 * time.Minute,
		EvictEvery:     time.Minute,
		IdleTimeout:    5 * time.Minute,
	}
}

func (c *MaintenanceConfig) applyEnv() {
	if d := getEnvDuration("PERSIST_INTERVAL", 0); d > 0 {
		c.PersistEvery = d
	}
	if d := getEnvDuration("REGEN_INTERVAL", 0); d > 0 {
		c.RegenEvery = d
	}
	if d := getEnvDuration("EVICT_INTERVAL", 0); d > 0 {
		c.EvictEvery = d
	}
	if d := getEnvDuration("IDLE_TIMEOUT", 0); d > 0 {
		c.IdleTimeout = d
	}
}

// =============================================================================
// LEADERBOARD CONFIGURATION
// =============================================================================

// LeaderboardConfig bounds the ranked views.
type LeaderboardConfig struct {
	TopN       int `yaml:"top_n"`        // Entries broadcast to clients
	StatusTopN int `yaml:"status_top_n"` // Entries in /api/status
}

// DefaultLeaderboard returns the default leaderboard bounds.
func DefaultLeaderboard() LeaderboardConfig {
	return LeaderboardConfig{
		TopN:       100,
		StatusTopN: 10,
	}
}

func (c *LeaderboardConfig) applyEnv() {
	if n := getEnvInt("LEADERBOARD_SIZE", 0); n > 0 {
		c.TopN = n
	}
}

// =============================================================================
// CONNECTION LIMITS
// =============================================================================

// ResourceLimits controls DoS protection and transport limits.
type ResourceLimits struct {
	MaxConnections      int           `yaml:"max_connections"`
	MaxConnectionsPerIP int           `yaml:"max_connections_per_ip"`
	SendBuffer          int           `yaml:"send_buffer"` // Outbound frames queued per connection
	PingInterval        time.Duration `yaml:"ping_interval"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	MaxMessageBytes     int64         `yaml:"max_message_bytes"`
}

// DefaultLimits returns the default resource limits.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxConnections:      500,
		MaxConnectionsPerIP: 10,
		SendBuffer:          256,
		PingInterval:        25 * time.Second,
		ReadTimeout:         90 * time.Second,
		MaxMessageBytes:     4096,
	}
}

func (c *ResourceLimits) applyEnv() {
	if n := getEnvInt("MAX_CONNECTIONS", 0); n > 0 {
		c.MaxConnections = n
	}
	if n := getEnvInt("MAX_CONNECTIONS_PER_IP", 0); n > 0 {
		c.MaxConnectionsPerIP = n
	}
}

// =============================================================================
// OBSERVABILITY CONFIGURATION
// =============================================================================

// ObservabilityConfig holds debug server and logging settings.
type ObservabilityConfig struct {
	DebugServer  bool   `yaml:"debug_server"`
	DebugAddr    string `yaml:"debug_addr"`
	EventLogPath string `yaml:"event_log_path"` // Empty disables the activity journal
	Debug        bool   `yaml:"debug"`          // Per-message logging
}

// DefaultObservability returns the default observability settings.
func DefaultObservability() ObservabilityConfig {
	return ObservabilityConfig{
		DebugServer: true,
		DebugAddr:   "127.0.0.1:6060",
	}
}

func (c *ObservabilityConfig) applyEnv() {
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		c.DebugServer = false
	}
	if p := os.Getenv("EVENT_LOG_PATH"); p != "" {
		c.EventLogPath = p
	}
	if os.Getenv("LOG_DEBUG") == "true" {
		c.Debug = true
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Canvas        CanvasConfig        `yaml:"canvas"`
	Economy       EconomyConfig       `yaml:"economy"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
	Leaderboard   LeaderboardConfig   `yaml:"leaderboard"`
	Limits        ResourceLimits      `yaml:"limits"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Default returns the compiled-in configuration.
func Default() AppConfig {
	return AppConfig{
		Server:        DefaultServer(),
		Canvas:        DefaultCanvas(),
		Economy:       DefaultEconomy(),
		Maintenance:   DefaultMaintenance(),
		Leaderboard:   DefaultLeaderboard(),
		Limits:        DefaultLimits(),
		Observability: DefaultObservability(),
	}
}

// Load returns the complete configuration: defaults, then the YAML file named
// by CONFIG_FILE (if any), then environment overrides.
func Load() (AppConfig, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// MergeFile overlays the YAML document at path onto cfg.
// Keys missing from the document keep their current values.
func (c *AppConfig) MergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	c.Server.applyEnv()
	c.Canvas.applyEnv()
	c.Economy.applyEnv()
	c.Maintenance.applyEnv()
	c.Leaderboard.applyEnv()
	c.Limits.applyEnv()
	c.Observability.applyEnv()
}

// Validate rejects configurations the server cannot run with.
func (c AppConfig) Validate() error {
	switch {
	case c.Canvas.Size <= 0:
		return fmt.Errorf("canvas size must be positive, got %d", c.Canvas.Size)
	case c.Economy.LevelThreshold <= 0:
		return fmt.Errorf("level threshold must be positive, got %v", c.Economy.LevelThreshold)
	case c.Economy.MaxLevel < 1:
		return fmt.Errorf("max level must be at least 1, got %d", c.Economy.MaxLevel)
	case c.Economy.MaxEnergy <= 0:
		return fmt.Errorf("max energy must be positive, got %d", c.Economy.MaxEnergy)
	case c.Leaderboard.TopN <= 0:
		return fmt.Errorf("leaderboard size must be positive, got %d", c.Leaderboard.TopN)
	case c.Maintenance.PersistEvery <= 0, c.Maintenance.RegenEvery <= 0, c.Maintenance.EvictEvery <= 0:
		return fmt.Errorf("maintenance intervals must be positive")
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
