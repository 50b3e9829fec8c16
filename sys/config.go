package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvDiscordToken    = "DISCORD_TOKEN"
	EnvGuildID         = "GUILD_ID"
	EnvDatabasePath    = "DATABASE_PATH"
	EnvCacheDir        = "CACHE_DIR"
	EnvMaxCachedTracks = "MAX_CACHED_TRACKS"
	EnvSilent          = "SILENT"
	EnvLogToFile       = "LOG_TO_FILE"
)

type Config struct {
	Token           string
	GuildID         string
	DatabasePath    string
	CacheDir        string
	MaxCachedTracks int
	Silent          bool
	LogToFile       bool
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv(EnvDatabasePath)
	if dbPath == "" {
		dbPath = filepath.Join(".", GetProjectName()+".db")
	}

	cacheDir := os.Getenv(EnvCacheDir)
	if cacheDir == "" {
		cacheDir = ".tracks"
	}

	silent, _ := strconv.ParseBool(os.Getenv(EnvSilent))
	logToFile, _ := strconv.ParseBool(os.Getenv(EnvLogToFile))

	cfg := &Config{
		Token:           os.Getenv(EnvDiscordToken),
		GuildID:         os.Getenv(EnvGuildID),
		DatabasePath:    dbPath,
		CacheDir:        cacheDir,
		MaxCachedTracks: 20,
		Silent:          silent,
		LogToFile:       logToFile,
	}

	if maxStr := os.Getenv(EnvMaxCachedTracks); maxStr != "" {
		if max, err := strconv.Atoi(maxStr); err == nil && max > 0 {
			cfg.MaxCachedTracks = max
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf(MsgConfigInvalidGuildID)
	}
	return nil
}

// GetProjectName resolves the bot's display name from the executable or go.mod.
func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
