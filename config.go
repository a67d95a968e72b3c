package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/moddengine/photoproxy/gateway"
)

const defaultConfigFile = "conf/config.json"

type Config struct {
	FlickrKey       string        `json:"flickrKey" env:"FLICKR_KEY"`
	FlickrURL       string        `json:"flickrUrl" env:"FLICKR_URL"`
	Port            int           `json:"port" env:"PORT"`
	LogLevel        string        `json:"logLevel" env:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `json:"-" env:"SHUTDOWN_TIMEOUT"`
	Cache           struct {
		Enabled       bool          `json:"enabled" env:"CACHE_ENABLED"`
		Database      string        `json:"database" env:"CACHE_DATABASE"`
		MemorySize    int           `json:"memorySize" env:"CACHE_MEMORY_SIZE"`
		TTL           time.Duration `json:"-" env:"CACHE_TTL"`
		PurgeInterval time.Duration `json:"-" env:"CACHE_PURGE_INTERVAL"`
	} `json:"cache"`
}

func defaultConfig() Config {
	cfg := Config{
		FlickrURL:       gateway.FlickrURL,
		Port:            2000,
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
	cfg.Cache.Database = gateway.DefaultDatabase
	cfg.Cache.MemorySize = gateway.DefaultMemorySize
	cfg.Cache.TTL = gateway.DefaultTTL
	cfg.Cache.PurgeInterval = time.Hour
	return cfg
}

// loadConfig reads the optional JSON file first; environment variables override it.
func loadConfig(filename string) (*Config, error) {
	cfg := defaultConfig()

	if filename == "" {
		filename = defaultConfigFile
	}
	if err := loadConfigFile(filename, &cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if cfg.FlickrKey == "" {
		return nil, errors.New("FLICKR_KEY is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return &cfg, nil
}

func loadConfigFile(filename string, cfg *Config) error {
	f, err := os.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := json.NewDecoder(f)
	switch err := decoder.Decode(cfg).(type) {
	case nil:
		return nil
	case *json.SyntaxError:
		if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
			return seekErr
		}
		pos := findPos(bufio.NewReader(f), int(err.Offset))
		return fmt.Errorf("unable to decode configuration file %s (Line: %d, Pos: %d): %w", filename, pos.line, pos.pos, err)
	default:
		return fmt.Errorf("unable to decode configuration file %s: %w", filename, err)
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type FilePos struct {
	line int
	pos  int
}

// findPos turns a byte offset into a 1-based line and a column within that line.
func findPos(file *bufio.Reader, offset int) FilePos {
	p := FilePos{line: 1, pos: offset}
	for {
		line, err := file.ReadBytes('\n')
		if len(line) == 0 {
			return p
		}
		if p.pos <= len(line) || line[len(line)-1] != '\n' {
			return p
		}
		p.line += 1
		p.pos -= len(line)
		if err != nil {
			return p
		}
	}
}
