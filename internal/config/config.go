package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/netfleet/upgrade-orchestrator/internal/constants"
	"github.com/netfleet/upgrade-orchestrator/pkg/file"
)

// Config represents the structure of the configuration file. It is built once
// at startup and treated as immutable afterwards; components receive it (or the
// sections they need) explicitly instead of reading the environment themselves.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"` // HTTP API listen address
		APIKey     string `yaml:"api_key"`     // access_token header value required on mutating routes
	} `yaml:"server"`

	Device struct {
		Username          string        `yaml:"username"`            // SSH username for device sessions
		Password          string        `yaml:"password"`            // SSH password
		EnablePassword    string        `yaml:"enable_password"`     // privileged-exec password
		SocketTimeout     time.Duration `yaml:"socket_timeout"`      // SSH dial deadline
		CommandTimeout    time.Duration `yaml:"command_timeout"`     // per remote command deadline
		KeepAliveInterval time.Duration `yaml:"keep_alive_interval"` // SSH keepalive probe interval
	} `yaml:"device"`

	Upgrade struct {
		TargetVersion     string            `yaml:"target_version"`      // firmware version devices should run
		ImageFilename     string            `yaml:"image_filename"`      // full image filename expected in flash
		ImageSize         int64             `yaml:"image_size"`          // expected image size in bytes
		FlashThreshold    int64             `yaml:"flash_threshold"`     // minimum free flash bytes before download
		FileServers       map[string]string `yaml:"file_servers"`        // region -> HTTP file server URL
		DefaultFileServer string            `yaml:"default_file_server"` // fallback when a region has no entry
	} `yaml:"upgrade"`

	Scheduler struct {
		Workers int `yaml:"workers"` // fleet-wide concurrent session ceiling
	} `yaml:"scheduler"`

	Store struct {
		Path string `yaml:"path"` // SQLite database path
	} `yaml:"store"`

	Artifacts struct {
		Dir   string `yaml:"dir"` // directory for precheck snapshot files
		Minio struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket"`
			UseSSL    bool   `yaml:"use_ssl"`
		} `yaml:"minio"` // optional object storage mirror; disabled when endpoint is empty
	} `yaml:"artifacts"`

	Inventory struct {
		URL   string `yaml:"url"`   // inventory GraphQL endpoint
		Token string `yaml:"token"` // inventory API token
	} `yaml:"inventory"`

	Tracking struct {
		WebhookURL string `yaml:"webhook_url"` // tracking sink; skipped when empty
	} `yaml:"tracking"`
}

// LoadConfig loads the YAML configuration from the specified file, overlays
// well-known environment variables and applies defaults.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnv overlays the environment variables the deployment tooling sets on
// top of the file values. Environment wins where present.
func (c *Config) applyEnv() {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	overlay(&c.Server.APIKey, "API_KEY")
	overlay(&c.Device.Username, "DEVICE_USERNAME")
	overlay(&c.Device.Password, "DEVICE_PASSWORD")
	overlay(&c.Device.EnablePassword, "DEVICE_ENABLE_PASSWORD")
	overlay(&c.Upgrade.TargetVersion, "TARGET_IOS_VERSION")
	overlay(&c.Upgrade.ImageFilename, "FULL_IOS_FILENAME")
	overlay(&c.Upgrade.DefaultFileServer, "DEFAULT_HTTP_FILE_SERVER_URL")
	overlay(&c.Inventory.URL, "NETBOX_URL")
	overlay(&c.Inventory.Token, "NETBOX_TOKEN")
	overlay(&c.Tracking.WebhookURL, "BLINKOPS_WEBHOOK_URL")

	if v := os.Getenv("FULL_IOS_FILESIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Upgrade.ImageSize = n
		}
	}
	if v := os.Getenv("FLASH_FREE_SPACE_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Upgrade.FlashThreshold = n
		}
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.Workers = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Device.SocketTimeout == 0 {
		c.Device.SocketTimeout = constants.DefaultSocketTimeout
	}
	if c.Device.CommandTimeout == 0 {
		c.Device.CommandTimeout = constants.DefaultCommandTimeout
	}
	if c.Device.KeepAliveInterval == 0 {
		c.Device.KeepAliveInterval = constants.DefaultKeepAliveInterval
	}
	if c.Upgrade.TargetVersion == "" {
		c.Upgrade.TargetVersion = constants.DefaultTargetVersion
	}
	if c.Upgrade.ImageSize == 0 {
		c.Upgrade.ImageSize = constants.DefaultImageSize
	}
	if c.Upgrade.FlashThreshold == 0 {
		c.Upgrade.FlashThreshold = constants.DefaultFlashThreshold
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 1
	}
	if c.Store.Path == "" {
		c.Store.Path = "orchestrator.sqlite"
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = "static/prechecks"
	}
}

func (c *Config) validate() error {
	if c.Server.APIKey == "" {
		return fmt.Errorf("config: api_key is not set")
	}
	return nil
}

// FileServerURL returns the HTTP file server for a region, falling back to the
// default server when the region has no dedicated entry.
func (c *Config) FileServerURL(region string) string {
	if url, ok := c.Upgrade.FileServers[strings.ToUpper(region)]; ok && url != "" {
		return url
	}
	return c.Upgrade.DefaultFileServer
}
