// Package config loads the daemon's TOML configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/agentdeck/agentdeck/internal/logger"
	"github.com/agentdeck/agentdeck/internal/supervisor"
)

// FileConfig represents the top-level TOML structure.
//
//	listen = ":8080"
//	base_path = ""
//	log_level = "info"
//
//	[capture]
//	dir = "/var/log/agentdeck"
//
//	[history]
//	dsn = "sqlite:///var/lib/agentdeck/history.db"
//
//	[supervisors.agent]
//	allowed_roots = ["/srv/agents"]
//	allowed_exts = [".py"]
//	interpreter = ["python3"]
//	idle_timeout = "5m"
//
//	[supervisors.app]
//	allowed_roots = ["/srv/apps"]
//	allowed_exts = [".sh"]
//	idle_timeout = "30m"
//	port_min = 42000
//	port_max = 42999
type FileConfig struct {
	Listen      string                       `mapstructure:"listen"`
	BasePath    string                       `mapstructure:"base_path"`
	LogLevel    string                       `mapstructure:"log_level"`
	Capture     logger.Config                `mapstructure:"capture"`
	History     HistoryConfig                `mapstructure:"history"`
	Supervisors map[string]supervisor.Config `mapstructure:"supervisors"`
}

// HistoryConfig selects the lifecycle-event sink by DSN; empty disables it.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Defaults applied after decoding.
const (
	DefaultListen          = ":8080"
	DefaultAgentTimeout    = 5 * time.Minute
	DefaultAppTimeout      = 30 * time.Minute
	DefaultAppPortMin      = 42000
	DefaultAppPortMax      = 42999
	agentSupervisorName    = "agent"
	appSupervisorName      = "app"
	defaultAgentExtension  = ".py"
	defaultAgentInterpName = "python3"
)

// Load reads and decodes the TOML file at path, then fills in defaults. The
// two well-known supervisors "agent" and "app" exist even if the file omits
// them; additional kinds may be declared freely.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	fc.ApplyDefaults()
	return &fc, nil
}

// ApplyDefaults fills zero-valued fields. Load calls this; a zero FileConfig
// with ApplyDefaults applied yields a usable no-file configuration.
func (fc *FileConfig) ApplyDefaults() {
	if fc.Listen == "" {
		fc.Listen = DefaultListen
	}
	if fc.Supervisors == nil {
		fc.Supervisors = make(map[string]supervisor.Config, 2)
	}

	agent := fc.Supervisors[agentSupervisorName]
	agent.Name = agentSupervisorName
	if agent.IdleTimeout <= 0 {
		agent.IdleTimeout = DefaultAgentTimeout
	}
	if len(agent.AllowedExts) == 0 {
		agent.AllowedExts = []string{defaultAgentExtension}
	}
	if len(agent.Interpreter) == 0 {
		agent.Interpreter = []string{defaultAgentInterpName}
	}
	fc.Supervisors[agentSupervisorName] = agent

	app := fc.Supervisors[appSupervisorName]
	app.Name = appSupervisorName
	if app.IdleTimeout <= 0 {
		app.IdleTimeout = DefaultAppTimeout
	}
	if app.PortMin <= 0 {
		app.PortMin = DefaultAppPortMin
	}
	if app.PortMax <= 0 {
		app.PortMax = DefaultAppPortMax
	}
	fc.Supervisors[appSupervisorName] = app

	// every kind shares the capture settings unless it sets its own, and
	// the map key is authoritative for the name
	for name, sc := range fc.Supervisors {
		sc.Name = name
		if sc.Capture.Dir == "" {
			sc.Capture = fc.Capture
		}
		fc.Supervisors[name] = sc
	}
}
