package agw

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// TNCConfig describes the [tnc] block: the TCP endpoint and per-frame
// defaults applied to a Server built from this Config.
type TNCConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	FrameLength int    `toml:"frame-length"`
	ID          string `toml:"id"`
}

// LoggingConfig describes the [logging] block, grounded on
// cmd/dtnd/configuration.go's logConf.
type LoggingConfig struct {
	Level        string `toml:"level"`
	Format       string `toml:"format"`
	ReportCaller bool   `toml:"report-caller"`
}

// ListenConfig describes the [listen] block.
type ListenConfig struct {
	Calls []string `toml:"calls"`
	Ports []int    `toml:"ports"`
}

// CompatConfig describes the [compat] block; see spec.md §9.
type CompatConfig struct {
	DirewolfPortDoubling bool `toml:"direwolf-port-doubling"`
}

// HeardConfig describes the [heard] block.
type HeardConfig struct {
	Store string `toml:"store"`
}

// Config is the root of agwmon's (and any embedder's) TOML configuration,
// per SPEC_FULL.md §4.12.
type Config struct {
	TNC     TNCConfig     `toml:"tnc"`
	Logging LoggingConfig `toml:"logging"`
	Listen  ListenConfig  `toml:"listen"`
	Compat  CompatConfig  `toml:"compat"`
	Heard   HeardConfig   `toml:"heard"`
}

// LoadConfig decodes a Config from a TOML file at path.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("agw: decoding config %s: %w", path, err)
	}
	return cfg, nil
}

// Dump re-encodes cfg as TOML, for debug output. Round-tripping a Config
// through LoadConfig then Dump preserves every field the decoder read.
func (c Config) Dump() (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return "", fmt.Errorf("agw: encoding config: %w", err)
	}
	return buf.String(), nil
}

// PortBytes converts the [listen] ports list to []byte, for ListenOptions.
func (c ListenConfig) PortBytes() []byte {
	if len(c.Ports) == 0 {
		return nil
	}
	ports := make([]byte, len(c.Ports))
	for i, p := range c.Ports {
		ports[i] = byte(p)
	}
	return ports
}

// WatchLogging re-reads path on every write and invokes onChange with the
// freshly decoded LoggingConfig, per SPEC_FULL.md §4.12: only the
// [logging] block is live-reloadable, the TNC endpoint and listen set are
// fixed for the process lifetime. The returned stop function closes the
// underlying watcher; errors from fsnotify are logged, not propagated,
// since a broken watch should not take down the Server.
func WatchLogging(path string, onChange func(LoggingConfig)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("agw: starting config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("agw: watching config %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, cfgErr := LoadConfig(path)
				if cfgErr != nil {
					log.WithError(cfgErr).Warn("agw: config reload failed, keeping previous logging settings")
					continue
				}
				onChange(cfg.Logging)

			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(watchErr).Warn("agw: config watcher error")
			}
		}
	}()

	stop = func() {
		_ = watcher.Close()
		<-done
	}
	return stop, nil
}
