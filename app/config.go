package app

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/server"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/zachfi/zkit/pkg/tracing"

	"github.com/zachfi/streamrelay/modules/relay"
)

type Config struct {
	Target   string         `yaml:"target"`
	LogLevel string         `yaml:"log_level,omitempty"`
	Tracing  tracing.Config `yaml:"tracing,omitempty"`
	Server   server.Config  `yaml:"server,omitempty"`
	Relay    relay.Config   `yaml:"relay,omitempty"`
}

// LoadFile overlays the YAML configuration at file onto c. Fields the file
// does not set keep their current values.
func (c *Config) LoadFile(file string) error {
	filename, _ := filepath.Abs(file)

	if err := loadYamlFile(filename, c); err != nil {
		return errors.Wrapf(err, "failed to load config file %s", file)
	}

	return nil
}

// loadYamlFile unmarshals a YAML file into the received interface{} or returns an error.
func loadYamlFile(filename string, d interface{}) error {
	yamlFile, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	err = yaml.UnmarshalStrict(yamlFile, d)
	if err != nil {
		return err
	}

	return nil
}

func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	flagext.DefaultValues(&c.Server)
	f.StringVar(&c.Target, "target", All, "The module to run.")
	f.StringVar(&c.LogLevel, "log.level", "info", "Log level: debug, info, warn or error.")
	f.IntVar(&c.Server.HTTPListenPort, "server.http-listen-port", 3000, "HTTP server listen port.")
	f.IntVar(&c.Server.GRPCListenPort, "server.grpc-listen-port", 9090, "gRPC server listen port.")
	// Listener responses never finish, so a write timeout would cut every one of them.
	f.DurationVar(&c.Server.HTTPServerWriteTimeout, "server.http-write-timeout", 0, "Write timeout for HTTP server. 0 disables it, which listener streams need.")

	c.Tracing.RegisterFlagsAndApplyDefaults("tracing", f)
	c.Relay.RegisterFlagsAndApplyDefaults("relay", f)
}
