package main

import (
	"os"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/hcitlab/irgen/logging"
	"github.com/hcitlab/irgen/openni"
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root" koanf:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix" koanf:"Prefix"`

	// Enabled starts the server with autowrite on
	Enabled bool `yaml:"Enabled" koanf:"Enabled"`
}

type retry struct {
	InitialInterval time.Duration `yaml:"InitialInterval" koanf:"InitialInterval"`
	MaxInterval     time.Duration `yaml:"MaxInterval" koanf:"MaxInterval"`
	MaxElapsedTime  time.Duration `yaml:"MaxElapsedTime" koanf:"MaxElapsedTime"`
}

type config struct {
	Addr string `yaml:"Addr" koanf:"Addr"`
	Root string `yaml:"Root" koanf:"Root"`

	// Mock serves a simulated node instead of an OpenNI device
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// OutputMode is WxH@FPS
	OutputMode string `yaml:"OutputMode" koanf:"OutputMode"`
	Mirror     bool   `yaml:"Mirror" koanf:"Mirror"`

	Recorder recorder       `yaml:"Recorder" koanf:"Recorder"`
	Log      logging.Config `yaml:"Log" koanf:"Log"`
	Retry    retry          `yaml:"Retry" koanf:"Retry"`
}

func defaults() config {
	return config{
		Addr:       ":8000",
		Root:       "/",
		Mock:       false,
		OutputMode: openni.DefaultMode.String(),
		Recorder:   recorder{Prefix: "ir"},
		Log:        logging.DefaultConfig(),
		Retry: retry{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxElapsedTime:  30 * time.Second,
		},
	}
}

// loadConfig layers the file at path over the defaults.  A missing file is
// not an error.
func loadConfig(path string) (config, error) {
	k := koanf.New(".")
	c := config{}
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return c, err
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return c, err
		}
	}
	err := k.Unmarshal("", &c)
	return c, err
}

// outputMode parses the configured output mode
func (c config) outputMode() (openni.MapOutputMode, error) {
	return openni.ParseMapOutputMode(c.OutputMode)
}
