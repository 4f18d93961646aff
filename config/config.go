package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/khelechy/lwwdict/crdt"
)

// Structs

// Config holds all settings parsed from the TOML config file and
// the environment.
type Config struct {
	Node     Node
	Sync     Sync
	API      API
	Simulate Simulate
}

// Node configures the replicas hosted by the serve command. With more
// than one replica, ID is used as a prefix for the replica IDs.
type Node struct {
	ID       string
	Bias     string
	Shards   int
	Replicas int
}

// Sync configures periodic anti-entropy between hosted replicas.
type Sync struct {
	Interval Duration
	Workers  int
}

// API configures the HTTP server of the serve command.
type API struct {
	Port    string
	Metrics bool
}

// Simulate configures the simulate command.
type Simulate struct {
	Replicas int
	Rounds   int
	Keys     int
	Dict     string
}

// Duration is a time.Duration read from strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Functions

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Node: Node{
			Bias:     crdt.PreferAdded.String(),
			Shards:   16,
			Replicas: 3,
		},
		Sync: Sync{
			Interval: Duration{7 * time.Second},
			Workers:  2,
		},
		API: API{
			Port: "8080",
		},
		Simulate: Simulate{
			Replicas: 3,
			Rounds:   50,
			Keys:     20,
			Dict:     "config",
		},
	}
}

// LoadConfig reads configFile in TOML syntax on top of Default and then
// applies environment overrides. An empty configFile skips the file.
func LoadConfig(configFile string) (*Config, error) {

	conf := Default()

	if configFile != "" {
		if _, err := toml.DecodeFile(configFile, conf); err != nil {
			return nil, errors.Wrapf(err, "failed to read in TOML config file at '%s'", configFile)
		}
	}

	if err := applyEnv(conf); err != nil {
		return nil, err
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

// applyEnv overrides conf with LWWDICT_* variables.
func applyEnv(conf *Config) error {

	if v := os.Getenv("LWWDICT_NODE_ID"); v != "" {
		conf.Node.ID = v
	}

	if v := os.Getenv("LWWDICT_REPLICAS"); v != "" {
		replicas, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "LWWDICT_REPLICAS")
		}
		conf.Node.Replicas = replicas
	}

	if v := os.Getenv("LWWDICT_BIAS"); v != "" {
		conf.Node.Bias = v
	}

	if v := os.Getenv("LWWDICT_API_PORT"); v != "" {
		conf.API.Port = v
	}

	if v := os.Getenv("LWWDICT_SYNC_INTERVAL"); v != "" {
		if err := conf.Sync.Interval.UnmarshalText([]byte(v)); err != nil {
			return errors.Wrap(err, "LWWDICT_SYNC_INTERVAL")
		}
	}

	if v := os.Getenv("LWWDICT_METRICS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "LWWDICT_METRICS")
		}
		conf.API.Metrics = enabled
	}

	return nil
}

// Validate checks that conf can be used to run a node.
func (conf *Config) Validate() error {

	if _, err := crdt.ParseBias(conf.Node.Bias); err != nil {
		return errors.Wrap(err, "node.bias")
	}

	if conf.Node.Shards <= 0 {
		return errors.Errorf("node.shards must be positive, got %d", conf.Node.Shards)
	}

	if conf.Node.Replicas <= 0 {
		return errors.Errorf("node.replicas must be positive, got %d", conf.Node.Replicas)
	}

	if conf.Sync.Workers <= 0 {
		return errors.Errorf("sync.workers must be positive, got %d", conf.Sync.Workers)
	}

	if conf.Sync.Interval.Duration <= 0 {
		return errors.Errorf("sync.interval must be positive, got %s", conf.Sync.Interval)
	}

	return nil
}

// ReplicaIDs returns the IDs of the hosted replicas. Empty entries mean
// the node picks a random ID.
func (conf *Config) ReplicaIDs() []string {
	ids := make([]string, conf.Node.Replicas)
	if conf.Node.ID == "" {
		return ids
	}
	if len(ids) == 1 {
		ids[0] = conf.Node.ID
		return ids
	}
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", conf.Node.ID, i)
	}
	return ids
}

// NodeBias returns the parsed node bias.
func (conf *Config) NodeBias() crdt.Bias {
	b, _ := crdt.ParseBias(conf.Node.Bias)
	return b
}
