package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"github.com/krantius/ring-election/election"
)

// FileConfig holds the timeouts read from the optional JSON config file
type FileConfig struct {
	QuittanceTimeoutMS int `json:"quittance_timeout_ms"`
	ElectionTimeoutMS  int `json:"election_timeout_ms"`
	ProbeIntervalMS    int `json:"probe_interval_ms"`
	EchoTimeoutMS      int `json:"echo_timeout_ms"`
}

// Config is everything a site process needs to start
type Config struct {
	Index     int
	HostsFile string
	APIPort   int
	Election  election.Config
}

func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c := &FileConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing %s: %v", path, err)
	}

	return c, nil
}

func (f *FileConfig) apply(c *election.Config) {
	c.QuittanceTimeout = millis(f.QuittanceTimeoutMS)
	c.ElectionTimeout = millis(f.ElectionTimeoutMS)
	c.ProbeInterval = millis(f.ProbeIntervalMS)
	c.EchoTimeout = millis(f.EchoTimeoutMS)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// LoadConfig reads the process settings from the environment
func LoadConfig() (*Config, error) {
	id := os.Getenv("SITE_INDEX")
	if id == "" {
		return nil, fmt.Errorf("SITE_INDEX not set")
	}

	index, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("SITE_INDEX: %v", err)
	}

	c := &Config{
		Index:     index,
		HostsFile: "hosts.txt",
		APIPort:   8000,
	}

	if hosts := os.Getenv("HOSTS_FILE"); hosts != "" {
		c.HostsFile = hosts
	}

	if portArgs := os.Getenv("API_PORT"); portArgs != "" {
		port, err := strconv.Atoi(portArgs)
		if err != nil {
			return nil, fmt.Errorf("API_PORT: %v", err)
		}
		c.APIPort = port
	}

	if path := os.Getenv("ELECTION_CONFIG"); path != "" {
		f, err := LoadFileConfig(path)
		if err != nil {
			return nil, err
		}
		f.apply(&c.Election)
	}

	return c, nil
}
