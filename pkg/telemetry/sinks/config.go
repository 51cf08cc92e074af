// Package sinks assembles the telemetry sinks from configuration.
package sinks

import (
	"flag"
	"os"

	"github.com/robotalks/supercap.go/pkg/protocol"
	"github.com/robotalks/supercap.go/pkg/telemetry/udp"
)

// Config selects the sinks to run. An empty address disables the sink.
type Config struct {
	// MQTTURL is the broker to publish to, e.g. tcp://localhost:1883/supercap/.
	MQTTURL string
	// UDPAddr receives the key=value lines.
	UDPAddr string
	// HTTPAddr serves the websocket feed on /telemetry.
	HTTPAddr string
}

var defaultConfig = Config{
	UDPAddr: udp.DefaultAddr,
}

func init() {
	if val, ok := os.LookupEnv("SUPERCAP_MQTT_URL"); ok {
		defaultConfig.MQTTURL = val
	}
	if val, ok := os.LookupEnv("SUPERCAP_UDP_ADDR"); ok {
		defaultConfig.UDPAddr = val
	}
	if val, ok := os.LookupEnv("SUPERCAP_HTTP_ADDR"); ok {
		defaultConfig.HTTPAddr = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	c := &defaultConfig
	flag.StringVar(&c.MQTTURL, "mqtt", c.MQTTURL, "MQTT broker URL to publish telemetry, empty to disable.")
	flag.StringVar(&c.UDPAddr, "udp", c.UDPAddr, "UDP address to forward telemetry lines, empty to disable.")
	flag.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP listen address for the websocket feed, empty to disable.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// NewSinks creates the configured sinks. Nothing is connected or
// listening until Run.
func (c *Config) NewSinks(v protocol.ProtocolVersion) (*Sinks, error) {
	return newSinks(c, v)
}
