// Package config reads the daemon configuration from HCL.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"

	"audiopolicy/audio"
)

type Schema struct {
	Server   *ServerSchema   `hcl:"server,block"`
	Registry *RegistrySchema `hcl:"registry,block"`
	Engine   *EngineSchema   `hcl:"engine,block"`
}

type ServerSchema struct {
	Listen          string  `hcl:"listen,optional"`
	Advertise       string  `hcl:"advertise,optional"`
	Heartbeat       string  `hcl:"heartbeat,optional"`
	RequestTimeout  string  `hcl:"request_timeout,optional"`
	ShutdownTimeout string  `hcl:"shutdown_timeout,optional"`
	RateLimit       float64 `hcl:"rate_limit,optional"` // transactions per second, 0 disables
	RateBurst       int     `hcl:"rate_burst,optional"`
	Metrics         string  `hcl:"metrics,optional"` // listen address, empty disables
}

type RegistrySchema struct {
	Endpoints   []string `hcl:"endpoints,attr"`
	Service     string   `hcl:"service,optional"`
	TTL         int64    `hcl:"ttl,optional"`
	DialTimeout string   `hcl:"dial_timeout,optional"`
}

type EngineSchema struct {
	MaxOutputs int             `hcl:"max_outputs,optional"`
	MaxInputs  int             `hcl:"max_inputs,optional"`
	Stream     []*StreamSchema `hcl:"stream,block"`
}

// StreamSchema preloads the volume range of one stream type, named as audio.StreamType
// prints it ("music", "voice-call", ...).
type StreamSchema struct {
	Name  string `hcl:"name,label"`
	Min   int    `hcl:"min,attr"`
	Max   int    `hcl:"max,attr"`
	Index int    `hcl:"index,optional"`
}

const (
	DefaultListen          = ":7300"
	DefaultHeartbeat       = 30 * time.Second
	DefaultRequestTimeout  = 2 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultService         = "audiopolicy"
	DefaultTTL             = 10
	DefaultDialTimeout     = 5 * time.Second
	DefaultMaxOutputs      = 16
	DefaultMaxInputs       = 4
)

// Default is the configuration used when no file is given: no registry, no metrics and
// no rate limit.
func Default() *Schema {
	s := &Schema{}
	s.applyDefaults()
	return s
}

func Read(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	s := new(Schema)
	if err := s.Decode(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Decode parses data, fills in defaults and validates the result.
func (s *Schema) Decode(data []byte) error {
	file, diag := hclsyntax.ParseConfig(data, "", hcl.Pos{Line: 1, Column: 1})
	if diag.HasErrors() {
		return diag.Errs()[0]
	}

	diag = gohcl.DecodeBody(file.Body, nil, s)
	if diag.HasErrors() {
		return diag.Errs()[0]
	}

	s.applyDefaults()
	return s.Validate()
}

func (s *Schema) Encode() []byte {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(s, f.Body())
	return f.Bytes()
}

func (s *Schema) applyDefaults() {
	if s.Server == nil {
		s.Server = &ServerSchema{}
	}
	if s.Server.Listen == "" {
		s.Server.Listen = DefaultListen
	}
	if s.Server.Heartbeat == "" {
		s.Server.Heartbeat = DefaultHeartbeat.String()
	}
	if s.Server.RequestTimeout == "" {
		s.Server.RequestTimeout = DefaultRequestTimeout.String()
	}
	if s.Server.ShutdownTimeout == "" {
		s.Server.ShutdownTimeout = DefaultShutdownTimeout.String()
	}

	if s.Registry != nil {
		if s.Registry.Service == "" {
			s.Registry.Service = DefaultService
		}
		if s.Registry.TTL == 0 {
			s.Registry.TTL = DefaultTTL
		}
		if s.Registry.DialTimeout == "" {
			s.Registry.DialTimeout = DefaultDialTimeout.String()
		}
	}

	if s.Engine == nil {
		s.Engine = &EngineSchema{}
	}
	if s.Engine.MaxOutputs == 0 {
		s.Engine.MaxOutputs = DefaultMaxOutputs
	}
	if s.Engine.MaxInputs == 0 {
		s.Engine.MaxInputs = DefaultMaxInputs
	}
}

func (s *Schema) Validate() error {
	for name, v := range map[string]string{
		"heartbeat":        s.Server.Heartbeat,
		"request_timeout":  s.Server.RequestTimeout,
		"shutdown_timeout": s.Server.ShutdownTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("server.%s: %w", name, err)
		}
	}
	if s.Server.RateLimit < 0 || s.Server.RateBurst < 0 {
		return fmt.Errorf("server: rate_limit and rate_burst must not be negative")
	}

	if s.Registry != nil {
		if len(s.Registry.Endpoints) == 0 {
			return fmt.Errorf("registry: no endpoints")
		}
		if _, err := time.ParseDuration(s.Registry.DialTimeout); err != nil {
			return fmt.Errorf("registry.dial_timeout: %w", err)
		}
	}

	if s.Engine.MaxOutputs < 0 || s.Engine.MaxInputs < 0 {
		return fmt.Errorf("engine: session limits must not be negative")
	}
	seen := make(map[audio.StreamType]bool)
	for _, st := range s.Engine.Stream {
		stream, err := st.StreamType()
		if err != nil {
			return err
		}
		if seen[stream] {
			return fmt.Errorf("engine: stream %q configured twice", st.Name)
		}
		seen[stream] = true
		if st.Min < 0 || st.Max <= st.Min {
			return fmt.Errorf("engine: stream %q: bad range [%d, %d]", st.Name, st.Min, st.Max)
		}
		if st.Index < st.Min || st.Index > st.Max {
			return fmt.Errorf("engine: stream %q: index %d outside [%d, %d]", st.Name, st.Index, st.Min, st.Max)
		}
	}
	return nil
}

func (st *StreamSchema) StreamType() (audio.StreamType, error) {
	stream, ok := audio.ParseStreamType(st.Name)
	if !ok {
		return 0, fmt.Errorf("engine: unknown stream %q", st.Name)
	}
	return stream, nil
}

// The duration accessors assume Validate has passed.

func (s *ServerSchema) HeartbeatInterval() time.Duration {
	d, _ := time.ParseDuration(s.Heartbeat)
	return d
}

func (s *ServerSchema) RequestTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.RequestTimeout)
	return d
}

func (s *ServerSchema) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.ShutdownTimeout)
	return d
}

func (r *RegistrySchema) DialTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(r.DialTimeout)
	return d
}
