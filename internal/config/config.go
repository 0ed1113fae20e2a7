package config

import (
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"doorknock/internal/hexcodec"
	"doorknock/internal/porthop"
	"doorknock/internal/secmem"
)

// SecretEnv overrides an empty secret in any knock section.
const SecretEnv = "DOORKNOCK_SECRET"

const (
	defaultRotateSeconds = 30
	defaultInitHashPos   = -1
	defaultGrantSeconds  = 30
	defaultKnockDelayMS  = 100

	// A server holds a socket per range port and protocol.
	maxServedPorts = 16384
)

type PortRange struct {
	Min int `json:"min" yaml:"min" toml:"min"`
	Max int `json:"max" yaml:"max" toml:"max"`
}

// KnockConfig is the part of a route both peers must agree on.
type KnockConfig struct {
	Secret        string    `json:"secret" yaml:"secret" toml:"secret"`
	SecretDigest  string    `json:"secret_digest" yaml:"secret_digest" toml:"secret_digest"`
	Ports         int       `json:"ports" yaml:"ports" toml:"ports"`
	RotateSeconds int       `json:"rotate_seconds" yaml:"rotate_seconds" toml:"rotate_seconds"`
	InitHashPos   int       `json:"init_hash_pos" yaml:"init_hash_pos" toml:"init_hash_pos"`
	PortRange     PortRange `json:"port_range" yaml:"port_range" toml:"port_range"`
	Protocol      string    `json:"protocol" yaml:"protocol" toml:"protocol"`
	ProtocolFlags *int      `json:"protocol_flags" yaml:"protocol_flags" toml:"protocol_flags"`
	Decoding      string    `json:"decoding" yaml:"decoding" toml:"decoding"`

	digest []byte
	params porthop.Params
}

type ServerConfig struct {
	Name         string      `json:"name" yaml:"name" toml:"name"`
	ListenIP     string      `json:"listen_ip" yaml:"listen_ip" toml:"listen_ip"`
	Knock        KnockConfig `json:"knock" yaml:"knock" toml:"knock"`
	SkewSteps    int         `json:"skew_steps" yaml:"skew_steps" toml:"skew_steps"`
	GrantSeconds int         `json:"grant_seconds" yaml:"grant_seconds" toml:"grant_seconds"`
	ServicePort  int         `json:"service_port" yaml:"service_port" toml:"service_port"`
	TargetAddr   string      `json:"target_addr" yaml:"target_addr" toml:"target_addr"`
	TargetPort   int         `json:"target_port" yaml:"target_port" toml:"target_port"`
	LogLevel     string      `json:"log_level" yaml:"log_level" toml:"log_level"`
}

type ClientConfig struct {
	Name         string      `json:"name" yaml:"name" toml:"name"`
	ServerHost   string      `json:"server_host" yaml:"server_host" toml:"server_host"`
	Knock        KnockConfig `json:"knock" yaml:"knock" toml:"knock"`
	KnockDelayMS int         `json:"knock_delay_ms" yaml:"knock_delay_ms" toml:"knock_delay_ms"`
	ServicePort  int         `json:"service_port" yaml:"service_port" toml:"service_port"`
	BindIP       string      `json:"bind_ip" yaml:"bind_ip" toml:"bind_ip"`
	BindPort     int         `json:"bind_port" yaml:"bind_port" toml:"bind_port"`
	LogLevel     string      `json:"log_level" yaml:"log_level" toml:"log_level"`
}

type MultiServerConfig struct {
	Routes []ServerConfig `json:"routes" yaml:"routes" toml:"routes"`
}

type MultiClientConfig struct {
	Endpoints []ClientConfig `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
}

// Digest returns the lowercase SHA-512 hex digest of the secret.
func (k *KnockConfig) Digest() []byte { return k.digest }

// Params returns the validated derivation parameters.
func (k *KnockConfig) Params() porthop.Params { return k.params }

// Close zeros the secret digest.
func (k *KnockConfig) Close() {
	secmem.Zero(k.digest)
	k.digest = nil
}

// Prepare hashes the secret, applies defaults and validates the knock. It
// must run before Digest or Params are used.
func (k *KnockConfig) Prepare() error {
	if k.RotateSeconds == 0 {
		k.RotateSeconds = defaultRotateSeconds
	}
	if k.InitHashPos == 0 {
		k.InitHashPos = defaultInitHashPos
	}
	if k.PortRange.Min <= 0 || k.PortRange.Max <= 0 || k.PortRange.Min > k.PortRange.Max || k.PortRange.Max > 65535 {
		return errors.New("invalid port_range")
	}
	if k.Ports <= 0 {
		return errors.New("invalid ports")
	}

	proto := porthop.Dynamic
	if k.Protocol != "" {
		p, ok := porthop.ParseProtocol(strings.ToLower(k.Protocol))
		if !ok {
			return errors.New("invalid protocol")
		}
		proto = int(p)
	}
	flags := porthop.Dynamic
	if k.ProtocolFlags != nil {
		flags = *k.ProtocolFlags
	}
	decoding, ok := porthop.ParseDecoding(strings.ToLower(k.Decoding))
	if !ok {
		return errors.New("invalid decoding")
	}

	k.params = porthop.Params{
		NumPorts:      k.Ports,
		RotateSeconds: k.RotateSeconds,
		InitHashPos:   k.InitHashPos,
		PortMin:       uint16(k.PortRange.Min),
		PortMax:       uint16(k.PortRange.Max),
		Proto:         proto,
		ProtoFlags:    flags,
		Decoding:      decoding,
	}
	if err := k.params.Validate(); err != nil {
		return fmt.Errorf("invalid knock: %w", err)
	}
	return k.resolveSecret()
}

func (k *KnockConfig) resolveSecret() error {
	if k.Secret == "" && k.SecretDigest == "" {
		k.Secret = os.Getenv(SecretEnv)
	}
	switch {
	case k.Secret != "" && k.SecretDigest != "":
		return errors.New("secret and secret_digest are mutually exclusive")
	case k.Secret != "":
		k.digest = HashSecret([]byte(k.Secret))
		k.Secret = ""
	case k.SecretDigest != "":
		d := []byte(strings.ToLower(strings.TrimSpace(k.SecretDigest)))
		if len(d) != sha512.Size*2 || hexcodec.Valid(d) >= 0 {
			return errors.New("invalid secret_digest")
		}
		k.digest = d
		k.SecretDigest = ""
	default:
		return errors.New("missing secret")
	}
	return nil
}

// HashSecret returns the lowercase SHA-512 hex digest of a password.
func HashSecret(password []byte) []byte {
	sum := sha512.Sum512(password)
	out := hexcodec.AppendEncode(make([]byte, 0, hexcodec.EncodedLen(len(sum))), sum[:])
	secmem.Zero(sum[:])
	return out
}

func LoadServerConfig(path string) (ServerConfig, error) {
	var c ServerConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := unmarshalByExt(b, path, &c); err != nil {
		return c, err
	}
	return validateServerConfig(&c)
}

func LoadServerConfigs(path string) ([]ServerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var multi MultiServerConfig
	if err := unmarshalByExt(b, path, &multi); err == nil && len(multi.Routes) > 0 {
		for i := range multi.Routes {
			if _, err := validateServerConfig(&multi.Routes[i]); err != nil {
				return nil, routeErr(multi.Routes[i].Name, i, err)
			}
		}
		// knocks on shared ports would be ambiguous between routes
		for i := 0; i < len(multi.Routes); i++ {
			for j := i + 1; j < len(multi.Routes); j++ {
				if overlap(multi.Routes[i].Knock.PortRange, multi.Routes[j].Knock.PortRange) {
					return nil, errors.New("server routes port_range overlap detected")
				}
				if multi.Routes[i].ServicePort == multi.Routes[j].ServicePort {
					return nil, errors.New("server routes service_port duplicated")
				}
				if inRange(multi.Routes[j].Knock.PortRange, multi.Routes[i].ServicePort) ||
					inRange(multi.Routes[i].Knock.PortRange, multi.Routes[j].ServicePort) {
					return nil, errors.New("server routes service_port inside another route's port_range")
				}
			}
		}
		return multi.Routes, nil
	}
	// fallback single
	c, err := LoadServerConfig(path)
	if err != nil {
		return nil, err
	}
	return []ServerConfig{c}, nil
}

func validateServerConfig(c *ServerConfig) (ServerConfig, error) {
	if err := c.Knock.Prepare(); err != nil {
		return *c, err
	}
	// listening for icmp needs raw sockets
	if c.Knock.params.Proto == int(porthop.ProtoICMP) {
		return *c, errors.New("protocol icmp cannot be served")
	}
	if c.Knock.PortRange.Max-c.Knock.PortRange.Min+1 > maxServedPorts {
		return *c, fmt.Errorf("port_range wider than %d ports cannot be served", maxServedPorts)
	}
	if c.SkewSteps < 0 {
		return *c, errors.New("invalid skew_steps")
	}
	if c.GrantSeconds == 0 {
		c.GrantSeconds = defaultGrantSeconds
	}
	if c.GrantSeconds < 0 {
		return *c, errors.New("invalid grant_seconds")
	}
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		return *c, errors.New("invalid service_port")
	}
	if inRange(c.Knock.PortRange, c.ServicePort) {
		return *c, errors.New("service_port inside knock port_range")
	}
	if c.TargetAddr == "" || c.TargetPort <= 0 || c.TargetPort > 65535 {
		return *c, errors.New("invalid target")
	}
	return *c, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	var c ClientConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := unmarshalByExt(b, path, &c); err != nil {
		return c, err
	}
	return validateClientConfig(&c)
}

func LoadClientConfigs(path string) ([]ClientConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var multi MultiClientConfig
	if err := unmarshalByExt(b, path, &multi); err == nil && len(multi.Endpoints) > 0 {
		for i := range multi.Endpoints {
			if _, err := validateClientConfig(&multi.Endpoints[i]); err != nil {
				return nil, routeErr(multi.Endpoints[i].Name, i, err)
			}
		}
		// check local bind duplicates
		seen := map[string]struct{}{}
		for _, ep := range multi.Endpoints {
			if ep.BindPort == 0 {
				continue
			}
			key := ep.BindIP + ":" + strconv.Itoa(ep.BindPort)
			if _, ok := seen[key]; ok {
				return nil, errors.New("client endpoints bind_ip:bind_port duplicated")
			}
			seen[key] = struct{}{}
		}
		return multi.Endpoints, nil
	}
	c, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}
	return []ClientConfig{c}, nil
}

func validateClientConfig(c *ClientConfig) (ClientConfig, error) {
	if err := c.Knock.Prepare(); err != nil {
		return *c, err
	}
	if c.ServerHost == "" {
		return *c, errors.New("invalid server_host")
	}
	if c.KnockDelayMS == 0 {
		c.KnockDelayMS = defaultKnockDelayMS
	}
	if c.KnockDelayMS < 0 {
		return *c, errors.New("invalid knock_delay_ms")
	}
	// bind_port 0 means knock only, no local forwarder
	if c.BindPort < 0 || c.BindPort > 65535 {
		return *c, errors.New("invalid bind_port")
	}
	if c.BindPort > 0 && (c.ServicePort <= 0 || c.ServicePort > 65535) {
		return *c, errors.New("invalid service_port")
	}
	return *c, nil
}

func routeErr(name string, i int, err error) error {
	if name == "" {
		name = "#" + strconv.Itoa(i)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func inRange(r PortRange, port int) bool {
	return port >= r.Min && port <= r.Max
}

func overlap(a, b PortRange) bool {
	if a.Max < a.Min || b.Max < b.Min {
		return false
	}
	return !(a.Max < b.Min || b.Max < a.Min)
}

func unmarshalByExt(b []byte, path string, v interface{}) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, v)
	case ".toml":
		return toml.Unmarshal(b, v)
	default:
		return json.Unmarshal(b, v)
	}
}
