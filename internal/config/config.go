package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"geosync/internal/session"
)

// Peer represents a peer node in the cluster.
type Peer struct {
	ID   string
	Addr string
}

// Config holds the node configuration.
type Config struct {
	NodeID     string
	ListenAddr string
	Peers      []Peer

	HeartbeatInterval time.Duration
	PeerTimeout       time.Duration
	MaxBatchSize      int
	PreferCompressed  bool
	ProtocolVersion   int

	LogLevel string
}

// Load reads configuration from an optional yaml file plus GEOSYNC_*
// environment overrides. Missing values fall back to protocol defaults;
// a missing node id gets a generated UUID.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("geosync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := session.DefaultConfig()
	v.SetDefault("node.listen_addr", ":7946")
	v.SetDefault("node.peers", "")
	v.SetDefault("sync.heartbeat_interval", defaults.HeartbeatInterval)
	v.SetDefault("sync.peer_timeout", defaults.PeerTimeout)
	v.SetDefault("sync.max_batch_size", defaults.MaxBatchSize)
	v.SetDefault("sync.prefer_compressed", defaults.PreferCompressed)
	v.SetDefault("sync.protocol_version", defaults.ProtocolVersion)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	peers, err := ParsePeers(v.GetString("node.peers"))
	if err != nil {
		return nil, err
	}

	nodeID := v.GetString("node.id")
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	cfg := &Config{
		NodeID:            nodeID,
		ListenAddr:        v.GetString("node.listen_addr"),
		Peers:             peers,
		HeartbeatInterval: v.GetDuration("sync.heartbeat_interval"),
		PeerTimeout:       v.GetDuration("sync.peer_timeout"),
		MaxBatchSize:      v.GetInt("sync.max_batch_size"),
		PreferCompressed:  v.GetBool("sync.prefer_compressed"),
		ProtocolVersion:   v.GetInt("sync.protocol_version"),
		LogLevel:          v.GetString("log.level"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the protocol cannot run with.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.PeerTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("peer timeout %s must exceed heartbeat interval %s", c.PeerTimeout, c.HeartbeatInterval)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive, got %d", c.MaxBatchSize)
	}
	for _, p := range c.Peers {
		if p.ID == c.NodeID {
			continue
		}
		if p.Addr == "" {
			return fmt.Errorf("peer %s has no address", p.ID)
		}
	}
	return nil
}

// SessionConfig converts the node configuration into protocol tunables.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		HeartbeatInterval: c.HeartbeatInterval,
		PeerTimeout:       c.PeerTimeout,
		MaxBatchSize:      c.MaxBatchSize,
		PreferCompressed:  c.PreferCompressed,
		ProtocolVersion:   c.ProtocolVersion,
	}
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}
