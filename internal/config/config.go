package config

import "time"

// Config is the root configuration for a push node.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DBConfig       `yaml:"database"`
	Broker   BrokerConfig   `yaml:"broker"`
	Traffic  TrafficConfig  `yaml:"traffic"`
	Topology TopologyConfig `yaml:"topology"`
	Producer ProducerConfig `yaml:"producer"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Session  SessionConfig  `yaml:"session"`
}

// InstanceConfig identifies this push node.
type InstanceConfig struct {
	ID           string `yaml:"id"`            // node id, recorded on sessions and on this node's private queues
	DatacenterID int64  `yaml:"datacenter_id"` // snowflake datacenter id, 0-31
	WorkerID     int64  `yaml:"worker_id"`     // snowflake worker id, 0-31
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RedisConfig holds the shared-store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// DBConfig holds the relational store for message history.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BrokerConfig holds the AMQP broker connection and queue arguments.
type BrokerConfig struct {
	URL                string        `yaml:"url"`
	MaxQueueLength     int           `yaml:"max_queue_length"` // x-max-length on declared queues
	MessageTTL         time.Duration `yaml:"message_ttl"`      // x-message-ttl on declared queues
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
}

// TrafficConfig holds the room tier thresholds and the anti-flap interval.
// Thresholds satisfy cold < hot <= super_hot.
type TrafficConfig struct {
	ColdThreshold      int           `yaml:"cold_threshold"`      // viewers <= cold → COLD
	HotThreshold       int           `yaml:"hot_threshold"`       // viewers >= hot → HOT
	SuperHotThreshold  int           `yaml:"super_hot_threshold"` // viewers >= super_hot → SUPER_HOT
	TypeChangeInterval time.Duration `yaml:"type_change_interval"`
	SampleInterval     time.Duration `yaml:"sample_interval"`
	StateTTL           time.Duration `yaml:"state_ttl"`
}

// TopologyConfig holds shard counts per tier and binding lifecycle settings.
type TopologyConfig struct {
	ColdShards     int           `yaml:"cold_shards"` // shared-pool bucket count, never torn down
	NormalShards   int           `yaml:"normal_shards"`
	HotShards      int           `yaml:"hot_shards"`
	SuperHotShards int           `yaml:"super_hot_shards"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
	IdleTTL        time.Duration `yaml:"idle_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// ProducerConfig holds publish retry settings.
type ProducerConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// ConsumerConfig holds consume-side settings.
type ConsumerConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"` // delivery recovery attempts per message
	BaseDelay      time.Duration `yaml:"base_delay"`
	RebindInterval time.Duration `yaml:"rebind_interval"` // how often new bindings are picked up
	RecentLimit    int           `yaml:"recent_limit"`    // recent-message cache size per room
	RecentTTL      time.Duration `yaml:"recent_ttl"`
}

// SessionConfig holds session liveness settings.
type SessionConfig struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	GracePeriod      time.Duration `yaml:"grace_period"` // offline → deleted after this much more silence
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	TTL              time.Duration `yaml:"ttl"` // hard expiry on session records
}
