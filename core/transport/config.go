package transport

// Config holds configuration for the replicated store connection.
type Config struct {
	// Driver selects the store implementation (redis, memory).
	Driver string `mapstructure:"driver" default:"redis"`
	// Addr is the host:port of the Redis server.
	Addr string `mapstructure:"addr" default:"localhost:6379"`
	// Password is the Redis password.
	Password string `mapstructure:"password" default:""`
	// DB is the Redis database number.
	DB int `mapstructure:"db" default:"0"`
	// Prefix namespaces every key and channel.
	Prefix string `mapstructure:"prefix" default:"world"`
	// Session is the session joined by headless participants.
	Session string `mapstructure:"session" default:"default"`
	// TimeoutSeconds bounds the connection check.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"5"`
}

const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// IsValidDriver checks if the configured driver is supported.
func (c Config) IsValidDriver() bool {
	switch c.Driver {
	case DriverRedis, DriverMemory:
		return true
	default:
		return false
	}
}
