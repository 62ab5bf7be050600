package server

// Config holds configuration for the HTTP server.
type Config struct {
	// Port is the port where the server will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ApiKey is the secret key required to access the API.
	ApiKey string `mapstructure:"api_key" default:""`
	// Record enables persisting every session change to the database.
	Record bool `mapstructure:"record" default:"true"`
}

// Address returns the listen address for the configured port.
func (c Config) Address() string {
	if c.Port == "" {
		return ":8080"
	}
	return ":" + c.Port
}
