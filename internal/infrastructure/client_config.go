package infra

import (
	"os"
	"time"

	"github.com/spf13/pflag"
)

// ClientConfig syncctl option object
type ClientConfig struct {
	UserID  string        `mapstructure:"user_id" json:"user_id" yaml:"user_id" validate:"required"`
	Env     string        `mapstructure:"env" json:"env" yaml:"env" validate:"oneof=development production"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging" yaml:"logging"`
	Remote  struct {
		BaseURL  string        `mapstructure:"base_url" json:"base_url" yaml:"base_url" validate:"required,url"` // remote service root, eg.http://127.0.0.1:8081
		Token    string        `mapstructure:"token" json:"token" yaml:"token"`                                  // bearer token
		Username string        `mapstructure:"username" json:"username" yaml:"username"`                         // signs in when no token is given
		Password string        `mapstructure:"password" json:"password" yaml:"password"`
		Timeout  time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`                            // per call timeout
	} `mapstructure:"remote" json:"remote" yaml:"remote"`
	Cache struct {
		Driver string `mapstructure:"driver" json:"driver" yaml:"driver" validate:"oneof=redis sqlite3 memory"` // local cache substrate
		Path   string `mapstructure:"path" json:"path" yaml:"path" validate:"required_if=Driver sqlite3"`        // sqlite3 file
	} `mapstructure:"cache" json:"cache" yaml:"cache"`
	KVStore KVConfig `mapstructure:"kv" json:"kv" yaml:"kv"`
	Network struct {
		Probe         string        `mapstructure:"probe" json:"probe" yaml:"probe" validate:"oneof=poll presence none"` // how connectivity is detected
		ProbeInterval time.Duration `mapstructure:"probe_interval" json:"probe_interval" yaml:"probe_interval"`          // poll period or presence reconnect delay
	} `mapstructure:"network" json:"network" yaml:"network"`
	Security struct {
		IDLength int `mapstructure:"id_length" json:"id_length" yaml:"id_length" validate:"min=8"` // length of temporary ids
	} `mapstructure:"security" json:"security" yaml:"security"`
}

// InitClientConfig init syncctl config from command line, environment and .env,
// positional arguments are returned untouched
func InitClientConfig() (*ClientConfig, []string, error) {
	return LoadClientConfig(os.Args[1:])
}

// LoadClientConfig parse args into client config
func LoadClientConfig(args []string) (*ClientConfig, []string, error) {
	fs := pflag.NewFlagSet("syncctl", pflag.ContinueOnError)

	fs.String("user_id", "", "user whose records are synchronized (required)")
	fs.String("env", EnvDevelopment, "runtime environment, can be 'development' or 'production'")
	bindLoggingFlags(fs)

	fs.String("remote.base_url", "http://127.0.0.1:8081", "remote data service root")
	fs.String("remote.token", "", "bearer token obtained from /api/v1/user/login")
	fs.String("remote.username", "", "sign in with this username when no token is given")
	fs.String("remote.password", "", "password of remote.username")
	fs.Duration("remote.timeout", 5*time.Second, "remote call timeout")

	fs.String("cache.driver", "sqlite3", "local cache substrate, one of redis, sqlite3 and memory")
	fs.String("cache.path", "edusoluce-cache.db", "sqlite3 cache file")
	bindKVFlags(fs, "redis")

	fs.String("network.probe", "poll", "connectivity probe, one of poll, presence and none")
	fs.Duration("network.probe_interval", 10*time.Second, "poll period or presence reconnect delay")

	fs.Int("security.id_length", 21, "length of temporary ids")

	var config = new(ClientConfig)
	if err := loadInto(fs, args, config); err != nil {
		return nil, nil, err
	}
	return config, fs.Args(), nil
}
