package infra

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix env prefix for viper
const EnvPrefix = "EDUSOLUCE"

// runtime environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// AppConfig server option object
type AppConfig struct {
	AppID          string        `mapstructure:"app_id" json:"app_id" yaml:"app_id" validate:"required"`            // Application ID
	Host           string        `mapstructure:"host" json:"host" yaml:"host"`                                      // bind host address
	Port           int           `mapstructure:"port" json:"port" yaml:"port"`                                      // bind listen port
	Env            string        `mapstructure:"env" json:"env" yaml:"env" validate:"oneof=development production"` // runtime environment
	SessionTimeout time.Duration `mapstructure:"session_timeout" json:"session_timeout" yaml:"session_timeout"`
	SessionRefresh time.Duration `mapstructure:"session_refresh" json:"session_refresh" yaml:"session_refresh"` // session refresh threshold
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"` // per request deadline
	Database       struct {
		Driver   string `mapstructure:"driver" json:"driver" yaml:"driver" validate:"oneof=mysql postgres sqlite3"`        // driver name
		Host     string `mapstructure:"host" json:"host" yaml:"host" validate:"required_unless=Driver sqlite3"`            // server host
		MaxConn  int32  `mapstructure:"maxconn" json:"maxconn" yaml:"maxconn" validate:"min=1"`                            // maximum opening connections number
		Password string `mapstructure:"password" json:"password" yaml:"password" validate:"required_unless=Driver sqlite3"` // db password
		Port     int    `mapstructure:"port" json:"port" yaml:"port"`                                                      // server port
		Protocol string `mapstructure:"protocol" json:"protocol" yaml:"protocol" validate:"omitempty,oneof=tcp udp"`       // connection protocol, eg.tcp
		Query    string `mapstructure:"query" json:"query" yaml:"query"`                                                   // DSN query parameter
		Schema   string `mapstructure:"schema" json:"schema" yaml:"schema" validate:"required"`                            // use schema, file path for sqlite3
		User     string `mapstructure:"username" json:"username" yaml:"username" validate:"required_unless=Driver sqlite3"` // db username
		Migrate  bool   `mapstructure:"migrate" json:"migrate" yaml:"migrate"`                                             // create tables on startup
	} `mapstructure:"database" json:"database" yaml:"database"`
	Logging  LoggingConfig `mapstructure:"logging" json:"logging" yaml:"logging"`
	Security struct {
		IDLength         int           `mapstructure:"id_length" json:"id_length" yaml:"id_length" validate:"min=8"`                     // length of generated ID for entities
		IDStrategy       string        `mapstructure:"id_strategy" json:"id_strategy" yaml:"id_strategy" validate:"oneof=nanoid uuid"`   // id generator
		JWTMethod        string        `mapstructure:"jwt_method" json:"jwt_method" yaml:"jwt_method" validate:"oneof=HS256 HS384 HS512"` // token signing
		JWTSecret        string        `mapstructure:"jwt_secret" json:"jwt_secret" yaml:"jwt_secret" validate:"required"`
		TokenName        string        `mapstructure:"token_name" json:"token_name" yaml:"token_name" validate:"required"`     // jwt token name set in cookie
		MaxLoginAttempts int           `mapstructure:"max_login_attempts" json:"max_login_attempts" yaml:"max_login_attempts"` // maximum login attempts
		RetryTimeout     time.Duration `mapstructure:"retry_timeout" json:"retry_timeout" yaml:"retry_timeout"`                // retry wait
	} `mapstructure:"security" json:"security" yaml:"security"`
	KVStore KVConfig `mapstructure:"kv" json:"kv" yaml:"kv"`
	DevOP   struct {
		APM bool `mapstructure:"apm" json:"apm" yaml:"apm"`
	} `mapstructure:"devop" json:"devop" yaml:"devop"`
}

// LoggingConfig shared by server and client
type LoggingConfig struct {
	FilePath string `mapstructure:"file_path" json:"file_path" yaml:"file_path"`                            // log file path
	Level    string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"` // global logging level
}

// KVConfig key-value server options
type KVConfig struct {
	Driver   string `mapstructure:"driver" json:"driver" yaml:"driver" validate:"oneof=redis memory"` // redis or in-process memory
	Host     string `mapstructure:"host" json:"host" yaml:"host"`                                   // bind host address
	Port     int    `mapstructure:"port" json:"port" yaml:"port"`                                   // bind listen port
	Password string `mapstructure:"password" json:"password" yaml:"password"`                       // password for security reasons
}

// InitConfig init server config from command line, environment and .env
func InitConfig() (*AppConfig, error) {
	return LoadConfig(os.Args[1:])
}

// LoadConfig parse args into server config
func LoadConfig(args []string) (*AppConfig, error) {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)

	// app
	fs.String("host", "", "binding address")
	fs.String("app_id", "edusoluce", "application identifier")
	fs.String("env", EnvDevelopment, "runtime environment, can be 'development' or 'production'")
	fs.Int("port", 8081, "listening port")
	fs.Duration("session_timeout", 30*time.Minute, "JWT lifetime(m, s and h units are supported), eg.30m")
	fs.Duration("session_refresh", 5*time.Minute, "session refresh threshold(m, s and h units are supported), eg.5m")
	fs.Duration("request_timeout", 10*time.Second, "deadline applied to each request context")

	// database
	fs.String("database.driver", "mysql", "database driver to use, one of mysql, postgres and sqlite3")
	fs.String("database.host", "127.0.0.1", "database host")
	fs.Int("database.port", 3306, "database server port")
	fs.String("database.protocol", "", "connection protocol(if mysql is used, this flag must be set), eg.tcp")
	fs.String("database.username", "", "database username (required unless sqlite3)")
	fs.String("database.password", "", "database password (required unless sqlite3)")
	fs.String("database.schema", "", "database schema, or database file path for sqlite3 (required)")
	fs.String("database.query", "", `additional DSN query parameters('?' is auto prefixed), if you work with mysql and wish to
work with time.Time, you may specify "parseTime=true"`)
	fs.Int32("database.maxconn", 200, `max connection count, if you encounter a "too many connections" error, please consider
increasing the max_connection value of your db server, or lower this value`)
	fs.Bool("database.migrate", false, "create missing tables on startup")

	bindLoggingFlags(fs)

	// security
	fs.Int("security.id_length", 24, "set length of generated ID for entities")
	fs.String("security.id_strategy", "nanoid", "id generator, nanoid or uuid")
	fs.String("security.jwt_method", "HS256", "hash algorithm used for JWT auth")
	fs.String("security.jwt_secret", "", "JWT secret (required)")
	fs.String("security.token_name", "edusoluce_token", "cookie name to store the token")
	fs.Int("security.max_login_attempts", 3, "maximum login attempts")
	fs.Duration("security.retry_timeout", 1*time.Hour, "retry wait")

	bindKVFlags(fs, "redis")

	// DevOp
	fs.Bool("devop.apm", false, "enable apm metrics")

	var config = new(AppConfig)
	if err := loadInto(fs, args, config); err != nil {
		return nil, err
	}
	return config, nil
}

func bindLoggingFlags(fs *pflag.FlagSet) {
	fs.String("logging.level", "info", "logging level")
	fs.String("logging.file_path", "", "log to file")
}

func bindKVFlags(fs *pflag.FlagSet, driver string) {
	fs.String("kv.driver", driver, "kv driver, redis or memory")
	fs.String("kv.host", "127.0.0.1", "kv host")
	fs.Int("kv.port", 6379, "kv server port")
	fs.String("kv.password", "", "kv server password")
}

// loadInto parse flags, merge .env and EDUSOLUCE_* variables and validate the result
func loadInto(fs *pflag.FlagSet, args []string, config interface{}) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	// a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(config); err != nil {
		return err
	}
	if err := validateConfig(config); err != nil {
		return err
	}
	if v.GetString("logging.level") == "debug" {
		if configJSON, err := json.MarshalIndent(config, "", "  "); err == nil {
			log.Printf("App config: %s\n", string(configJSON))
		}
	}
	return nil
}

func validateConfig(config interface{}) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("json")
		if name == "-" || name == "" {
			name = fld.Tag.Get("yaml")
			if name == "-" || name == "" {
				return ""
			}
		}
		return name
	})
	err := validate.Struct(config)
	if err == nil {
		return nil
	}
	if _, ok := err.(*validator.InvalidValidationError); ok {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	var msg []string
	for _, field := range err.(validator.ValidationErrors) {
		namespace := field.Namespace()
		fieldName := namespace[strings.IndexByte(namespace, '.')+1:] // trim top level namespace
		switch field.Tag() {
		case "required", "required_unless":
			msg = append(msg, fmt.Sprintf("%s is required", fieldName))
		case "oneof":
			msg = append(msg, fmt.Sprintf("%s must be one of (%s)", fieldName, field.Param()))
		case "min":
			msg = append(msg, fmt.Sprintf("%s must be at least %s", fieldName, field.Param()))
		default:
			msg = append(msg, fmt.Sprintf("%s is invalid (%s)", fieldName, field.Tag()))
		}
	}
	return fmt.Errorf("failed to validate config: \n%s", strings.Join(msg, "\n"))
}
