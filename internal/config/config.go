package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every flag name to form its environment variable.
const EnvPrefix = "QUIZROOMS"

const (
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
	BrokerRedis = "redis"
	BrokerNATS  = "nats"
)

// Config is the server configuration
type Config struct {
	Addr            string
	Store           string
	Broker          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	MongoURI        string
	MongoDatabase   string
	NATSURL         string
	JWTSecret       string
	TokenTTL        time.Duration
	RoomTTL         time.Duration
	DeadlineGrace   time.Duration
	SweepInterval   time.Duration
	MatchDuration   int
	MatchQuestions  int
	JoinURL         string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	AI AIConfig
}

// RegisterFlags declares every setting on fs with its default.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&c.Addr, "addr", "a", ":8080", "address to listen on (env: QUIZROOMS_ADDR)")
	fs.StringVar(&c.Store, "store", StoreRedis, "room store backend, redis or mongo (env: QUIZROOMS_STORE)")
	fs.StringVar(&c.Broker, "broker", BrokerRedis, "event broker, redis or nats (env: QUIZROOMS_BROKER)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "redis address or redis:// url (env: QUIZROOMS_REDIS_ADDR)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password (env: QUIZROOMS_REDIS_PASSWORD)")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database (env: QUIZROOMS_REDIS_DB)")
	fs.StringVar(&c.MongoURI, "mongo-uri", "mongodb://localhost:27017", "mongodb connection uri (env: QUIZROOMS_MONGO_URI)")
	fs.StringVar(&c.MongoDatabase, "mongo-database", "quizrooms", "mongodb database (env: QUIZROOMS_MONGO_DATABASE)")
	fs.StringVar(&c.NATSURL, "nats-url", "nats://localhost:4222", "nats server url (env: QUIZROOMS_NATS_URL)")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "secret signing player tokens (env: QUIZROOMS_JWT_SECRET)")
	fs.DurationVar(&c.TokenTTL, "token-ttl", 24*time.Hour, "lifetime of player tokens (env: QUIZROOMS_TOKEN_TTL)")
	fs.DurationVar(&c.RoomTTL, "room-ttl", 2*time.Hour, "idle time before a room expires (env: QUIZROOMS_ROOM_TTL)")
	fs.DurationVar(&c.DeadlineGrace, "deadline-grace", 3*time.Second, "grace after a quiz deadline before it is finalized (env: QUIZROOMS_DEADLINE_GRACE)")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", time.Second, "how often due deadlines are checked (env: QUIZROOMS_SWEEP_INTERVAL)")
	fs.IntVar(&c.MatchDuration, "match-duration", 300, "quiz length in seconds for matched rooms (env: QUIZROOMS_MATCH_DURATION)")
	fs.IntVar(&c.MatchQuestions, "match-questions", 10, "questions per matched room (env: QUIZROOMS_MATCH_QUESTIONS)")
	fs.StringVar(&c.JoinURL, "join-url", "", "join page format string taking the room code, e.g. https://quiz.example/join/%s (env: QUIZROOMS_JOIN_URL)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug, info, warn or error (env: QUIZROOMS_LOG_LEVEL)")
	fs.StringVar(&c.LogFormat, "log-format", "text", "text or json (env: QUIZROOMS_LOG_FORMAT)")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "graceful shutdown limit (env: QUIZROOMS_SHUTDOWN_TIMEOUT)")
}

// ApplyEnv fills every flag not given on the command line from its
// QUIZROOMS_* environment variable.
func ApplyEnv(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err))
			}
		}
	})
	return errors.Join(errs...)
}

// Validate checks backends and ranges.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreRedis, StoreMongo:
	default:
		return fmt.Errorf("unknown store %q (want redis or mongo)", c.Store)
	}
	switch c.Broker {
	case BrokerRedis, BrokerNATS:
	default:
		return fmt.Errorf("unknown broker %q (want redis or nats)", c.Broker)
	}
	if c.JWTSecret == "" {
		return errors.New("--jwt-secret is required")
	}
	if c.RoomTTL <= 0 {
		return fmt.Errorf("invalid room ttl: %s", c.RoomTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("invalid sweep interval: %s", c.SweepInterval)
	}
	if c.DeadlineGrace < 0 {
		return fmt.Errorf("invalid deadline grace: %s", c.DeadlineGrace)
	}
	if c.JoinURL != "" && strings.Count(c.JoinURL, "%s") != 1 {
		return fmt.Errorf("--join-url must contain exactly one %%s: %q", c.JoinURL)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}
