// Package config carrega a configuração do noticeboard de arquivo e ambiente.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	DB          DBConfig          `mapstructure:"db"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Views       ViewsConfig       `mapstructure:"views"`
	Uploads     UploadsConfig     `mapstructure:"uploads"`
	Rate        RateConfig        `mapstructure:"rate"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Log         LogConfig         `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	TrustXFF          bool          `mapstructure:"trust_xff"`
}

type DBConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig: Addr vazio troca cache e contador pelas versões em memória.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	// TTL é a janela máxima de desatualização de uma entrada.
	TTL          time.Duration `mapstructure:"ttl"`
	Capacity     uint64        `mapstructure:"capacity"`
	// TombstoneTTL é quanto uma invalidação bloqueia o preenchimento por
	// leituras que começaram antes dela.
	TombstoneTTL time.Duration `mapstructure:"tombstone_ttl"`
}

type ViewsConfig struct {
	SyncEvery time.Duration `mapstructure:"sync_every"`
}

type UploadsConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type RateConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	RPS        float64       `mapstructure:"rps"`
	Burst      int           `mapstructure:"burst"`
	RetryAfter time.Duration `mapstructure:"retry_after"`
	IdleTTL    time.Duration `mapstructure:"idle_ttl"`
	MaxClients uint64        `mapstructure:"max_clients"`
}

type ConcurrencyConfig struct {
	Max     int           `mapstructure:"max"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       90 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		DB:          DBConfig{Path: "noticeboard.db", Timeout: 2 * time.Second},
		Redis:       RedisConfig{Prefix: "noticeboard", Timeout: 300 * time.Millisecond},
		Cache:       CacheConfig{TTL: 10 * time.Minute, Capacity: 10_000, TombstoneTTL: 10 * time.Second},
		Views:       ViewsConfig{SyncEvery: 10 * time.Minute},
		Uploads:     UploadsConfig{Dir: "uploads", MaxBytes: 32 << 20},
		Rate:        RateConfig{Enabled: true, RPS: 20, Burst: 40, RetryAfter: time.Second, IdleTTL: 15 * time.Minute, MaxClients: 100_000},
		Concurrency: ConcurrencyConfig{Max: 100},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load lê config.yaml (opcional, em "." ou no caminho dado) e variáveis de
// ambiente com prefixo NOTICE. O ponto das chaves vira underscore:
// "redis.addr" é lido de NOTICE_REDIS_ADDR.
func Load(file string) (Config, error) {
	cfg := Default()

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("NOTICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.HTTP.Addr) == "":
		return errors.New("http.addr is required")
	case strings.TrimSpace(c.DB.Path) == "":
		return errors.New("db.path is required")
	case c.DB.Timeout <= 0:
		return errors.New("db.timeout must be > 0")
	case c.Redis.Timeout <= 0:
		return errors.New("redis.timeout must be > 0")
	case c.Cache.TTL <= 0:
		return errors.New("cache.ttl must be > 0")
	case c.Cache.TombstoneTTL <= c.DB.Timeout+c.Redis.Timeout:
		return errors.New("cache.tombstone_ttl must be > db.timeout + redis.timeout")
	case c.Views.SyncEvery < 0:
		return errors.New("views.sync_every must be >= 0")
	case c.Uploads.MaxBytes <= 0:
		return errors.New("uploads.max_bytes must be > 0")
	case c.Rate.Enabled && c.Rate.RPS <= 0:
		return errors.New("rate.rps must be > 0")
	case c.Rate.Enabled && c.Rate.Burst <= 0:
		return errors.New("rate.burst must be > 0")
	case c.Rate.Enabled && c.Rate.MaxClients == 0:
		return errors.New("rate.max_clients must be > 0")
	case c.Concurrency.Max < 0:
		return errors.New("concurrency.max must be >= 0")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// bindEnvs registra todas as chaves de cfg para o viper consultar o ambiente
// no Unmarshal, mesmo sem arquivo de configuração.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
