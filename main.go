// sesame's maintenance daemon: periodically returns expired one-time prekey
// reservations to the available pool in the shared Redis store. The engine
// itself is consumed as a library; this process only runs the background
// sweep policy.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"regexp"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sethvargo/go-envconfig"

	"github.com/getlantern/golog"

	"github.com/getlantern/sesame/keystore/redisstore"
	"github.com/getlantern/sesame/telemetry"
)

var (
	log = golog.LoggerFor("sesame")

	redisURLRegExp = regexp.MustCompile(`^redis(s?)://:(.+)?@([^\s]+)$`)
)

type config struct {
	RedisURL           string        `env:"REDIS_URL,required"`
	RedisPoolSize      int           `env:"REDIS_POOL_SIZE,default=100"`
	RedisCAPEM         string        `env:"REDIS_CA_CERT"`
	RedisClientCertPEM string        `env:"REDIS_CLIENT_CERT"`
	RedisClientKeyPEM  string        `env:"REDIS_CLIENT_KEY"`
	PprofAddr          string        `env:"PPROF_ADDR"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL,default=5m"`
	ReservationTTL     time.Duration `env:"RESERVATION_TTL,default=1h"`
	QueryTimeout       time.Duration `env:"QUERY_TIMEOUT,default=10s"`
}

func parseRedisURL(redisURL string) (useTLS bool, password string, redisAddr string, err error) {
	matches := redisURLRegExp.FindStringSubmatch(redisURL)
	if len(matches) < 4 {
		return false, "", "", fmt.Errorf("should match %v", redisURLRegExp.String())
	}
	return matches[1] == "s", matches[2], matches[3], nil
}

func main() {
	var cfg config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		log.Fatalf("unable to process config: %v", err)
	}

	stopTelemetry := telemetry.Start()
	defer stopTelemetry()

	if cfg.PprofAddr != "" {
		go func() {
			log.Error(http.ListenAndServe(cfg.PprofAddr, nil))
		}()
	}

	useTLS, redisPassword, redisAddr, err := parseRedisURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to parse Redis URL: %v", err)
	}

	log.Debugf("Connecting to redis at %v", redisAddr)

	var tlsConfig *tls.Config
	if !useTLS {
		log.Debug("WARNING: connecting to Redis without TLS")
	} else {
		if cfg.RedisCAPEM == "" {
			log.Fatal("Please specify a REDIS_CA_CERT")
		}
		if cfg.RedisClientCertPEM == "" {
			log.Fatal("Please specify a REDIS_CLIENT_CERT")
		}
		if cfg.RedisClientKeyPEM == "" {
			log.Fatal("Please specify a REDIS_CLIENT_KEY")
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cleanPEMNewLines(cfg.RedisCAPEM)) {
			log.Fatal("Unable to find any certs in REDIS_CA_CERT")
		}
		redisClientCert, err := tls.X509KeyPair(cleanPEMNewLines(cfg.RedisClientCertPEM), cleanPEMNewLines(cfg.RedisClientKeyPEM))
		if err != nil {
			log.Fatalf("Failed to load Redis client cert and key: %v", err)
		}

		tlsConfig = &tls.Config{
			RootCAs:            pool,
			Certificates:       []tls.Certificate{redisClientCert},
			ClientSessionCache: tls.NewLRUClientSessionCache(100),
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		PoolSize:     cfg.RedisPoolSize,
		PoolTimeout:  cfg.QueryTimeout,
		ReadTimeout:  cfg.QueryTimeout,
		WriteTimeout: cfg.QueryTimeout,
		IdleTimeout:  cfg.QueryTimeout,
		DialTimeout:  cfg.QueryTimeout,
		TLSConfig:    tlsConfig,
	})

	store, err := redisstore.New(client)
	if err != nil {
		log.Fatalf("unable to start redisstore: %v", err)
	}
	defer store.Close()

	log.Debugf("Sweeping expired reservations every %v (TTL %v)", cfg.SweepInterval, cfg.ReservationTTL)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
		swept, err := store.SweepExpiredReservations(ctx, cfg.ReservationTTL)
		cancel()
		if err != nil {
			log.Errorf("sweep failed: %v", err)
		} else if swept > 0 {
			log.Debugf("swept %d expired reservations", swept)
		}
		time.Sleep(cfg.SweepInterval)
	}
}

func cleanPEMNewLines(pem string) []byte {
	return []byte(strings.Replace(pem, "\\n", "\n", -1))
}
