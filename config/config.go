package config

import (
	"flag"
	"os"
	"sync"
	"time"
)

const (
	defaultServerAddress    = ":8080"
	defaultDatabaseDSN      = ""
	defaultRedisAddr        = ""
	defaultInventoryAddr    = "http://localhost:8081"
	defaultPaymentAddr      = "http://localhost:8082"
	defaultAMQPURL          = ""
	defaultLogLevel         = "debug"
	defaultInventoryTimeout = 5 * time.Second
	defaultPaymentTimeout   = 10 * time.Second
	defaultPendingMaxAge    = 10 * time.Minute
	defaultSweepInterval    = time.Minute
)

type Config struct {
	ServerAddr       string
	DatabaseDSN      string
	RedisAddr        string
	InventoryAddr    string
	PaymentAddr      string
	AMQPURL          string
	LogLevel         string
	InventoryTimeout time.Duration
	PaymentTimeout   time.Duration
	PendingMaxAge    time.Duration
	SweepInterval    time.Duration
}

var (
	once      sync.Once
	singleton *Config
)

// New returns new Config. It parses command line and environment variables only once.
func New() (*Config, error) {
	once.Do(func() {
		cfg := Config{}

		// initialize flags
		flag.StringVar(&cfg.ServerAddr, "a", defaultServerAddress, "order service server address")
		flag.StringVar(&cfg.DatabaseDSN, "d", defaultDatabaseDSN, "order database DSN")
		flag.StringVar(&cfg.RedisAddr, "c", defaultRedisAddr, "idempotency cache redis address")
		flag.StringVar(&cfg.InventoryAddr, "i", defaultInventoryAddr, "inventory service address")
		flag.StringVar(&cfg.PaymentAddr, "p", defaultPaymentAddr, "payment service address")
		flag.StringVar(&cfg.AMQPURL, "q", defaultAMQPURL, "amqp broker url for order events")
		flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")
		flag.DurationVar(&cfg.InventoryTimeout, "inventory-timeout", defaultInventoryTimeout, "inventory reservation timeout")
		flag.DurationVar(&cfg.PaymentTimeout, "payment-timeout", defaultPaymentTimeout, "payment capture timeout")
		flag.DurationVar(&cfg.PendingMaxAge, "pending-max-age", defaultPendingMaxAge, "age after which a pending order is failed and compensated")
		flag.DurationVar(&cfg.SweepInterval, "sweep-interval", defaultSweepInterval, "stale order sweep interval")

		flag.Parse()

		// if environment variable is set, then using it
		if runAddrEnv := os.Getenv("RUN_ADDRESS"); runAddrEnv != "" {
			cfg.ServerAddr = runAddrEnv
		}
		if dataBaseURIEnv := os.Getenv("DATABASE_URI"); dataBaseURIEnv != "" {
			cfg.DatabaseDSN = dataBaseURIEnv
		}
		if redisAddrEnv := os.Getenv("REDIS_ADDRESS"); redisAddrEnv != "" {
			cfg.RedisAddr = redisAddrEnv
		}
		if inventoryAddrEnv := os.Getenv("INVENTORY_ADDRESS"); inventoryAddrEnv != "" {
			cfg.InventoryAddr = inventoryAddrEnv
		}
		if paymentAddrEnv := os.Getenv("PAYMENT_ADDRESS"); paymentAddrEnv != "" {
			cfg.PaymentAddr = paymentAddrEnv
		}
		if amqpURLEnv := os.Getenv("AMQP_URL"); amqpURLEnv != "" {
			cfg.AMQPURL = amqpURLEnv
		}
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			cfg.LogLevel = logLevelEnv
		}

		singleton = &cfg
	})

	return singleton, nil
}
