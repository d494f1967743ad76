// Command poolcore is the process entry point that wires every pool
// subsystem together: the event ring, the slab pool allocator, the rate
// limiter, the relay primary/client, the Redis-backed caches, and the
// Prometheus metrics endpoint.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	bip39 "github.com/tyler-smith/go-bip39"
)

func main() {
	_ = godotenv.Load(".env")

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	root := &cobra.Command{
		Use:   "poolcore",
		Short: "Stratum pool infrastructure process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			return Run(cfg, log)
		},
	}

	flags := root.Flags()
	flags.String("mode", "primary", "relay role: primary (accepts relays) or relay (dials a primary)")
	flags.String("event-socket", "/tmp/poolcore-events.sock", "Unix datagram socket path for the event ring drainer")
	flags.String("relay-listen", ":8881", "address the primary listens on for relay connections")
	flags.String("relay-primary", "127.0.0.1:8881", "primary address a relay client dials")
	flags.String("relay-region", "", "this relay's self-reported region tag (generated from a mnemonic if left empty)")
	flags.Duration("relay-failover-timeout", 0, "heartbeat silence (a duration such as 10s) before a relay client declares independence (0 = package default)")
	flags.Int("metrics-port", 9100, "TCP port for the Prometheus exposition endpoint")
	flags.String("redis-url", "", "redis://host[:port][/db] for the signature/vardiff caches; empty disables both")
	flags.String("debug-addr", "", "address for the operator debug HTTP surface; empty disables it")

	_ = viper.BindPFlags(flags)
	viper.AutomaticEnv()

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("poolcore: fatal")
		os.Exit(1)
	}
}

func configFromFlags(cmd *cobra.Command) (AppConfig, error) {
	mode, _ := cmd.Flags().GetString("mode")
	if mode != "primary" && mode != "relay" {
		return AppConfig{}, fmt.Errorf("--mode must be %q or %q, got %q", "primary", "relay", mode)
	}
	eventSocket, _ := cmd.Flags().GetString("event-socket")
	relayListen, _ := cmd.Flags().GetString("relay-listen")
	relayPrimary, _ := cmd.Flags().GetString("relay-primary")
	relayRegion, _ := cmd.Flags().GetString("relay-region")
	if relayRegion == "" {
		var err error
		relayRegion, err = generateRegionTag()
		if err != nil {
			return AppConfig{}, fmt.Errorf("generate relay region tag: %w", err)
		}
	}
	failoverTimeout, _ := cmd.Flags().GetDuration("relay-failover-timeout")
	metricsPort, _ := cmd.Flags().GetInt("metrics-port")
	redisURL, _ := cmd.Flags().GetString("redis-url")
	debugAddr, _ := cmd.Flags().GetString("debug-addr")

	return AppConfig{
		Mode:                 mode,
		EventSocketPath:      eventSocket,
		RelayListenAddr:      relayListen,
		RelayPrimaryAddr:     relayPrimary,
		RelayRegion:          relayRegion,
		RelayFailoverTimeout: failoverTimeout,
		MetricsPort:          metricsPort,
		RedisURL:             redisURL,
		DebugAddr:            debugAddr,
	}, nil
}

// generateRegionTag derives a stable-looking, human-readable region tag
// from a freshly generated BIP-39 mnemonic's first two words, for relays
// started without an explicit --relay-region.
func generateRegionTag() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}
	words := strings.Fields(mnemonic)
	if len(words) < 2 {
		return "", fmt.Errorf("mnemonic %q too short", mnemonic)
	}
	return words[0] + "-" + words[1], nil
}
