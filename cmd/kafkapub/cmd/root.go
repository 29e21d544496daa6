package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loipv/kafka-producer-factory/kafka"
)

// EnvPrefix is the prefix of environment variables read by kafkapub
const EnvPrefix = "KAFKAPUB"

// Execute runs the root command.
func Execute() error {
	root := newRootCmd(viper.NewWithOptions(viper.KeyDelimiter("::")))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "kafkapub",
		Short: "Publish records to Kafka through a producer factory",
		Long: `kafkapub publishes records to Kafka using a shared producer, or a pool
of transactional producers when a transactional id prefix is set.

Configuration file example:

  brokers: [localhost:9092]
  client-id: kafkapub
  transactional-id-prefix: kafkapub-
  close-timeout: 10s
  producer:
    linger.ms: 5
    compression.type: zstd`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, configFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML config file")
	flags.StringSlice("brokers", []string{"localhost:9092"}, "Kafka bootstrap servers (env: KAFKAPUB_BROKERS)")
	flags.String("client-id", "kafkapub", "Kafka client id")
	flags.String("transactional-id-prefix", "", "Enable transactions with this transactional id prefix")
	flags.Duration("close-timeout", kafka.DefaultPhysicalCloseTimeout, "Timeout for closing producer connections")
	flags.String("backend", backendConfluent, "Producer client: confluent or sarama")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	_ = v.BindPFlags(flags)

	root.AddCommand(newPublishCmd(v))
	return root
}

func initConfig(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		return nil
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", configFile, err)
	}
	return nil
}

const (
	backendConfluent = "confluent"
	backendSarama    = "sarama"
)

// settings is the resolved kafkapub configuration
type settings struct {
	Brokers               []string
	ClientID              string
	TransactionalIDPrefix string
	CloseTimeout          time.Duration
	Backend               string
	LogLevel              slog.Level
	Producer              map[string]any
}

func loadSettings(v *viper.Viper) (*settings, error) {
	s := &settings{
		Brokers:               splitList(v.GetStringSlice("brokers")),
		ClientID:              v.GetString("client-id"),
		TransactionalIDPrefix: v.GetString("transactional-id-prefix"),
		CloseTimeout:          v.GetDuration("close-timeout"),
		Backend:               strings.ToLower(v.GetString("backend")),
		Producer:              v.GetStringMap("producer"),
	}

	if len(s.Brokers) == 0 {
		return nil, kafka.ErrBrokersRequired
	}

	switch s.Backend {
	case "", backendConfluent:
		s.Backend = backendConfluent
	case backendSarama:
	default:
		return nil, fmt.Errorf("unknown backend %q", s.Backend)
	}

	if err := s.LogLevel.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return s, nil
}

// newFactory builds an unstarted factory from settings
func newFactory(s *settings, logger kafka.Logger) (*kafka.ProducerFactory, error) {
	clientOpts := []kafka.ClientOption{
		kafka.WithBrokers(s.Brokers...),
		kafka.WithClientID(s.ClientID),
	}
	for k, val := range s.Producer {
		clientOpts = append(clientOpts, kafka.WithProperty(k, val))
	}

	configs, err := kafka.NewConfigMap(clientOpts...)
	if err != nil {
		return nil, err
	}

	opts := []kafka.FactoryOption{
		kafka.WithLogger(logger),
		kafka.WithPhysicalCloseTimeout(s.CloseTimeout),
		kafka.WithTransactionIDPrefix(s.TransactionalIDPrefix),
	}
	if s.Backend == backendSarama {
		opts = append(opts, kafka.WithProducerBuilder(kafka.NewSaramaProducerBuilder(logger, nil)))
	}

	return kafka.NewProducerFactory(configs, opts...), nil
}

func newLogger(level slog.Level) kafka.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return kafka.NewSlogLogger(slog.New(handler))
}

// splitList accepts both list values and comma separated strings from env
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
