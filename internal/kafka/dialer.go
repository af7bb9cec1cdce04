package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/ppiankov/kafkadeck/internal/cluster"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// Dialer opens franz-go sessions with a shared set of client options.
type Dialer struct {
	config Config
	opts   []kgo.Opt
}

// NewDialer validates the auth and TLS settings once so every Dial reuses
// them.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "kafkadeck-" + uuid.NewString()[:8]
	}

	opts := []kgo.Opt{
		kgo.ClientID(cfg.ClientID),
	}
	if cfg.DialTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(cfg.DialTimeout))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, kgo.RequestTimeoutOverhead(cfg.RequestTimeout))
	}

	// Configure SASL authentication
	if cfg.AuthMechanism != "" {
		saslOpt, err := buildSASL(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure SASL: %w", err)
		}
		opts = append(opts, saslOpt)
	}

	// Configure TLS
	if cfg.TLSEnabled || cfg.TLSCertFile != "" || cfg.TLSCAFile != "" {
		tlsConfig, err := buildTLS(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		opts = append(opts, kgo.DialTLSConfig(tlsConfig))
	}

	return &Dialer{config: cfg, opts: opts}, nil
}

// Dial creates a client for brokers and pings it before handing it out.
func (d *Dialer) Dial(ctx context.Context, brokers []string) (cluster.Session, error) {
	seeds := normalizeSeeds(brokers)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no brokers provided")
	}

	client, err := kgo.NewClient(d.clientOpts(seeds)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	// Ping the cluster to verify connectivity (with retry for transient failures)
	if err := withRetry(ctx, "ping broker", func() error {
		return client.Ping(ctx)
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Kafka cluster: %w", err)
	}

	slog.Debug("kafka session opened", "brokers", strings.Join(seeds, ","), "client_id", d.config.ClientID)

	return &Session{
		dialer: d,
		seeds:  seeds,
		client: client,
		admin:  kadm.NewClient(client),
	}, nil
}

func (d *Dialer) clientOpts(seeds []string, extra ...kgo.Opt) []kgo.Opt {
	opts := make([]kgo.Opt, 0, len(d.opts)+len(extra)+1)
	opts = append(opts, d.opts...)
	opts = append(opts, kgo.SeedBrokers(seeds...))
	return append(opts, extra...)
}

func normalizeSeeds(brokers []string) []string {
	seeds := make([]string, 0, len(brokers))
	for _, b := range brokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				seeds = append(seeds, part)
			}
		}
	}
	return seeds
}

// buildSASL creates SASL authentication options based on the mechanism
func buildSASL(cfg Config) (kgo.Opt, error) {
	switch strings.ToUpper(cfg.AuthMechanism) {
	case "PLAIN":
		return kgo.SASL(plain.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsMechanism()), nil

	case "SCRAM-SHA-256":
		mechanism := scram.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsSha256Mechanism()
		return kgo.SASL(mechanism), nil

	case "SCRAM-SHA-512":
		mechanism := scram.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsSha512Mechanism()
		return kgo.SASL(mechanism), nil

	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.AuthMechanism)
	}
}

// buildTLS creates TLS configuration from the provided cert files
func buildTLS(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
