package kafka

import "time"

// Config holds the client settings shared by every cluster session.
type Config struct {
	AuthMechanism  string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username       string
	Password       string
	TLSEnabled     bool // Enable TLS without client certificates
	TLSCertFile    string
	TLSKeyFile     string
	TLSCAFile      string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	ClientID       string
}
