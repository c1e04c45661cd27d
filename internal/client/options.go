package client

import (
	"crypto/tls"

	"github.com/idorocodes/qight/internal/logging"
	"github.com/idorocodes/qight/internal/transport"
	"github.com/idorocodes/qight/internal/wire"
)

// options collects dial-time configuration.
type options struct {
	tlsConf       *tls.Config
	caFile        string
	insecure      bool
	dialer        transport.Dialer
	log           *logging.Logger
	transportOpts transport.Options
	maxFrameBytes uint32
}

func defaultOptions() options {
	return options{
		log:           logging.NopLogger(),
		maxFrameBytes: wire.DefaultMaxFrameBytes,
	}
}

// Option configures Dial.
type Option func(*options)

// WithTLSConfig supplies a complete TLS client configuration, overriding
// WithCAFile and WithInsecure.
func WithTLSConfig(conf *tls.Config) Option {
	return func(o *options) { o.tlsConf = conf }
}

// WithCAFile trusts the PEM certificates in path when verifying the relay,
// typically the relay's own self-signed certificate.
func WithCAFile(path string) Option {
	return func(o *options) { o.caFile = path }
}

// WithInsecure skips relay certificate verification.
func WithInsecure() Option {
	return func(o *options) { o.insecure = true }
}

// WithDialer substitutes the transport used to reach the relay. The TLS
// options are ignored when a dialer is supplied.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLogger attaches a logger. Dial logs nowhere otherwise.
func WithLogger(log *logging.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithTransportOptions tunes the QUIC transport, such as idle timeout and
// keep-alive. Ignored when a dialer is supplied.
func WithTransportOptions(opts transport.Options) Option {
	return func(o *options) { o.transportOpts = opts }
}

// WithMaxFrameBytes caps the size of frames accepted from the relay.
func WithMaxFrameBytes(n uint32) Option {
	return func(o *options) { o.maxFrameBytes = n }
}
