package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"
)

// Params holds the fixed connection parameters a Connector dials with.
// Immutable after construction; every reconnect rebuilds the client from
// the same values.
type Params struct {
	Host        string
	Port        int
	MaxPoolSize uint64

	// WaitQueueTimeout bounds how long an operation waits for a pooled
	// connection. The driver derives pool waits from the operation
	// context, so this is only honoured when a caller asks for a bounded
	// context via OperationContext.
	WaitQueueTimeout time.Duration

	// ConnectTimeout bounds server monitoring when connecting a new socket
	// before the server is considered unavailable.
	ConnectTimeout time.Duration

	AuthSource    string
	AuthMechanism string
	Username      string
	Password      string
}

// withDefaults fills zero values with the library defaults.
func (p Params) withDefaults() Params {
	if p.Host == "" {
		p.Host = "localhost"
	}
	if p.Port == 0 {
		p.Port = 27017
	}
	if p.MaxPoolSize == 0 {
		p.MaxPoolSize = 1
	}
	if p.WaitQueueTimeout == 0 {
		p.WaitQueueTimeout = 400 * time.Millisecond
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = 15 * time.Second
	}
	return p
}

// OperationContext derives a context bounded by the wait-queue timeout,
// for callers that want pool checkout waits limited the way the source
// parameters intended.
func (p Params) OperationContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, p.WaitQueueTimeout)
}

// Address returns the host:port pair the parameters dial.
func (p Params) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// clientOptions derives fresh driver options. Called on every connect so a
// shared options value is never mutated across clients.
func (p Params) clientOptions() *options.ClientOptions {
	opts := options.Client().
		SetHosts([]string{p.Address()}).
		SetMaxPoolSize(p.MaxPoolSize).
		SetConnectTimeout(p.ConnectTimeout).
		SetServerSelectionTimeout(p.ConnectTimeout)

	if p.AuthMechanism != "" {
		cred := options.Credential{
			AuthMechanism: p.AuthMechanism,
			Username:      p.Username,
			Password:      p.Password,
		}
		if p.AuthSource != "" {
			cred.AuthSource = p.AuthSource
		}
		opts.SetAuth(cred)
	}
	return opts
}
