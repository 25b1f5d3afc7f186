// Package mongodb implements the docdb capability on the official
// MongoDB driver.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mongoward/mongoward/docdb"
)

// Connector dials MongoDB with fixed parameters. It implements
// docdb.Connector and is safe to call repeatedly; every Connect returns an
// independent client.
type Connector struct {
	params Params
}

// NewConnector creates a connector for the given parameters, filling
// unset values with the library defaults.
func NewConnector(params Params) *Connector {
	return &Connector{params: params.withDefaults()}
}

// Address returns the host:port the connector dials.
func (c *Connector) Address() string {
	return c.params.Address()
}

// Connect establishes a new client and verifies the server is reachable.
func (c *Connector) Connect(ctx context.Context) (docdb.Client, error) {
	client, err := mongo.Connect(ctx, c.params.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.Address(), classify(err))
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping %s: %w", c.Address(), classify(err))
	}
	return &Client{client: client}, nil
}

// Client implements docdb.Client for MongoDB.
type Client struct {
	client *mongo.Client
}

// Database returns a database handle by name.
func (c *Client) Database(name string) docdb.Database {
	return &Database{database: c.client.Database(name)}
}

// Ping checks whether the named database answers a ping command.
func (c *Client) Ping(ctx context.Context, database string) error {
	res := c.client.Database(database).RunCommand(ctx, pingCommand)
	if err := res.Err(); err != nil {
		return fmt.Errorf("ping %q failed: %w", database, classify(err))
	}
	return nil
}

// DropDatabase drops the named database.
func (c *Client) DropDatabase(ctx context.Context, name string) error {
	if err := c.client.Database(name).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop database %q: %w", name, classify(err))
	}
	return nil
}

// Disconnect closes the client.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect: %w", classify(err))
	}
	return nil
}
