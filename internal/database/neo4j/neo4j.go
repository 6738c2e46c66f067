package neo4j

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"mnemograph/internal/config"
)

var (
	instance *Neo4jClient
	once     sync.Once
	initErr  error
)

// Neo4jClient holds the Neo4j driver instance and its configuration.
type Neo4jClient struct {
	Driver neo4j.DriverWithContext
	Config *config.Neo4jConfig
}

// GetClient creates and returns the singleton Neo4j driver instance.
func GetClient(ctx context.Context, cfg *config.Neo4jConfig) (*Neo4jClient, error) {
	once.Do(func() {
		auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")

		driver, err := neo4j.NewDriverWithContext(cfg.Uri, auth)
		if err != nil {
			initErr = fmt.Errorf("failed to create Neo4j driver: %w", err)
			return
		}

		if err := driver.VerifyConnectivity(ctx); err != nil {
			driver.Close(ctx)
			initErr = fmt.Errorf("failed to connect to Neo4j: %w", err)
			return
		}

		log.Println("✅ Connected to Neo4j!")
		instance = &Neo4jClient{Driver: driver, Config: cfg}
	})
	return instance, initErr
}

// Close safely shuts down the Neo4j connection.
func (c *Neo4jClient) Close(ctx context.Context) {
	if c.Driver != nil {
		if err := c.Driver.Close(ctx); err != nil {
			log.Printf("failed to close Neo4j driver: %v", err)
		}
	}
}

// HealthCheck verifies the Neo4j connection is alive.
func (c *Neo4jClient) HealthCheck(ctx context.Context) error {
	return c.Driver.VerifyConnectivity(ctx)
}

// ExecuteWrite runs a Cypher query inside a managed write transaction.
func (c *Neo4jClient) ExecuteWrite(ctx context.Context, work func(tx neo4j.ManagedTransaction) (interface{}, error)) (interface{}, error) {
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.Config.Database})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, work)
	if err != nil {
		return nil, fmt.Errorf("neo4j write transaction failed: %w", err)
	}
	return result, nil
}

// ExecuteRead runs a Cypher query inside a managed read transaction.
func (c *Neo4jClient) ExecuteRead(ctx context.Context, work func(tx neo4j.ManagedTransaction) (interface{}, error)) (interface{}, error) {
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.Config.Database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, work)
	if err != nil {
		return nil, fmt.Errorf("neo4j read transaction failed: %w", err)
	}
	return result, nil
}

// CollectRecords runs a read query and materializes every record. Convenient
// for the row-oriented result shape the stores work with.
func (c *Neo4jClient) CollectRecords(ctx context.Context, query string, params map[string]interface{}) ([]*neo4j.Record, error) {
	result, err := c.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*neo4j.Record), nil
}

// RunWrite runs a write query and discards the records.
func (c *Neo4jClient) RunWrite(ctx context.Context, query string, params map[string]interface{}) error {
	_, err := c.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return nil, res.Err()
	})
	return err
}
