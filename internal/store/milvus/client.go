// ABOUTME: Milvus client construction and collection bootstrap for the secondary store
// ABOUTME: Creates the partition-keyed collection, vector index, and loads it
package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	vectorField    = "vector"
	primaryField   = "uniqueid"
	partitionField = "tenantName"
)

// varcharFields are the scalar columns besides the primary and partition
// keys. Array-valued metadata is stored JSON-encoded in its VARCHAR column.
var varcharFields = []string{
	"recordType", "lastUpdateDevice", "lastUpdateDeviceId",
	"title", "content", "filePath", "fileData", "fileType", "fileText", "noteType",
	"tags", "tagIds", "incomingConnections", "outgoingConnections",
	"name", "color",
	"text", "referenceId", "referenceTitle", "type", "journalDate",
	"date",
	"foreignId", "miscData", "startId", "startData", "endId", "endData",
}

var int64Fields = []string{"created", "lastModified", "position"}

// Client wraps the Milvus SDK client with the collection this deployment uses
type Client struct {
	api        client.Client
	collection string
	dim        int
}

// NewClient connects to Milvus and ensures the record collection exists
func NewClient(ctx context.Context, address, apiKey, collection string, dim int) (*Client, error) {
	api, err := client.NewClient(ctx, client.Config{
		Address: address,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	c := &Client{api: api, collection: collection, dim: dim}
	if err := c.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureCollection creates, indexes, and loads the collection if needed
func (c *Client) ensureCollection(ctx context.Context) error {
	exists, err := c.api.HasCollection(ctx, c.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", c.collection, err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(c.collection).
			WithField(entity.NewField().
				WithName(primaryField).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(64).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(partitionField).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(256).
				WithIsPartitionKey(true)).
			WithField(entity.NewField().
				WithName(vectorField).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(c.dim)))
		for _, name := range varcharFields {
			schema = schema.WithField(entity.NewField().
				WithName(name).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(65535))
		}
		for _, name := range int64Fields {
			schema = schema.WithField(entity.NewField().
				WithName(name).
				WithDataType(entity.FieldTypeInt64))
		}

		if err := c.api.CreateCollection(ctx, schema, 2,
			client.WithConsistencyLevel(entity.ClBounded)); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", c.collection, err)
		}

		index, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			return fmt.Errorf("failed to build index definition: %w", err)
		}
		if err := c.api.CreateIndex(ctx, c.collection, vectorField, index, false); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}

	if err := c.api.LoadCollection(ctx, c.collection, false); err != nil {
		return fmt.Errorf("failed to load collection %s: %w", c.collection, err)
	}
	return nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.api.Close()
}
