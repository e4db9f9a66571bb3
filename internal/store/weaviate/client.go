// ABOUTME: Weaviate client construction and schema bootstrap for the primary store
// ABOUTME: Creates the multi-tenant class and provisions tenants on demand
package weaviate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	wv "github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	wvmodels "github.com/weaviate/weaviate/entities/models"
)

// textArrayProps are the metadata fields stored as text arrays; everything
// else in textProps is a plain text property.
var textArrayProps = []string{"tags", "tagIds", "incomingConnections", "outgoingConnections"}

var textProps = []string{
	"recordType", "lastUpdateDevice", "lastUpdateDeviceId",
	"title", "content", "filePath", "fileData", "fileType", "fileText", "noteType",
	"name", "color",
	"text", "referenceId", "referenceTitle", "type", "journalDate",
	"date",
	"foreignId", "miscData", "startId", "startData", "endId", "endData",
}

var intProps = []string{"created", "lastModified", "position"}

// Client wraps the Weaviate SDK client with the class this deployment uses
type Client struct {
	api   *wv.Client
	class string

	mu      sync.Mutex
	tenants map[string]bool // tenants known to exist
}

// NewClient connects to Weaviate and ensures the record class exists
func NewClient(ctx context.Context, host, scheme, apiKey, class string) (*Client, error) {
	cfg := wv.Config{
		Host:   host,
		Scheme: scheme,
	}
	if apiKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: apiKey}
	}
	api, err := wv.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	c := &Client{
		api:     api,
		class:   class,
		tenants: make(map[string]bool),
	}
	if err := c.ensureClass(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureClass creates the multi-tenant class if it does not exist yet
func (c *Client) ensureClass(ctx context.Context) error {
	exists, err := c.api.Schema().ClassExistenceChecker().WithClassName(c.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check class %s: %w", c.class, err)
	}
	if exists {
		return nil
	}

	props := make([]*wvmodels.Property, 0, len(textProps)+len(textArrayProps)+len(intProps))
	for _, name := range textProps {
		props = append(props, &wvmodels.Property{Name: name, DataType: []string{"text"}})
	}
	for _, name := range textArrayProps {
		props = append(props, &wvmodels.Property{Name: name, DataType: []string{"text[]"}})
	}
	for _, name := range intProps {
		props = append(props, &wvmodels.Property{Name: name, DataType: []string{"int"}})
	}

	class := &wvmodels.Class{
		Class:      c.class,
		Vectorizer: "none",
		Properties: props,
		MultiTenancyConfig: &wvmodels.MultiTenancyConfig{
			Enabled:            true,
			AutoTenantCreation: true,
		},
	}
	if err := c.api.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		// Lost a creation race with another instance
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("failed to create class %s: %w", c.class, err)
	}
	return nil
}

// EnsureTenant provisions a tenant partition, remembering successes so the
// write path only pays the round trip once per tenant per process.
func (c *Client) EnsureTenant(ctx context.Context, tenant string) error {
	c.mu.Lock()
	known := c.tenants[tenant]
	c.mu.Unlock()
	if known {
		return nil
	}

	err := c.api.Schema().TenantsCreator().
		WithClassName(c.class).
		WithTenants(wvmodels.Tenant{Name: tenant}).
		Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create tenant %s: %w", tenant, err)
	}

	c.mu.Lock()
	c.tenants[tenant] = true
	c.mu.Unlock()
	return nil
}

// ForgetTenant drops the tenant from the cache, used after DeleteAll removes
// the partition.
func (c *Client) ForgetTenant(tenant string) {
	c.mu.Lock()
	delete(c.tenants, tenant)
	c.mu.Unlock()
}

// isTenantError reports whether a write failed because the tenant partition
// does not exist yet.
func isTenantError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "tenant not found") ||
		strings.Contains(msg, "no tenant found")
}
