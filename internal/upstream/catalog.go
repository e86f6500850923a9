package upstream

import (
	"strings"
	"time"

	"github.com/sdko-org/lookup-relay/internal/config"
)

// Catalog maps service names to their descriptors. It is read-only after construction.
type Catalog struct {
	services map[string]config.ServiceDescriptor
	names    []string
}

func NewCatalog(services []config.ServiceDescriptor) *Catalog {
	c := &Catalog{services: make(map[string]config.ServiceDescriptor, len(services))}
	for _, svc := range services {
		name := strings.ToLower(svc.Name)
		if svc.Timeout <= 0 {
			svc.Timeout = 10 * time.Second
		}
		if svc.Retries <= 0 {
			svc.Retries = 3
		}
		if _, exists := c.services[name]; !exists {
			c.names = append(c.names, name)
		}
		c.services[name] = svc
	}
	return c
}

func (c *Catalog) Lookup(name string) (config.ServiceDescriptor, bool) {
	svc, ok := c.services[strings.ToLower(name)]
	return svc, ok
}

// Names returns service names in registration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}
