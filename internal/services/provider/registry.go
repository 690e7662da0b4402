package provider

import (
	"fmt"
	"strings"

	"github.com/gensy-ai/creative-ledger/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Registry holds one poll client per configured provider, keyed by the
// provider name stored on Generation rows.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds clients from the providers section of the config.
// A provider that fails to construct is skipped with a warning so one
// bad entry does not take the whole service down.
func NewRegistry(configs map[string]models.ProviderConfig) *Registry {
	clients := make(map[string]Client, len(configs))

	for name, cfg := range configs {
		name = strings.ToLower(name)
		client, err := build(name, cfg)
		if err != nil {
			fiberlog.Warnf("Skipping provider %s: %v", name, err)
			continue
		}
		clients[name] = client
		fiberlog.Infof("Registered provider %s (kind %s)", name, cfg.Kind)
	}

	return &Registry{clients: clients}
}

func build(name string, cfg models.ProviderConfig) (Client, error) {
	switch cfg.Kind {
	case "vertex":
		return newVertexClient(name, cfg)
	case "bytedance", "bfl", "minimax":
		return newRESTClient(name, cfg)
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", cfg.Kind)
	}
}

// Get returns the client for a provider name
func (r *Registry) Get(name string) (Client, bool) {
	client, ok := r.clients[strings.ToLower(name)]
	return client, ok
}

// Register adds or replaces a client, used by tests and custom wiring
func (r *Registry) Register(client Client) {
	if r.clients == nil {
		r.clients = make(map[string]Client)
	}
	r.clients[strings.ToLower(client.Name())] = client
}

// Names lists registered providers
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
