package agents

import (
	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/llm"
	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/tools"
)

// Catalog is the closed set of specialists. Dispatch outside the set falls
// back to the support agent.
type Catalog struct {
	support *Agent
	order   *Agent
	billing *Agent
}

func NewCatalog(svc *tools.Service, llmClient llm.Client, logger *zap.Logger) *Catalog {
	return &Catalog{
		support: NewSupportAgent(svc, llmClient, logger),
		order:   NewOrderAgent(svc, llmClient, logger),
		billing: NewBillingAgent(svc, llmClient, logger),
	}
}

// Get returns the specialist for the given type, defaulting to support for
// anything unrecognized.
func (c *Catalog) Get(agentType models.AgentType) *Agent {
	switch agentType {
	case models.AgentOrder:
		return c.order
	case models.AgentBilling:
		return c.billing
	default:
		return c.support
	}
}

// Lookup is Get without the fallback, for catalog endpoints that must 404
// on unknown types.
func (c *Catalog) Lookup(agentType models.AgentType) (*Agent, bool) {
	if !agentType.Valid() {
		return nil, false
	}
	return c.Get(agentType), true
}

func (c *Catalog) All() []*Agent {
	return []*Agent{c.support, c.order, c.billing}
}
