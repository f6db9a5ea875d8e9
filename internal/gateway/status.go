package gateway

// Status values reported by [Gateway.Status].
const (
	StatusReady         = "ready"
	StatusNotConfigured = "not configured"
)

// Status summarises the LLM configuration for clients.
type Status struct {
	Status           string                    `json:"status"`
	HasAPIKey        bool                      `json:"hasApiKey"`
	SelectedProvider string                    `json:"selectedProvider"`
	SelectedModel    string                    `json:"selectedModel"`
	Providers        map[string]ProviderStatus `json:"providers"`
}

// ProviderStatus describes one provider in a [Status].
type ProviderStatus struct {
	Configured bool     `json:"configured"`
	Model      string   `json:"model,omitempty"`
	Breakers   []string `json:"breakers,omitempty"`
}

// Status reports which providers are configured, the default selection and
// the breaker state of each configured chain.
func (g *Gateway) Status() Status {
	s := Status{
		Status:    StatusNotConfigured,
		Providers: make(map[string]ProviderStatus, len(g.providers)+len(g.known)),
	}
	for _, name := range g.known {
		s.Providers[name] = ProviderStatus{}
	}
	for name, p := range g.providers {
		ps := ProviderStatus{Configured: true, Model: p.Capabilities().Model}
		chain := g.chains[name]
		states := chain.BreakerStates()
		for _, hop := range chain.Chain() {
			ps.Breakers = append(ps.Breakers, hop+":"+states[hop].String())
		}
		s.Providers[name] = ps
	}
	if g.defaultName != "" {
		s.Status = StatusReady
		s.HasAPIKey = true
		s.SelectedProvider = g.defaultName
		s.SelectedModel = s.Providers[g.defaultName].Model
	}
	return s
}

// Ready reports whether a default provider exists. It is used as a readiness
// check.
func (g *Gateway) Ready() error {
	if g.defaultName == "" {
		return ErrNoProvider
	}
	return nil
}
