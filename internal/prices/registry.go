package prices

import (
	"fmt"
	"strings"
)

// Registry maps display pairs to provider symbols
type Registry struct {
	mappings map[string]string // display pair -> provider symbol
}

func NewRegistry() *Registry {
	r := &Registry{
		mappings: make(map[string]string),
	}

	r.AddMapping("XRD/USD", "XRDUSDT")
	r.AddMapping("XRD/USDT", "XRDUSDT")
	r.AddMapping("XRD/EUSD", "XRDUSDT")

	return r
}

func (r *Registry) AddMapping(pair, providerSymbol string) {
	r.mappings[strings.ToUpper(pair)] = strings.ToUpper(providerSymbol)
}

func (r *Registry) GetProviderSymbol(pair string) (string, error) {
	symbol, exists := r.mappings[strings.ToUpper(pair)]
	if !exists {
		return "", fmt.Errorf("no mapping found for pair: %s", pair)
	}
	return symbol, nil
}

// Resolve accepts either a display pair or a provider symbol
func (r *Registry) Resolve(pairOrSymbol string) string {
	if symbol, err := r.GetProviderSymbol(pairOrSymbol); err == nil {
		return symbol
	}
	return strings.ToUpper(strings.TrimSpace(pairOrSymbol))
}

func (r *Registry) ValidatePair(pair string) bool {
	_, exists := r.mappings[strings.ToUpper(pair)]
	return exists
}
