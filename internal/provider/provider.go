package provider

import (
    "context"

    "stockrefresh/internal/model"
)

// Provider is one upstream quote or fundamentals source.
//
// FetchBatch returns whatever the provider knew about the requested
// symbols, keyed by symbol. A symbol the provider did not answer is
// absent from the map; an answered symbol stays present even when its
// price did not parse, so the cascade knows not to re-ask for it.
// Transport and parse failures are absorbed: the adapter records them on
// its circuit breaker and returns what it has (possibly nothing).
type Provider interface {
    Name() string
    FetchBatch(ctx context.Context, symbols []string) map[string]*model.Partial
}
