package adapter

import "context"

// EdgeRoutingAdapter maps human-readable subdomains to compute URLs and
// manages DNS/TLS for user-owned custom domains.
type EdgeRoutingAdapter interface {
	PutMapping(ctx context.Context, slug, targetURL string) error

	// GetMapping returns "" with no error when the slug has no mapping.
	GetMapping(ctx context.Context, slug string) (string, error)
	DeleteMapping(ctx context.Context, slug string) error

	CreateDNSRecord(ctx context.Context, hostname, target string) error
	CreateCustomHostname(ctx context.Context, hostname string) (sslStatus string, err error)
}
