package push

import "context"

// Transport delivers a notification payload to device tokens. Multicast
// returns one aggregate outcome, not per-token results; finer granularity
// belongs to the transport provider's own delivery reports.
type Transport interface {
	SendSingle(ctx context.Context, token, title, body string, data map[string]string) error
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}
