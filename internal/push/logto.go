package push

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogTransport logs sends instead of contacting a provider. Default when no
// FCM credentials are configured, so the engine can run locally end to end.
type LogTransport struct{}

func (LogTransport) SendSingle(ctx context.Context, token, title, body string, data map[string]string) error {
	log.Info().Str("token", token).Str("title", title).Str("body", body).
		Interface("data", data).Msg("push (dry run)")
	return nil
}

func (LogTransport) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	log.Info().Int("tokens", len(tokens)).Str("title", title).Str("body", body).
		Interface("data", data).Msg("push multicast (dry run)")
	return nil
}
