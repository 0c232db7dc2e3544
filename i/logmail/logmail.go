// Package logmail is a Transport that only logs. Development mode uses it by default.
package logmail

import (
	"context"

	"go.uber.org/zap"

	"github.com/aerth/contactd/contact"
)

type Transport struct {
	log      *zap.SugaredLogger
	withBody bool
}

// New logs message summaries, and bodies too when withBody is set.
func New(log *zap.SugaredLogger, withBody bool) *Transport {
	return &Transport{log: log, withBody: withBody}
}

func (t *Transport) Send(ctx context.Context, m *contact.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kv := []interface{}{
		"id", m.ID,
		"to", m.To,
		"from", m.From.String(),
		"reply-to", m.ReplyTo.Address,
		"subject", m.Subject,
		"size", len(m.Body),
	}
	if t.withBody {
		kv = append(kv, "body", m.Body)
	}
	t.log.Infow("message", kv...)
	return nil
}
