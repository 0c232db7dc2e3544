// Package ses delivers contact messages through Amazon SES raw sends.
package ses

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"go.uber.org/zap"

	"github.com/aerth/contactd/contact"
)

type Config struct {
	Region string
	// ConfigurationSet is optional.
	ConfigurationSet string
}

type Transport struct {
	api    sesiface.SESAPI
	cfgSet string
	log    *zap.SugaredLogger
}

// New uses the default AWS credential chain. The sender address must be verified in SES.
func New(cfg Config, log *zap.SugaredLogger) (*Transport, error) {
	if cfg.Region == "" {
		return nil, errors.New("ses: no region")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, fmt.Errorf("ses session: %w", err)
	}
	return NewWithAPI(ses.New(sess), cfg, log), nil
}

func NewWithAPI(api sesiface.SESAPI, cfg Config, log *zap.SugaredLogger) *Transport {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Transport{api: api, cfgSet: cfg.ConfigurationSet, log: log}
}

func (t *Transport) Send(ctx context.Context, m *contact.Message) error {
	in := &ses.SendRawEmailInput{
		Source:       aws.String(m.From.Address),
		Destinations: []*string{aws.String(m.To)},
		RawMessage:   &ses.RawMessage{Data: m.Bytes()},
	}
	if t.cfgSet != "" {
		in.ConfigurationSetName = aws.String(t.cfgSet)
	}
	out, err := t.api.SendRawEmailWithContext(ctx, in)
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	t.log.Debugw("submitted", "id", m.ID, "ses-id", aws.StringValue(out.MessageId))
	return nil
}
