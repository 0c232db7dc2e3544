package ses

import (
	"bytes"
	"context"
	"errors"
	"net/mail"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"

	"github.com/aerth/contactd/contact"
)

type fakeSES struct {
	sesiface.SESAPI
	sendFunc func(*ses.SendRawEmailInput) (*ses.SendRawEmailOutput, error)
	in       *ses.SendRawEmailInput
}

func (f *fakeSES) SendRawEmailWithContext(ctx aws.Context, in *ses.SendRawEmailInput, _ ...request.Option) (*ses.SendRawEmailOutput, error) {
	f.in = in
	return f.sendFunc(in)
}

func message() *contact.Message {
	return &contact.Message{
		Date:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		From:    mail.Address{Address: "no-reply@example.com"},
		To:      "inbox@example.com",
		Subject: "Contact Form — Ann Lee",
		Body:    "Hello",
	}
}

func TestSend(t *testing.T) {
	f := &fakeSES{sendFunc: func(*ses.SendRawEmailInput) (*ses.SendRawEmailOutput, error) {
		return &ses.SendRawEmailOutput{MessageId: aws.String("abc")}, nil
	}}
	tr := NewWithAPI(f, Config{Region: "eu-west-1", ConfigurationSet: "forms"}, nil)
	m := message()
	if err := tr.Send(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if aws.StringValue(f.in.Source) != "no-reply@example.com" {
		t.Errorf("Source = %q", aws.StringValue(f.in.Source))
	}
	if len(f.in.Destinations) != 1 || aws.StringValue(f.in.Destinations[0]) != "inbox@example.com" {
		t.Errorf("Destinations = %v", aws.StringValueSlice(f.in.Destinations))
	}
	if aws.StringValue(f.in.ConfigurationSetName) != "forms" {
		t.Errorf("ConfigurationSetName = %q", aws.StringValue(f.in.ConfigurationSetName))
	}
	if !bytes.Equal(f.in.RawMessage.Data, m.Bytes()) {
		t.Error("raw message differs from rendering")
	}
}

func TestSend_Error(t *testing.T) {
	boom := errors.New("MessageRejected")
	f := &fakeSES{sendFunc: func(*ses.SendRawEmailInput) (*ses.SendRawEmailOutput, error) {
		return nil, boom
	}}
	tr := NewWithAPI(f, Config{Region: "eu-west-1"}, nil)
	if err := tr.Send(context.Background(), message()); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if f.in.ConfigurationSetName != nil {
		t.Error("configuration set should be unset")
	}
}

func TestNew_NoRegion(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected error")
	}
}
