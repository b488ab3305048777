package notifxses

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/notifx"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// API is the part of the SES client the provider uses.
type API interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESProvider sends mail through AWS SES.
type SESProvider struct {
	client API
}

func NewSESProvider(client API) *SESProvider {
	return &SESProvider{client: client}
}

// NewFromRegion loads the default AWS credential chain for region.
func NewFromRegion(ctx context.Context, region string) (*SESProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return NewSESProvider(ses.NewFromConfig(cfg)), nil
}

func (p *SESProvider) SendEmail(ctx context.Context, msg notifx.EmailMessage, opts ...notifx.Option) error {
	body := &types.Body{}
	if msg.TextBody != "" {
		body.Text = utf8(msg.TextBody)
	}
	if msg.HTMLBody != "" {
		body.Html = utf8(msg.HTMLBody)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.CC,
			BccAddresses: msg.BCC,
		},
		Message: &types.Message{
			Subject: utf8(msg.Subject),
			Body:    body,
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	so := notifx.ApplySendOptions(opts)
	if so.ConfigID != "" {
		input.ConfigurationSetName = aws.String(so.ConfigID)
	}
	for k, v := range so.Tags {
		input.Tags = append(input.Tags, types.MessageTag{Name: aws.String(k), Value: aws.String(v)})
	}

	if _, err := p.client.SendEmail(ctx, input); err != nil {
		return sesErrors.NewWithCause(ErrSendFailed, err).
			WithDetail("to", msg.To).
			WithDetail("subject", msg.Subject)
	}
	return nil
}

func utf8(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}
