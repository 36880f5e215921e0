package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	sescfg "github.com/ignite/campaign-engine/internal/config"
)

// SimpleMessage is a send with no attachments, where the provider builds
// the MIME itself.
type SimpleMessage struct {
	From     string
	To       []string
	CC       []string
	BCC      []string
	Subject  string
	HTMLBody string
	TextBody string
}

// MailProvider is the outbound mail interface the dispatcher sends
// through.
type MailProvider interface {
	// SendSimple sends a message with provider-composed MIME. Headers
	// and envelope cannot diverge, so it is only usable when they agree.
	SendSimple(ctx context.Context, msg *SimpleMessage) (string, error)
	// SendRaw sends pre-composed MIME bytes to the given envelope
	// recipients, which may differ from the header recipients.
	SendRaw(ctx context.Context, from string, envelope []string, raw []byte) (string, error)
}

// SESProvider delivers mail through AWS SESv2.
type SESProvider struct {
	client  *sesv2.Client
	timeout time.Duration
}

// NewSESProvider creates a provider on the given SES settings. Explicit
// keys take priority; empty keys fall back to the default credential
// chain (IAM role on ECS).
func NewSESProvider(ctx context.Context, cfg sescfg.SESConfig) (*SESProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing SES config: %w", err)
	}
	return &SESProvider{
		client:  sesv2.NewFromConfig(awsCfg),
		timeout: cfg.Timeout(),
	}, nil
}

func (p *SESProvider) sendCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *SESProvider) SendSimple(ctx context.Context, msg *SimpleMessage) (string, error) {
	ctx, cancel := p.sendCtx(ctx)
	defer cancel()

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.CC,
			BccAddresses: msg.BCC,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.TextBody != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("sending mail: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func (p *SESProvider) SendRaw(ctx context.Context, from string, envelope []string, raw []byte) (string, error) {
	ctx, cancel := p.sendCtx(ctx)
	defer cancel()

	out, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: envelope},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return "", fmt.Errorf("sending raw mail: %w", err)
	}

	id := aws.ToString(out.MessageId)
	log.Printf("[SES] Raw send accepted (id: %s, %d envelope recipients)", id, len(envelope))
	return id, nil
}
