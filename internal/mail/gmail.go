package mail

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailProvider reads mail through the Gmail REST API
type GmailProvider struct {
	oauthConfig *oauth2.Config
	logger      *zap.Logger
}

// NewGmailProvider creates a provider that refreshes access tokens with oauthConfig
func NewGmailProvider(oauthConfig *oauth2.Config, logger *zap.Logger) *GmailProvider {
	return &GmailProvider{
		oauthConfig: oauthConfig,
		logger:      logger,
	}
}

// Open builds a Gmail client for the credential. The token source refreshes the access token on demand.
func (p *GmailProvider) Open(ctx context.Context, cred Credential) (Mailbox, error) {
	if cred.RefreshToken == "" {
		return nil, ErrNoCredential
	}

	ts := p.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	return &gmailMailbox{svc: svc, logger: p.logger}, nil
}

type gmailMailbox struct {
	svc    *gmail.Service
	logger *zap.Logger
}

func (m *gmailMailbox) ListRecentMessageIDs(ctx context.Context, max int) ([]string, error) {
	resp, err := m.svc.Users.Messages.List("me").
		MaxResults(int64(max)).
		IncludeSpamTrash(false).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", ErrProviderFailed, err)
	}

	return lo.Map(resp.Messages, func(msg *gmail.Message, _ int) string {
		return msg.Id
	}), nil
}

func (m *gmailMailbox) GetFullMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := m.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: get message %s: %v", ErrProviderFailed, id, err)
	}
	return convertGmailMessage(msg), nil
}

func (m *gmailMailbox) Close() error {
	return nil
}

// convertGmailMessage maps the API representation onto Message
func convertGmailMessage(msg *gmail.Message) *Message {
	out := &Message{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		InternalDate: msg.InternalDate,
	}
	if msg.Payload != nil {
		out.Headers = lo.Map(msg.Payload.Headers, func(h *gmail.MessagePartHeader, _ int) Header {
			return Header{Name: h.Name, Value: h.Value}
		})
		out.Payload = convertGmailPart(msg.Payload)
	}
	return out
}

func convertGmailPart(p *gmail.MessagePart) *Part {
	if p == nil {
		return nil
	}
	part := &Part{
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		if converted := convertGmailPart(child); converted != nil {
			part.Parts = append(part.Parts, converted)
		}
	}
	return part
}
