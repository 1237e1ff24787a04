package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	netmail "net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	id "github.com/emersion/go-imap-id"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// GmailIMAPAddr is Gmail's IMAP endpoint
	GmailIMAPAddr = "imap.gmail.com:993"
	// GmailIMAPScope is the OAuth scope required for XOAUTH2 access
	GmailIMAPScope = "https://mail.google.com/"

	imapIDPrefix = "imap:"
)

// IMAPProvider reads the INBOX over IMAP with XOAUTH2
type IMAPProvider struct {
	addr        string
	oauthConfig *oauth2.Config
	dialTimeout time.Duration
	cmdTimeout  time.Duration
	logger      *zap.Logger
}

// NewIMAPProvider creates an IMAP provider; an empty addr means Gmail
func NewIMAPProvider(addr string, oauthConfig *oauth2.Config, logger *zap.Logger) *IMAPProvider {
	if addr == "" {
		addr = GmailIMAPAddr
	}
	return &IMAPProvider{
		addr:        addr,
		oauthConfig: oauthConfig,
		dialTimeout: 10 * time.Second,
		cmdTimeout:  2 * time.Minute,
		logger:      logger,
	}
}

// Open connects, identifies and authenticates. The caller must Close the mailbox.
func (p *IMAPProvider) Open(ctx context.Context, cred Credential) (Mailbox, error) {
	if cred.RefreshToken == "" {
		return nil, ErrNoCredential
	}

	token, err := p.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %v", ErrProviderFailed, err)
	}

	host, _, err := net.SplitHostPort(p.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.dialTimeout},
		Config:    &tls.Config{ServerName: host},
	}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	c.Timeout = p.cmdTimeout

	// Some servers require client identification before login
	if ok, _ := c.Support("ID"); ok {
		idClient := id.NewClient(c)
		if _, err := idClient.ID(id.ID{
			id.FieldName:    "Executive Secretary",
			id.FieldVersion: "1.0.0",
		}); err != nil {
			p.logger.Debug("IMAP ID command failed", zap.Error(err))
		}
	}

	if err := c.Authenticate(NewXOAuth2Client(cred.Address, token.AccessToken)); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: XOAUTH2 authentication failed: %v", ErrProviderFailed, err)
	}

	return &imapMailbox{c: c}, nil
}

// XOAuth2Client implements the SASL XOAUTH2 mechanism
type XOAuth2Client struct {
	Username    string
	AccessToken string
}

// NewXOAuth2Client creates a new XOAUTH2 SASL client
func NewXOAuth2Client(username, accessToken string) *XOAuth2Client {
	return &XOAuth2Client{
		Username:    username,
		AccessToken: accessToken,
	}
}

// Start begins the XOAUTH2 authentication
func (c *XOAuth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.Username, c.AccessToken))
	return "XOAUTH2", ir, nil
}

// Next handles server challenges; XOAUTH2 has none
func (c *XOAuth2Client) Next(challenge []byte) (response []byte, err error) {
	return nil, nil
}

type imapMailbox struct {
	c        *client.Client
	selected bool
}

func (m *imapMailbox) selectInbox() (*imap.MailboxStatus, error) {
	status, err := m.c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("%w: select INBOX: %v", ErrProviderFailed, err)
	}
	m.selected = true
	return status, nil
}

func (m *imapMailbox) ListRecentMessageIDs(ctx context.Context, max int) ([]string, error) {
	status, err := m.selectInbox()
	if err != nil {
		return nil, err
	}
	if status.Messages == 0 || max <= 0 {
		return []string{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from := uint32(1)
	if status.Messages > uint32(max) {
		from = status.Messages - uint32(max) + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, status.Messages)

	messages := make(chan *imap.Message, max)
	done := make(chan error, 1)
	go func() {
		done <- m.c.Fetch(seqset, []imap.FetchItem{imap.FetchUid}, messages)
	}()

	uids := make(map[uint32]uint32, max)
	for msg := range messages {
		uids[msg.SeqNum] = msg.Uid
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: fetch uids: %v", ErrProviderFailed, err)
	}

	// newest first
	ids := make([]string, 0, len(uids))
	for seq := status.Messages; seq >= from; seq-- {
		if uid, ok := uids[seq]; ok {
			ids = append(ids, imapIDPrefix+strconv.FormatUint(uint64(uid), 10))
		}
		if seq == 1 {
			break
		}
	}
	return ids, nil
}

func (m *imapMailbox) GetFullMessage(ctx context.Context, messageID string) (*Message, error) {
	uid, err := parseIMAPID(messageID)
	if err != nil {
		return nil, err
	}
	if !m.selected {
		if _, err := m.selectInbox(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for msg := range messages {
		fetched = msg
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrProviderFailed, messageID, err)
	}
	if fetched == nil {
		return nil, fmt.Errorf("%w: message %s not found", ErrProviderFailed, messageID)
	}

	literal := fetched.GetBody(section)
	if literal == nil {
		return nil, fmt.Errorf("%w: message %s has no body", ErrProviderFailed, messageID)
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	msg, err := ParseRFC822(raw)
	if err != nil {
		return nil, err
	}
	msg.ID = messageID
	msg.InternalDate = fetched.InternalDate.UnixMilli()
	return msg, nil
}

func (m *imapMailbox) Close() error {
	return m.c.Logout()
}

func parseIMAPID(messageID string) (uint32, error) {
	if !strings.HasPrefix(messageID, imapIDPrefix) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidMessageID, messageID)
	}
	uid, err := strconv.ParseUint(strings.TrimPrefix(messageID, imapIDPrefix), 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidMessageID, messageID)
	}
	return uint32(uid), nil
}

// ParseRFC822 parses a raw message into headers and a Part tree.
// Leaf content is decoded from its transfer encoding and charset, then re-encoded as base64url.
func ParseRFC822(raw []byte) (*Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if entity == nil {
		return nil, fmt.Errorf("%w: parse message: %v", ErrProviderFailed, err)
	}

	msg := &Message{}
	fields := entity.Header.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		msg.Headers = append(msg.Headers, Header{Name: fields.Key(), Value: value})
	}
	if date, err := netmail.ParseDate(msg.Header("Date")); err == nil {
		msg.InternalDate = date.UnixMilli()
	}
	msg.Payload = entityToPart(entity)
	return msg, nil
}

// entityToPart recursively converts a message entity
func entityToPart(entity *message.Entity) *Part {
	mediaType, params, _ := entity.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}
	part := &Part{MimeType: mediaType, Filename: params["name"]}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if err != nil {
				break
			}
			part.Parts = append(part.Parts, entityToPart(child))
		}
		return part
	}

	if _, dispParams, err := entity.Header.ContentDisposition(); err == nil && dispParams["filename"] != "" {
		part.Filename = dispParams["filename"]
	}
	body, _ := io.ReadAll(entity.Body)
	if len(body) > 0 {
		part.Data = EncodeBase64URL(body)
	}
	return part
}
