package connector

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	gmailUser          = "me"
	gmailInbox         = "INBOX"
	defaultGoogleToken = "https://oauth2.googleapis.com/token"
)

var defaultGmailScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailModifyScope,
}

// GmailConnector uses the Gmail API. Folders map to labels; message ids
// are Gmail message ids.
type GmailConnector struct {
	address  string
	creds    *core.Credentials
	endpoint string
	logger   *zap.Logger
	service  *gmail.Service
	labels   map[string]string
}

// NewGmailConnector creates a new Gmail connector. An empty endpoint uses
// the public API.
func NewGmailConnector(address string, creds *core.Credentials, endpoint string, logger *zap.Logger) *GmailConnector {
	return &GmailConnector{
		address:  address,
		creds:    creds,
		endpoint: endpoint,
		logger:   logger.With(zap.String("account", address)),
	}
}

func (c *GmailConnector) tokenSource(ctx context.Context) oauth2.TokenSource {
	tokenURL := c.creds.TokenURI
	if tokenURL == "" {
		tokenURL = defaultGoogleToken
	}
	scopes := c.creds.Scopes
	if len(scopes) == 0 {
		scopes = defaultGmailScopes
	}

	cfg := &oauth2.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		Scopes:       scopes,
	}
	return cfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  c.creds.Token,
		RefreshToken: c.creds.RefreshToken,
		Expiry:       c.creds.Expiry,
	})
}

// Connect builds the API client; the token is refreshed lazily
func (c *GmailConnector) Connect(ctx context.Context) error {
	if c.service != nil {
		return nil
	}
	if c.creds.Token == "" && c.creds.RefreshToken == "" {
		return fmt.Errorf("no OAuth2 token for %s", c.address)
	}

	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(context.WithoutCancel(ctx), c.tokenSource(ctx))),
	}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Gmail service: %w", err)
	}
	c.service = service
	return nil
}

// Disconnect drops the client
func (c *GmailConnector) Disconnect() error {
	c.service = nil
	c.labels = nil
	return nil
}

// Fetch lists messages carrying the folder label, newest first
func (c *GmailConnector) Fetch(ctx context.Context, folder string, limit int, since *time.Time) ([]*core.RawEmail, error) {
	if c.service == nil {
		return nil, errNotConnected
	}

	query := "label:" + strings.ToLower(folder)
	if since != nil {
		query += fmt.Sprintf(" after:%d", since.Unix())
	}

	call := c.service.Users.Messages.List(gmailUser).Q(query).Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	list, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	emails := make([]*core.RawEmail, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := c.service.Users.Messages.Get(gmailUser, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			c.logger.Warn("Failed to fetch message", zap.String("message_id", ref.Id), zap.Error(err))
			continue
		}
		emails = append(emails, parseGmailMessage(msg))
	}

	c.logger.Info("Fetched emails", zap.String("folder", folder), zap.Int("count", len(emails)))
	return emails, nil
}

func parseGmailMessage(msg *gmail.Message) *core.RawEmail {
	email := &core.RawEmail{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
		Date:      time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		email.Body = msg.Snippet
		return email
	}

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			email.Subject = h.Value
		case "from":
			email.Sender = h.Value
		case "to":
			for _, addr := range strings.Split(h.Value, ",") {
				if addr = strings.TrimSpace(addr); addr != "" {
					email.Recipients = append(email.Recipients, addr)
				}
			}
		}
	}

	var plain, html string
	walkParts(msg.Payload, func(part *gmail.MessagePart) {
		if part.Filename != "" {
			var size int64
			if part.Body != nil {
				size = part.Body.Size
			}
			email.Attachments = append(email.Attachments, core.Attachment{
				Filename:    part.Filename,
				ContentType: part.MimeType,
				SizeBytes:   size,
			})
			return
		}
		if part.Body == nil || part.Body.Data == "" {
			return
		}
		switch {
		case plain == "" && strings.HasPrefix(part.MimeType, "text/plain"):
			plain = decodeGmailBody(part.Body.Data)
		case html == "" && strings.HasPrefix(part.MimeType, "text/html"):
			html = decodeGmailBody(part.Body.Data)
		}
	})

	switch {
	case plain != "":
		email.Body = plain
	case html != "":
		email.Body = html
	default:
		email.Body = msg.Snippet
	}
	return email
}

func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	fn(part)
	for _, child := range part.Parts {
		walkParts(child, fn)
	}
}

func decodeGmailBody(data string) string {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

// Move files a message under the folder label and takes it out of INBOX
func (c *GmailConnector) Move(ctx context.Context, messageID, folder string) (bool, error) {
	if c.service == nil {
		return false, errNotConnected
	}

	labelID, err := c.labelID(ctx, folder)
	if err != nil {
		return false, err
	}

	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}}
	if labelID != gmailInbox {
		req.RemoveLabelIds = []string{gmailInbox}
	}
	if _, err := c.service.Users.Messages.Modify(gmailUser, messageID, req).Context(ctx).Do(); err != nil {
		return false, fmt.Errorf("failed to move %s to %s: %w", messageID, folder, err)
	}

	c.logger.Info("Moved message", zap.String("message_id", messageID), zap.String("folder", folder))
	return true, nil
}

// Delete trashes a message, or removes it for good when permanent
func (c *GmailConnector) Delete(ctx context.Context, messageID string, permanent bool) (bool, error) {
	if c.service == nil {
		return false, errNotConnected
	}

	var err error
	if permanent {
		err = c.service.Users.Messages.Delete(gmailUser, messageID).Context(ctx).Do()
	} else {
		_, err = c.service.Users.Messages.Trash(gmailUser, messageID).Context(ctx).Do()
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", messageID, err)
	}

	c.logger.Info("Deleted message", zap.String("message_id", messageID), zap.Bool("permanent", permanent))
	return true, nil
}

// ApplyLabel adds a label to a message, creating the label if needed
func (c *GmailConnector) ApplyLabel(ctx context.Context, messageID, label string) (bool, error) {
	if c.service == nil {
		return false, errNotConnected
	}

	labelID, err := c.labelID(ctx, label)
	if err != nil {
		return false, err
	}

	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}}
	if _, err := c.service.Users.Messages.Modify(gmailUser, messageID, req).Context(ctx).Do(); err != nil {
		return false, fmt.Errorf("failed to label %s: %w", messageID, err)
	}

	c.logger.Info("Applied label", zap.String("message_id", messageID), zap.String("label", label))
	return true, nil
}

// labelID resolves a label name or id, creating a user label when none
// matches
func (c *GmailConnector) labelID(ctx context.Context, name string) (string, error) {
	if c.labels == nil {
		resp, err := c.service.Users.Labels.List(gmailUser).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to list labels: %w", err)
		}
		c.labels = make(map[string]string, len(resp.Labels)*2)
		for _, l := range resp.Labels {
			c.labels[strings.ToLower(l.Name)] = l.Id
			c.labels[strings.ToLower(l.Id)] = l.Id
		}
	}

	if id, ok := c.labels[strings.ToLower(name)]; ok {
		return id, nil
	}

	created, err := c.service.Users.Labels.Create(gmailUser, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create label %s: %w", name, err)
	}

	c.logger.Info("Created label", zap.String("label", name), zap.String("label_id", created.Id))
	c.labels[strings.ToLower(name)] = created.Id
	return created.Id, nil
}
