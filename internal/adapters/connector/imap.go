package connector

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
)

var errNotConnected = errors.New("not connected")

// IMAPConnector talks to a generic IMAP server. Message ids are UIDs within
// the selected folder.
type IMAPConnector struct {
	address  string
	creds    *core.Credentials
	timeout  time.Duration
	logger   *zap.Logger
	client   *client.Client
	selected string
}

// NewIMAPConnector creates a new IMAP connector
func NewIMAPConnector(address string, creds *core.Credentials, timeout time.Duration, logger *zap.Logger) *IMAPConnector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &IMAPConnector{
		address: address,
		creds:   creds,
		timeout: timeout,
		logger:  logger.With(zap.String("account", address)),
	}
}

// Connect dials the server, logs in and selects INBOX
func (c *IMAPConnector) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	addr := net.JoinHostPort(c.creds.Server, strconv.Itoa(c.creds.Port))
	dialer := &net.Dialer{Timeout: c.timeout}

	var (
		cl  *client.Client
		err error
	)
	if c.creds.UseTLS == nil || *c.creds.UseTLS {
		cl, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: c.creds.Server})
	} else {
		cl, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	cl.Timeout = c.timeout

	if err := cl.Login(c.creds.Username, c.creds.Password); err != nil {
		cl.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	c.client = cl
	if err := c.selectFolder("INBOX"); err != nil {
		c.Disconnect()
		return err
	}

	c.logger.Debug("Connected to IMAP server", zap.String("server", addr))
	return nil
}

// Disconnect logs out. It is safe to call on an unconnected connector.
func (c *IMAPConnector) Disconnect() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	c.selected = ""
	if errors.Is(err, client.ErrAlreadyLoggedOut) {
		return nil
	}
	return err
}

func (c *IMAPConnector) selectFolder(folder string) error {
	if c.selected == folder {
		return nil
	}
	if _, err := c.client.Select(folder, false); err != nil {
		return fmt.Errorf("failed to select %s: %w", folder, err)
	}
	c.selected = folder
	return nil
}

// Fetch returns up to limit of the newest non-deleted messages in folder
func (c *IMAPConnector) Fetch(ctx context.Context, folder string, limit int, since *time.Time) ([]*core.RawEmail, error) {
	if c.client == nil {
		return nil, errNotConnected
	}
	if err := c.selectFolder(folder); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.DeletedFlag}
	if since != nil {
		criteria.Since = *since
	}

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", folder, err)
	}
	if len(uids) == 0 {
		return []*core.RawEmail{}, nil
	}

	// Newest first
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var emails []*core.RawEmail
	for msg := range messages {
		email, err := c.parseMessage(msg, section)
		if err != nil {
			c.logger.Warn("Failed to parse message", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		emails = append(emails, email)
	}
	if err := <-done; err != nil {
		return emails, fmt.Errorf("failed to fetch from %s: %w", folder, err)
	}

	sort.SliceStable(emails, func(i, j int) bool { return emails[i].Date.After(emails[j].Date) })

	c.logger.Info("Fetched emails", zap.String("folder", folder), zap.Int("count", len(emails)))
	return emails, nil
}

func (c *IMAPConnector) parseMessage(msg *imap.Message, section *imap.BodySectionName) (*core.RawEmail, error) {
	email := &core.RawEmail{
		MessageID: strconv.FormatUint(uint64(msg.Uid), 10),
		Date:      msg.InternalDate,
	}

	if env := msg.Envelope; env != nil {
		email.Subject = env.Subject
		if !env.Date.IsZero() {
			email.Date = env.Date
		}
		if len(env.From) > 0 {
			email.Sender = formatAddress(env.From[0])
		}
		for _, to := range env.To {
			email.Recipients = append(email.Recipients, to.Address())
		}
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return email, nil
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseMessage(raw)
	if err != nil {
		return nil, err
	}
	email.Body = parsed.Body
	email.Attachments = parsed.Attachments
	if email.Subject == "" {
		email.Subject = parsed.Subject
	}
	if email.Sender == "" {
		email.Sender = parsed.Sender
	}

	return email, nil
}

func formatAddress(a *imap.Address) string {
	if a.PersonalName == "" {
		return a.Address()
	}
	return fmt.Sprintf("%s <%s>", a.PersonalName, a.Address())
}

// Move moves a message out of the selected folder
func (c *IMAPConnector) Move(ctx context.Context, messageID, folder string) (bool, error) {
	seqSet, err := c.uidSet(messageID)
	if err != nil {
		return false, err
	}

	if err := c.client.UidMove(seqSet, folder); err != nil {
		return false, fmt.Errorf("failed to move %s to %s: %w", messageID, folder, err)
	}

	c.logger.Info("Moved message", zap.String("uid", messageID), zap.String("folder", folder))
	return true, nil
}

// Delete flags a message as deleted; permanent deletion also expunges
func (c *IMAPConnector) Delete(ctx context.Context, messageID string, permanent bool) (bool, error) {
	seqSet, err := c.uidSet(messageID)
	if err != nil {
		return false, err
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.client.UidStore(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return false, fmt.Errorf("failed to mark %s as deleted: %w", messageID, err)
	}

	if permanent {
		if err := c.client.Expunge(nil); err != nil {
			return false, fmt.Errorf("failed to expunge: %w", err)
		}
	}

	c.logger.Info("Deleted message", zap.String("uid", messageID), zap.Bool("permanent", permanent))
	return true, nil
}

func (c *IMAPConnector) uidSet(messageID string) (*imap.SeqSet, error) {
	if c.client == nil {
		return nil, errNotConnected
	}
	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil || uid == 0 {
		return nil, fmt.Errorf("invalid IMAP message id %q", messageID)
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uint32(uid))
	return seqSet, nil
}

// ParsedMessage is the subset of a MIME message the pipeline cares about
type ParsedMessage struct {
	Subject     string
	Sender      string
	Recipients  []string
	Date        time.Time
	Body        string
	Attachments []core.Attachment
}

// ParseMessage parses a raw RFC 5322 message
func ParseMessage(raw []byte) (*ParsedMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	parsed := &ParsedMessage{
		Subject: env.GetHeader("Subject"),
		Sender:  env.GetHeader("From"),
		Body:    env.Text,
	}
	if parsed.Body == "" {
		parsed.Body = env.HTML
	}
	if to, err := env.AddressList("To"); err == nil {
		for _, a := range to {
			parsed.Recipients = append(parsed.Recipients, a.Address)
		}
	}
	if date, err := env.Date(); err == nil {
		parsed.Date = date
	}

	parts := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	for _, part := range parts {
		if part.FileName == "" {
			continue
		}
		parsed.Attachments = append(parsed.Attachments, core.Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			SizeBytes:   int64(len(part.Content)),
		})
	}

	return parsed, nil
}
