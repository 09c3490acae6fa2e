package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// DefaultGraphURL is the Microsoft Graph v1.0 endpoint
const DefaultGraphURL = "https://graph.microsoft.com/v1.0"

var defaultGraphScopes = []string{
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/Mail.ReadWrite",
	"offline_access",
}

// Well-known Graph folder names, keyed by the lower-cased name callers use
var graphWellKnownFolders = map[string]string{
	"inbox":        "inbox",
	"sent":         "sentitems",
	"sentitems":    "sentitems",
	"drafts":       "drafts",
	"trash":        "deleteditems",
	"deleteditems": "deleteditems",
	"junk":         "junkemail",
	"junkemail":    "junkemail",
	"archive":      "archive",
}

var errFolderNotFound = errors.New("folder not found")

// GraphConnector talks to Outlook and Microsoft 365 mailboxes through
// Microsoft Graph. Message ids are Graph message ids.
type GraphConnector struct {
	address string
	creds   *core.Credentials
	baseURL string
	logger  *zap.Logger
	http    *http.Client
}

// NewGraphConnector creates a new Graph connector. An empty baseURL uses
// the public endpoint.
func NewGraphConnector(address string, creds *core.Credentials, baseURL string, logger *zap.Logger) *GraphConnector {
	if baseURL == "" {
		baseURL = DefaultGraphURL
	}
	return &GraphConnector{
		address: address,
		creds:   creds,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With(zap.String("account", address)),
	}
}

// Connect prepares an authenticated HTTP client
func (c *GraphConnector) Connect(ctx context.Context) error {
	if c.http != nil {
		return nil
	}
	if c.creds.Token == "" && c.creds.RefreshToken == "" {
		return fmt.Errorf("no OAuth2 token for %s", c.address)
	}

	tenant := c.creds.TenantID
	if tenant == "" {
		tenant = "common"
	}
	scopes := c.creds.Scopes
	if len(scopes) == 0 {
		scopes = defaultGraphScopes
	}

	cfg := &oauth2.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
		Scopes:       scopes,
	}
	if c.creds.TokenURI != "" {
		cfg.Endpoint.TokenURL = c.creds.TokenURI
	}

	ts := cfg.TokenSource(context.WithoutCancel(ctx), &oauth2.Token{
		AccessToken:  c.creds.Token,
		RefreshToken: c.creds.RefreshToken,
		Expiry:       c.creds.Expiry,
	})
	c.http = oauth2.NewClient(context.WithoutCancel(ctx), ts)
	c.http.Timeout = 30 * time.Second
	return nil
}

// Disconnect drops the client
func (c *GraphConnector) Disconnect() error {
	c.http = nil
	return nil
}

type graphAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func (a graphAddress) String() string {
	if a.EmailAddress.Name == "" {
		return a.EmailAddress.Address
	}
	return fmt.Sprintf("%s <%s>", a.EmailAddress.Name, a.EmailAddress.Address)
}

type graphMessage struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	Subject          string         `json:"subject"`
	From             graphAddress   `json:"from"`
	ToRecipients     []graphAddress `json:"toRecipients"`
	ReceivedDateTime time.Time      `json:"receivedDateTime"`
	BodyPreview      string         `json:"bodyPreview"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	HasAttachments bool `json:"hasAttachments"`
}

type graphAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type graphFolder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Fetch lists messages in folder, newest first
func (c *GraphConnector) Fetch(ctx context.Context, folder string, limit int, since *time.Time) ([]*core.RawEmail, error) {
	if c.http == nil {
		return nil, errNotConnected
	}

	folderID, err := c.folderID(ctx, folder)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 999 {
		limit = 999
	}
	q := url.Values{}
	q.Set("$top", fmt.Sprint(limit))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$select", "id,conversationId,subject,from,toRecipients,receivedDateTime,bodyPreview,body,hasAttachments")
	if since != nil {
		q.Set("$filter", "receivedDateTime ge "+since.UTC().Format(time.RFC3339))
	}

	var page struct {
		Value []graphMessage `json:"value"`
	}
	path := "/me/mailFolders/" + url.PathEscape(folderID) + "/messages?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	emails := make([]*core.RawEmail, 0, len(page.Value))
	for _, msg := range page.Value {
		email := &core.RawEmail{
			MessageID: msg.ID,
			ThreadID:  msg.ConversationID,
			Subject:   msg.Subject,
			Sender:    msg.From.String(),
			Date:      msg.ReceivedDateTime,
			Body:      msg.Body.Content,
		}
		if email.Body == "" {
			email.Body = msg.BodyPreview
		}
		for _, to := range msg.ToRecipients {
			email.Recipients = append(email.Recipients, to.EmailAddress.Address)
		}

		if msg.HasAttachments {
			attachments, err := c.attachments(ctx, msg.ID)
			if err != nil {
				c.logger.Warn("Failed to list attachments", zap.String("message_id", msg.ID), zap.Error(err))
			}
			email.Attachments = attachments
		}
		emails = append(emails, email)
	}

	c.logger.Info("Fetched emails", zap.String("folder", folder), zap.Int("count", len(emails)))
	return emails, nil
}

func (c *GraphConnector) attachments(ctx context.Context, messageID string) ([]core.Attachment, error) {
	var page struct {
		Value []graphAttachment `json:"value"`
	}
	path := "/me/messages/" + url.PathEscape(messageID) + "/attachments?$select=name,contentType,size"
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}

	out := make([]core.Attachment, 0, len(page.Value))
	for _, a := range page.Value {
		out = append(out, core.Attachment{Filename: a.Name, ContentType: a.ContentType, SizeBytes: a.Size})
	}
	return out, nil
}

// Move moves a message to folder. A folder that does not exist is reported
// as a refused move.
func (c *GraphConnector) Move(ctx context.Context, messageID, folder string) (bool, error) {
	if c.http == nil {
		return false, errNotConnected
	}

	folderID, err := c.folderID(ctx, folder)
	if errors.Is(err, errFolderNotFound) {
		c.logger.Warn("Folder not found", zap.String("folder", folder))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	body := map[string]string{"destinationId": folderID}
	if err := c.do(ctx, http.MethodPost, "/me/messages/"+url.PathEscape(messageID)+"/move", body, nil); err != nil {
		return false, fmt.Errorf("failed to move %s to %s: %w", messageID, folder, err)
	}

	c.logger.Info("Moved message", zap.String("message_id", messageID), zap.String("folder", folder))
	return true, nil
}

// Delete moves a message to Deleted Items, or removes it when permanent
func (c *GraphConnector) Delete(ctx context.Context, messageID string, permanent bool) (bool, error) {
	if c.http == nil {
		return false, errNotConnected
	}

	path := "/me/messages/" + url.PathEscape(messageID)
	var err error
	if permanent {
		err = c.do(ctx, http.MethodDelete, path, nil, nil)
	} else {
		err = c.do(ctx, http.MethodPost, path+"/move", map[string]string{"destinationId": "deleteditems"}, nil)
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", messageID, err)
	}

	c.logger.Info("Deleted message", zap.String("message_id", messageID), zap.Bool("permanent", permanent))
	return true, nil
}

// folderID resolves a well-known name or a slash separated display name
// path such as "Finance/Invoices"
func (c *GraphConnector) folderID(ctx context.Context, folder string) (string, error) {
	if id, ok := graphWellKnownFolders[strings.ToLower(folder)]; ok {
		return id, nil
	}

	parent := ""
	for _, name := range strings.Split(folder, "/") {
		if name == "" {
			continue
		}

		path := "/me/mailFolders"
		if parent != "" {
			path += "/" + url.PathEscape(parent) + "/childFolders"
		}
		filter := fmt.Sprintf("displayName eq '%s'", strings.ReplaceAll(name, "'", "''"))
		path += "?$filter=" + url.QueryEscape(filter)

		var page struct {
			Value []graphFolder `json:"value"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return "", fmt.Errorf("failed to look up folder %s: %w", folder, err)
		}
		if len(page.Value) == 0 {
			return "", fmt.Errorf("%w: %s", errFolderNotFound, folder)
		}
		parent = page.Value[0].ID
	}

	if parent == "" {
		return "", fmt.Errorf("%w: %s", errFolderNotFound, folder)
	}
	return parent, nil
}

func (c *GraphConnector) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("graph API %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
