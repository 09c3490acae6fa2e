package connector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mikey/email-agent/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type gmailRecorder struct {
	mu       sync.Mutex
	modifies map[string]map[string][]string
	created  []string
	trashed  []string
	query    string
}

func newGmailServer(t *testing.T, rec *gmailRecorder) *httptest.Server {
	t.Helper()

	const prefix = "/gmail/v1/users/me/"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		path := strings.TrimPrefix(r.URL.Path, prefix)

		rec.mu.Lock()
		defer rec.mu.Unlock()

		switch {
		case path == "labels" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"labels": []map[string]string{
					{"id": "INBOX", "name": "INBOX", "type": "system"},
					{"id": "Label_7", "name": "Finance/Invoices", "type": "user"},
				},
			})
		case path == "labels" && r.Method == http.MethodPost:
			var label map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&label))
			rec.created = append(rec.created, label["name"].(string))
			json.NewEncoder(w).Encode(map[string]string{"id": "Label_new", "name": label["name"].(string)})
		case path == "messages" && r.Method == http.MethodGet:
			rec.query = r.URL.Query().Get("q")
			json.NewEncoder(w).Encode(map[string]any{"messages": []map[string]string{{"id": "g1", "threadId": "t1"}}})
		case path == "messages/g1" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"id":           "g1",
				"threadId":     "t1",
				"internalDate": "1714557600000",
				"payload": map[string]any{
					"mimeType": "multipart/mixed",
					"headers": []map[string]string{
						{"name": "Subject", "value": "Your Invoice #12345"},
						{"name": "From", "value": "Billing <billing@company.com>"},
						{"name": "To", "value": "me@gmail.com, other@example.com"},
					},
					"parts": []map[string]any{
						{"mimeType": "text/plain", "body": map[string]any{"data": base64.URLEncoding.EncodeToString([]byte("Invoice attached")), "size": 16}},
						{"mimeType": "application/pdf", "filename": "invoice_january.pdf", "body": map[string]any{"attachmentId": "a1", "size": 1024}},
					},
				},
			})
		case strings.HasSuffix(path, "/modify"):
			var req map[string][]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			rec.modifies[strings.TrimSuffix(strings.TrimPrefix(path, "messages/"), "/modify")] = req
			json.NewEncoder(w).Encode(map[string]string{"id": "g1"})
		case strings.HasSuffix(path, "/trash"):
			rec.trashed = append(rec.trashed, strings.TrimSuffix(strings.TrimPrefix(path, "messages/"), "/trash"))
			json.NewEncoder(w).Encode(map[string]string{"id": "g1"})
		default:
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func connectedGmail(t *testing.T, srv *httptest.Server) *GmailConnector {
	t.Helper()
	c := NewGmailConnector("me@gmail.com", &core.Credentials{Token: "test-token"}, srv.URL+"/", zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestGmailConnector_Fetch(t *testing.T) {
	rec := &gmailRecorder{modifies: map[string]map[string][]string{}}
	c := connectedGmail(t, newGmailServer(t, rec))

	emails, err := c.Fetch(context.Background(), "INBOX", 10, nil)
	require.NoError(t, err)
	require.Len(t, emails, 1)

	e := emails[0]
	assert.Equal(t, "label:inbox", rec.query)
	assert.Equal(t, "g1", e.MessageID)
	assert.Equal(t, "t1", e.ThreadID)
	assert.Equal(t, "Your Invoice #12345", e.Subject)
	assert.Equal(t, "Billing <billing@company.com>", e.Sender)
	assert.Equal(t, []string{"me@gmail.com", "other@example.com"}, e.Recipients)
	assert.Equal(t, "Invoice attached", e.Body)
	assert.Equal(t, int64(1714557600), e.Date.Unix())
	assert.Equal(t, []core.Attachment{{Filename: "invoice_january.pdf", ContentType: "application/pdf", SizeBytes: 1024}}, e.Attachments)
}

func TestGmailConnector_MoveUsesLabels(t *testing.T) {
	rec := &gmailRecorder{modifies: map[string]map[string][]string{}}
	c := connectedGmail(t, newGmailServer(t, rec))

	moved, err := c.Move(context.Background(), "g1", "Finance/Invoices")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"Label_7"}, rec.modifies["g1"]["addLabelIds"])
	assert.Equal(t, []string{"INBOX"}, rec.modifies["g1"]["removeLabelIds"])
	assert.Empty(t, rec.created)
}

func TestGmailConnector_ApplyLabelCreatesMissing(t *testing.T) {
	rec := &gmailRecorder{modifies: map[string]map[string][]string{}}
	c := connectedGmail(t, newGmailServer(t, rec))

	applied, err := c.ApplyLabel(context.Background(), "g1", "Important-Clients")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, []string{"Important-Clients"}, rec.created)
	assert.Equal(t, []string{"Label_new"}, rec.modifies["g1"]["addLabelIds"])
	assert.Empty(t, rec.modifies["g1"]["removeLabelIds"])
}

func TestGmailConnector_SoftDeleteTrashes(t *testing.T) {
	rec := &gmailRecorder{modifies: map[string]map[string][]string{}}
	c := connectedGmail(t, newGmailServer(t, rec))

	deleted, err := c.Delete(context.Background(), "g1", false)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{"g1"}, rec.trashed)
}
