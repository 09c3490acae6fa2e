package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mikey/email-agent/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type graphRecorder struct {
	moves   map[string]string
	deleted []string
}

func newGraphServer(t *testing.T, rec *graphRecorder) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/me/mailFolders/inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("$top"))
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{
					"id":               "AAMk1",
					"conversationId":   "conv-1",
					"subject":          "Invoice 42",
					"from":             map[string]any{"emailAddress": map[string]string{"name": "Billing", "address": "billing@vendor.example"}},
					"toRecipients":     []map[string]any{{"emailAddress": map[string]string{"address": "me@outlook.com"}}},
					"receivedDateTime": "2024-03-01T09:30:00Z",
					"body":             map[string]string{"contentType": "text", "content": "Please pay"},
					"hasAttachments":   true,
				},
			},
		})
	})
	mux.HandleFunc("/me/messages/AAMk1/attachments", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{{"name": "invoice_42.pdf", "contentType": "application/pdf", "size": 2048}},
		})
	})
	mux.HandleFunc("/me/mailFolders", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("$filter") {
		case "displayName eq 'Finance'":
			json.NewEncoder(w).Encode(map[string]any{"value": []map[string]string{{"id": "fin-id", "displayName": "Finance"}}})
		default:
			json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
		}
	})
	mux.HandleFunc("/me/mailFolders/fin-id/childFolders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "displayName eq 'Invoices'", r.URL.Query().Get("$filter"))
		json.NewEncoder(w).Encode(map[string]any{"value": []map[string]string{{"id": "inv-id", "displayName": "Invoices"}}})
	})
	mux.HandleFunc("/me/messages/AAMk1/move", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		rec.moves["AAMk1"] = body["destinationId"]
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"AAMk1-moved"}`))
	})
	mux.HandleFunc("/me/messages/AAMk1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		rec.deleted = append(rec.deleted, "AAMk1")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/me/messages/missing/move", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"ErrorItemNotFound"}}`, http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func connectedGraph(t *testing.T, srv *httptest.Server) *GraphConnector {
	t.Helper()
	c := NewGraphConnector("me@outlook.com", &core.Credentials{Token: "test-token"}, srv.URL, zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect() })
	return c
}

func TestGraphConnector_Fetch(t *testing.T) {
	srv := newGraphServer(t, &graphRecorder{moves: map[string]string{}})
	c := connectedGraph(t, srv)

	emails, err := c.Fetch(context.Background(), "INBOX", 2, nil)
	require.NoError(t, err)
	require.Len(t, emails, 1)

	e := emails[0]
	assert.Equal(t, "AAMk1", e.MessageID)
	assert.Equal(t, "conv-1", e.ThreadID)
	assert.Equal(t, "Invoice 42", e.Subject)
	assert.Equal(t, "Billing <billing@vendor.example>", e.Sender)
	assert.Equal(t, []string{"me@outlook.com"}, e.Recipients)
	assert.Equal(t, "Please pay", e.Body)
	assert.True(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC).Equal(e.Date))
	assert.Equal(t, []core.Attachment{{Filename: "invoice_42.pdf", ContentType: "application/pdf", SizeBytes: 2048}}, e.Attachments)
}

func TestGraphConnector_MoveAndDelete(t *testing.T) {
	rec := &graphRecorder{moves: map[string]string{}}
	srv := newGraphServer(t, rec)
	c := connectedGraph(t, srv)
	ctx := context.Background()

	moved, err := c.Move(ctx, "AAMk1", "Finance/Invoices")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "inv-id", rec.moves["AAMk1"])

	moved, err = c.Move(ctx, "AAMk1", "Archive")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "archive", rec.moves["AAMk1"])

	deleted, err := c.Delete(ctx, "AAMk1", false)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, "deleteditems", rec.moves["AAMk1"])

	deleted, err = c.Delete(ctx, "AAMk1", true)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{"AAMk1"}, rec.deleted)
}

func TestGraphConnector_MoveFailures(t *testing.T) {
	srv := newGraphServer(t, &graphRecorder{moves: map[string]string{}})
	c := connectedGraph(t, srv)
	ctx := context.Background()

	moved, err := c.Move(ctx, "AAMk1", "Nowhere")
	assert.NoError(t, err)
	assert.False(t, moved)

	moved, err = c.Move(ctx, "missing", "Archive")
	assert.Error(t, err)
	assert.False(t, moved)
}

func TestGraphConnector_RequiresConnect(t *testing.T) {
	c := NewGraphConnector("me@outlook.com", &core.Credentials{}, "", zap.NewNop())
	assert.Error(t, c.Connect(context.Background()))

	_, err := c.Move(context.Background(), "x", "Archive")
	assert.Error(t, err)
}
