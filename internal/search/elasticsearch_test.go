package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/backstage/contacts/config"
	"example.com/backstage/contacts/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeElastic(t *testing.T, handler http.HandlerFunc) *ElasticClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := NewElasticClient(config.ElasticConfig{URL: srv.URL, Prefix: "portfolio", Index: "contacts", Enabled: true})
	require.NoError(t, err)
	return client
}

func TestIndexContact(t *testing.T) {
	var gotPath string
	var gotDoc ContactDocument
	client := fakeElastic(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotDoc)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	company := "Acme"
	contact := &models.Contact{
		ID:        "c-1",
		Name:      "Ada",
		Email:     "ada@example.com",
		Company:   &company,
		Message:   "Urgent job opportunity",
		Status:    models.StatusAnalyzed,
		Priority:  models.PriorityUrgent,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, client.IndexContact(context.Background(), contact, "Analysis complete: URGENT request."))

	assert.True(t, strings.HasPrefix(gotPath, "/portfolio-contacts/_doc/c-1"), gotPath)
	assert.Equal(t, "Acme", gotDoc.Company)
	assert.Equal(t, "URGENT", gotDoc.Priority)
	assert.Equal(t, "Analysis complete: URGENT request.", gotDoc.Analysis)
}

func TestIndexContactReportsError(t *testing.T) {
	client := fakeElastic(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"mapper_parsing_exception"}}`))
	})

	err := client.IndexContact(context.Background(), &models.Contact{ID: "c-1"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestSearchContacts(t *testing.T) {
	var query map[string]interface{}
	client := fakeElastic(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &query)
		_, _ = w.Write([]byte(`{"hits":{"hits":[{"_source":{"id":"c-1","name":"Ada","priority":"HIGH"}},{"_source":{"id":"c-2","name":"Grace","priority":"LOW"}}]}}`))
	})

	docs, err := client.SearchContacts(context.Background(), "kafka", 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "c-1", docs[0].ID)
	assert.Equal(t, "Grace", docs[1].Name)

	assert.Equal(t, float64(5), query["size"])
	mm := query["query"].(map[string]interface{})["multi_match"].(map[string]interface{})
	assert.Equal(t, "kafka", mm["query"])
}

func TestDisabledIndex(t *testing.T) {
	idx, err := NewIndex(config.ElasticConfig{Enabled: false})
	require.NoError(t, err)

	assert.NoError(t, idx.IndexContact(context.Background(), &models.Contact{ID: "c"}, ""))
	_, err = idx.SearchContacts(context.Background(), "q", 10)
	assert.ErrorIs(t, err, ErrDisabled)
}
