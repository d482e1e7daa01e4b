package search

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"example.com/backstage/contacts/config"
	"example.com/backstage/contacts/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrDisabled is returned by searches when no index is configured
var ErrDisabled = errors.New("search is disabled")

// ContactDocument is the indexed form of an analysed contact
type ContactDocument struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Company     string     `json:"company,omitempty"`
	Message     string     `json:"message"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Analysis    string     `json:"analysis,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Index stores and searches contact documents
type Index interface {
	IndexContact(ctx context.Context, contact *models.Contact, analysis string) error
	SearchContacts(ctx context.Context, query string, size int) ([]ContactDocument, error)
}

// NewIndex returns an Elasticsearch index, or a disabled one when search is
// switched off.
func NewIndex(cfg config.ElasticConfig) (Index, error) {
	if !cfg.Enabled {
		return Disabled{}, nil
	}
	return NewElasticClient(cfg)
}

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		index:  config.FormatIndex(cfg, cfg.Index),
	}, nil
}

// IndexContact upserts the contact document keyed by contact ID
func (c *ElasticClient) IndexContact(ctx context.Context, contact *models.Contact, analysis string) error {
	doc := ContactDocument{
		ID:          contact.ID,
		Name:        contact.Name,
		Email:       contact.Email,
		Company:     contact.CompanyName(),
		Message:     contact.Message,
		Status:      string(contact.Status),
		Priority:    string(contact.Priority),
		Analysis:    analysis,
		CreatedAt:   contact.CreatedAt,
		ProcessedAt: contact.ProcessedAt,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal contact document")
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: contact.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError(res, "index")
	}

	log.Debug().Str("contact_id", contact.ID).Msg("Contact indexed")
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source ContactDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchContacts runs a full-text query over the indexed fields
func (c *ElasticClient) SearchContacts(ctx context.Context, query string, size int) ([]ContactDocument, error) {
	if size <= 0 {
		size = 20
	}

	body, err := json.Marshal(map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"name^2", "email", "company", "message", "analysis"},
				"fuzziness": "AUTO",
			},
		},
		"sort": []interface{}{"_score", map[string]string{"created_at": "desc"}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{c.index},
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError(res, "search")
	}

	var result searchResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	docs := make([]ContactDocument, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}

func responseError(res *esapi.Response, op string) error {
	var e map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		return errors.Wrapf(err, "failed to parse Elasticsearch %s error response", op)
	}
	return errors.Errorf("Elasticsearch %s error [%s]: %v", op, res.Status(), e)
}

// Disabled is the Index used when Elasticsearch is switched off
type Disabled struct{}

func (Disabled) IndexContact(ctx context.Context, contact *models.Contact, analysis string) error {
	return nil
}

func (Disabled) SearchContacts(ctx context.Context, query string, size int) ([]ContactDocument, error) {
	return nil, ErrDisabled
}
