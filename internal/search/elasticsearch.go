package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"example.com/backstage/eventsearch/config"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ElasticBackend indexes documents in Elasticsearch, one index per entity type
type ElasticBackend struct {
	client *elasticsearch.Client
	config config.ElasticConfig
	logger zerolog.Logger
}

// NewElasticBackend creates a new Elasticsearch backend
func NewElasticBackend(cfg config.ElasticConfig, logger zerolog.Logger) (*ElasticBackend, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticBackend{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

func (e *ElasticBackend) indexName(entity string) string {
	return config.FormatIndex(e.config, entity)
}

// Apply executes index and delete requests with immediate refresh
func (e *ElasticBackend) Apply(ctx context.Context, work []Work) error {
	for _, w := range work {
		switch w.Op {
		case OpAdd, OpUpdate:
			if err := e.indexDocument(ctx, w); err != nil {
				return err
			}
		case OpDelete:
			if err := e.deleteDocument(ctx, w); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *ElasticBackend) indexDocument(ctx context.Context, w Work) error {
	docJSON, err := json.Marshal(w.Fields)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	req := esapi.IndexRequest{
		Index:      e.indexName(w.Entity),
		DocumentID: w.ID,
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("index", res)
	}

	e.logger.Debug().Str("entity", w.Entity).Str("id", w.ID).Msg("document indexed")
	return nil
}

func (e *ElasticBackend) deleteDocument(ctx context.Context, w Work) error {
	req := esapi.DeleteRequest{
		Index:      e.indexName(w.Entity),
		DocumentID: w.ID,
		Refresh:    "true",
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch delete request")
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError("delete", res)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs q with exact hit counting
func (e *ElasticBackend) Search(ctx context.Context, q Query, from, size int) (Result, error) {
	body := map[string]interface{}{
		"query":            toElasticQuery(q),
		"from":             from,
		"size":             size,
		"track_total_hits": true,
		"_source":          false,
		"sort":             []interface{}{"_doc"},
	}

	queryJSON, err := json.Marshal(body)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to marshal search query")
	}

	ignoreUnavailable := true
	req := esapi.SearchRequest{
		Index:             []string{e.indexName(q.Entity)},
		Body:              bytes.NewReader(queryJSON),
		IgnoreUnavailable: &ignoreUnavailable,
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return Result{}, responseError("search", res)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return Result{}, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		ids = append(ids, hit.ID)
	}
	return Result{Total: parsed.Hits.Total.Value, IDs: ids}, nil
}

// Purge deletes every document of the entity index
func (e *ElasticBackend) Purge(ctx context.Context, entity string) error {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal purge query")
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{e.indexName(entity)},
		Body:    bytes.NewReader(body),
		Refresh: &refresh,
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch delete-by-query request")
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError("delete-by-query", res)
	}
	return nil
}

// Close is a no-op; the HTTP transport holds no resources needing release
func (e *ElasticBackend) Close() error {
	return nil
}

func toElasticQuery(q Query) map[string]interface{} {
	switch q.Kind {
	case KindMatch:
		return map[string]interface{}{
			"match": map[string]interface{}{q.Field: q.Text},
		}
	default:
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}
}

func responseError(op string, res *esapi.Response) error {
	var e map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
		return errors.Wrapf(err, "failed to parse Elasticsearch %s error response", op)
	}
	return errors.Errorf("Elasticsearch %s error [%d]: %v", op, res.StatusCode, e)
}
