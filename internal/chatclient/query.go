// Package chatclient speaks the backend's session-oriented query protocol:
// open a session, then post the query through it.
package chatclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"productsearch/internal/normalize"
	"productsearch/internal/transport"
	"productsearch/internal/util"
	"productsearch/pkg/clienterr"
	"productsearch/pkg/domain"
)

// Authenticator reports whether a bearer token is held.
type Authenticator interface {
	IsAuthenticated() bool
}

// SessionOpener opens a fresh query session.
type SessionOpener interface {
	OpenSession(ctx context.Context) (domain.QuerySession, error)
}

// QueryClient executes text and image searches.
type QueryClient struct {
	api       *transport.Client
	auth      Authenticator
	sessions  SessionOpener
	normalize []normalize.Option
}

// NewQueryClient wires the query client. Concurrent Search calls are not
// serialized; each negotiates its own session.
func NewQueryClient(api *transport.Client, auth Authenticator, sessions SessionOpener, opts ...normalize.Option) *QueryClient {
	return &QueryClient{api: api, auth: auth, sessions: sessions, normalize: opts}
}

type queryRequest struct {
	Query     string `json:"query"`
	Image     string `json:"image,omitempty"`
	Category  string `json:"category,omitempty"`
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

type queryResponse struct {
	Products        json.RawMessage `json:"products"`
	SimilarProducts json.RawMessage `json:"similar_products"`
}

// Search runs one search: auth check, fresh session, query, normalization.
func (q *QueryClient) Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResult, error) {
	if q.auth == nil || !q.auth.IsAuthenticated() {
		return domain.SearchResult{}, clienterr.NotAuthenticated()
	}
	mode := req.Mode()
	if err := validate(req); err != nil {
		return domain.SearchResult{}, err
	}
	logger := util.LoggerFromContext(ctx)

	session, err := q.sessions.OpenSession(ctx)
	if err != nil {
		logger.Warn("open session failed", "mode", mode, "err", err)
		return domain.SearchResult{}, clienterr.Wrap(clienterr.KindSearch, "", err)
	}

	payload := queryRequest{
		Query:     strings.TrimSpace(req.Text),
		Category:  strings.TrimSpace(req.Category),
		SessionID: session.SessionID,
		Limit:     req.Limit,
	}
	if mode == domain.ModeImage {
		payload.Query = ""
		payload.Image = imageDataURI(req.ImageData)
	}

	var resp queryResponse
	if err := q.api.DoJSON(ctx, http.MethodPost, "/chat/query", payload, &resp); err != nil {
		return domain.SearchResult{}, transport.Failure(clienterr.KindSearch, failureMessage(mode), err)
	}

	raw := extractProducts(resp)
	results := normalize.Products(raw, mode == domain.ModeText, q.normalize...)
	logger.Info("search completed",
		"mode", mode,
		"session_id", session.SessionID,
		"raw_count", len(raw),
		"count", len(results),
	)
	return domain.SearchResult{
		Results:   results,
		Count:     len(results),
		SessionID: session.SessionID,
		Mode:      mode,
	}, nil
}

func validate(req domain.SearchRequest) error {
	if req.Limit <= 0 {
		return &clienterr.Error{Kind: clienterr.KindSearch, Message: "limit must be a positive integer"}
	}
	if req.Mode() == domain.ModeText && strings.TrimSpace(req.Text) == "" {
		return &clienterr.Error{Kind: clienterr.KindSearch, Message: "enter a search query or choose an image"}
	}
	return nil
}

func failureMessage(mode domain.SearchMode) string {
	if mode == domain.ModeImage {
		return "image search failed"
	}
	return "search failed"
}

// extractProducts returns the first non-empty of products and
// similar_products. Unparseable lists count as empty.
func extractProducts(resp queryResponse) []domain.RawProduct {
	for _, candidate := range []json.RawMessage{resp.Products, resp.SimilarProducts} {
		if list := decodeProducts(candidate); len(list) > 0 {
			return list
		}
	}
	return nil
}

func decodeProducts(data json.RawMessage) []domain.RawProduct {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil
	}
	out := make([]domain.RawProduct, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, domain.RawProduct(m))
		}
	}
	return out
}

func imageDataURI(data []byte) string {
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
