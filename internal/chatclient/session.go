package chatclient

import (
	"context"
	"net/http"
	"strings"

	"productsearch/internal/transport"
	"productsearch/pkg/clienterr"
	"productsearch/pkg/domain"
)

// Negotiator opens query sessions. Sessions are never cached: every call is
// a fresh round trip.
type Negotiator struct {
	api *transport.Client
}

// NewNegotiator constructs a session negotiator. The bearer token is attached
// by api.
func NewNegotiator(api *transport.Client) *Negotiator {
	return &Negotiator{api: api}
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// OpenSession asks the backend for a new query session.
func (n *Negotiator) OpenSession(ctx context.Context) (domain.QuerySession, error) {
	var resp sessionResponse
	if err := n.api.DoJSON(ctx, http.MethodPost, "/chat/sessions", nil, &resp); err != nil {
		return domain.QuerySession{}, transport.Failure(clienterr.KindSession, "failed to create session", err)
	}
	id := strings.TrimSpace(resp.SessionID)
	if id == "" {
		return domain.QuerySession{}, &clienterr.Error{Kind: clienterr.KindSession, Message: "failed to create session: no session id in response"}
	}
	return domain.QuerySession{SessionID: id}, nil
}
