package catalogclient

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
	"productsearch/internal/transport"
	"productsearch/internal/util"
	"productsearch/pkg/clienterr"
	"productsearch/pkg/domain"
)

// Authenticator reports whether a bearer token is held.
type Authenticator interface {
	IsAuthenticated() bool
}

// Client uploads product catalogs to the backend.
type Client struct {
	api         *transport.Client
	auth        Authenticator
	concurrency int
}

// NewClient constructs a catalog upload client. concurrency bounds UploadAll.
func NewClient(api *transport.Client, auth Authenticator, concurrency int) *Client {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Client{api: api, auth: auth, concurrency: concurrency}
}

type uploadResponse struct {
	InsertedCount int `json:"inserted_count"`
}

// UploadProducts sends one JSON array of products as a multipart file.
func (c *Client) UploadProducts(ctx context.Context, payload domain.ProductPayload) (domain.UploadResult, error) {
	if c.auth == nil || !c.auth.IsAuthenticated() {
		return domain.UploadResult{}, clienterr.NotAuthenticated()
	}
	filename := safeFilename(payload.Filename)
	if err := validatePayload(payload.Data); err != nil {
		return domain.UploadResult{}, err
	}
	var resp uploadResponse
	if err := c.api.DoMultipart(ctx, "/products/upload", "file", filename, bytes.NewReader(payload.Data), &resp); err != nil {
		return domain.UploadResult{}, transport.Failure(clienterr.KindUpload, "upload failed", err)
	}
	util.LoggerFromContext(ctx).Info("products uploaded", "filename", filename, "inserted", resp.InsertedCount)
	return domain.UploadResult{Filename: filename, InsertedCount: resp.InsertedCount}, nil
}

// UploadAll uploads payloads concurrently. Results keep input order; the
// first failure cancels uploads that have not started yet.
func (c *Client) UploadAll(ctx context.Context, payloads []domain.ProductPayload) ([]domain.UploadResult, error) {
	results := make([]domain.UploadResult, len(payloads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, payload := range payloads {
		i, payload := i, payload
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := c.UploadProducts(gctx, payload)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func validatePayload(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &clienterr.Error{Kind: clienterr.KindUpload, Message: "upload file is empty"}
	}
	var items []json.RawMessage
	if trimmed[0] != '[' || json.Unmarshal(trimmed, &items) != nil {
		return &clienterr.Error{Kind: clienterr.KindUpload, Message: "upload file must contain a JSON array of products"}
	}
	if len(items) == 0 {
		return &clienterr.Error{Kind: clienterr.KindUpload, Message: "upload file contains no products"}
	}
	return nil
}

func safeFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "products.json"
	}
	return name
}
