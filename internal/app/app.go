package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"productsearch/internal/authclient"
	"productsearch/internal/catalogclient"
	"productsearch/internal/chatclient"
	"productsearch/internal/normalize"
	"productsearch/internal/transport"
	"productsearch/internal/util"
	"productsearch/pkg/clienterr"
	"productsearch/pkg/domain"
	"productsearch/pkg/journal"
	"productsearch/pkg/kv"
	"productsearch/pkg/storage"
)

// Config holds runtime configuration for the client core.
type Config struct {
	BackendURL        string
	HTTPTimeout       time.Duration
	HTTPClient        *http.Client
	PlaceholderBase   string
	UploadConcurrency int
	Storage           kv.Store
	Journal           journal.Store
	Objects           storage.ObjectSource
	Notifier          authclient.Notifier
}

// App wires the auth store, session negotiator, query client and uploader
// around one shared transport.
type App struct {
	api         *transport.Client
	auth        *authclient.Store
	interceptor *authclient.UnauthorizedInterceptor
	sessions    *chatclient.Negotiator
	queries     *chatclient.QueryClient
	catalog     *catalogclient.Client
	journal     journal.Store
	objects     storage.ObjectSource
	notifier    authclient.Notifier
	closers     []func() error
}

// New constructs the client core. The auth session is not restored; call
// Restore once at startup.
func New(cfg Config) (*App, error) {
	if strings.TrimSpace(cfg.BackendURL) == "" {
		return nil, fmt.Errorf("backend URL required")
	}
	opts := []transport.Option{transport.WithHTTPClient(cfg.HTTPClient)}
	if cfg.HTTPTimeout > 0 {
		opts = append(opts, transport.WithTimeout(cfg.HTTPTimeout))
	}
	api := transport.New(cfg.BackendURL, opts...)

	store := authclient.NewStore(api, cfg.Storage)
	api.SetTokenSource(store)

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = authclient.NotifierFunc(func(domain.Status) {})
	}
	interceptor := authclient.InstallUnauthorizedInterceptor(api, store, notifier)

	var normalizeOpts []normalize.Option
	if cfg.PlaceholderBase != "" {
		normalizeOpts = append(normalizeOpts, normalize.WithPlaceholderBase(cfg.PlaceholderBase))
	}
	sessions := chatclient.NewNegotiator(api)

	a := &App{
		api:         api,
		auth:        store,
		interceptor: interceptor,
		sessions:    sessions,
		queries:     chatclient.NewQueryClient(api, store, sessions, normalizeOpts...),
		catalog:     catalogclient.NewClient(api, store, cfg.UploadConcurrency),
		journal:     cfg.Journal,
		objects:     cfg.Objects,
		notifier:    notifier,
	}
	if c, ok := cfg.Storage.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	if cfg.Journal != nil {
		a.closers = append(a.closers, cfg.Journal.Close)
	}
	return a, nil
}

// Restore loads a previously persisted auth session.
func (a *App) Restore(ctx context.Context) bool {
	a.auth.Restore(ctx)
	return a.auth.IsAuthenticated()
}

// Login authenticates and persists the session.
func (a *App) Login(ctx context.Context, username, password string) (domain.AuthSession, error) {
	session, err := a.auth.Login(ctx, username, password)
	if err != nil {
		return domain.AuthSession{}, err
	}
	a.notifier.Notify(domain.StatusLoggedIn)
	return session, nil
}

// Signup registers an account without logging in.
func (a *App) Signup(ctx context.Context, req domain.SignupRequest) error {
	return a.auth.Signup(ctx, req)
}

// Logout clears the held and persisted session.
func (a *App) Logout(ctx context.Context) {
	a.auth.Logout(ctx)
	a.notifier.Notify(domain.StatusLoggedOut)
}

func (a *App) IsAuthenticated() bool {
	return a.auth.IsAuthenticated()
}

// Session returns the current auth session, if any.
func (a *App) Session() (domain.AuthSession, bool) {
	return a.auth.Session()
}

// Expirations counts sessions ended by a 401 since startup.
func (a *App) Expirations() int64 {
	return a.interceptor.Expirations()
}

// Search runs one text or image search and records it in the journal.
func (a *App) Search(ctx context.Context, req domain.SearchRequest) (domain.SearchResult, error) {
	ctx = util.WithRequestID(ctx, util.NewID())
	result, err := a.queries.Search(ctx, req)
	if err != nil {
		return domain.SearchResult{}, err
	}
	a.record(ctx, req, result)
	return result, nil
}

func (a *App) record(ctx context.Context, req domain.SearchRequest, result domain.SearchResult) {
	if a.journal == nil {
		return
	}
	session, _ := a.auth.Session()
	ids := make([]string, 0, len(result.Results))
	for _, p := range result.Results {
		if p.ID != "" {
			ids = append(ids, p.ID)
		}
	}
	entry := domain.JournalEntry{
		SessionID:   result.SessionID,
		Username:    session.User.Username,
		Mode:        result.Mode,
		Query:       req.Text,
		Category:    req.Category,
		Limit:       req.Limit,
		ResultCount: result.Count,
		ProductIDs:  ids,
	}
	if result.Mode == domain.ModeImage {
		entry.Query = ""
	}
	if _, err := a.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		util.LoggerFromContext(ctx).Warn("journal record failed", "err", err)
	}
}

// UploadProducts uploads one JSON product array.
func (a *App) UploadProducts(ctx context.Context, payload domain.ProductPayload) (domain.UploadResult, error) {
	ctx = util.WithRequestID(ctx, util.NewID())
	return a.catalog.UploadProducts(ctx, payload)
}

// UploadFiles reads each reference (a local path or s3://key) and uploads
// them concurrently.
func (a *App) UploadFiles(ctx context.Context, refs []string) ([]domain.UploadResult, error) {
	if !a.auth.IsAuthenticated() {
		return nil, clienterr.NotAuthenticated()
	}
	if len(refs) == 0 {
		return nil, &clienterr.Error{Kind: clienterr.KindUpload, Message: "no product files given"}
	}
	payloads := make([]domain.ProductPayload, 0, len(refs))
	for _, ref := range refs {
		payload, err := a.readPayload(ctx, ref)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, payload)
	}
	ctx = util.WithRequestID(ctx, util.NewID())
	return a.catalog.UploadAll(ctx, payloads)
}

func (a *App) readPayload(ctx context.Context, ref string) (domain.ProductPayload, error) {
	key, err := storage.ParseKey(ref)
	switch {
	case errors.Is(err, storage.ErrNotObjectURI):
		data, err := os.ReadFile(ref)
		if err != nil {
			return domain.ProductPayload{}, clienterr.Wrap(clienterr.KindUpload, fmt.Sprintf("read %s: %v", ref, err), err)
		}
		return domain.ProductPayload{Filename: ref, Data: data}, nil
	case err != nil:
		return domain.ProductPayload{}, clienterr.Wrap(clienterr.KindUpload, err.Error(), err)
	}
	if a.objects == nil {
		return domain.ProductPayload{}, &clienterr.Error{Kind: clienterr.KindUpload, Message: "object storage is not configured for " + ref}
	}
	data, err := a.objects.Get(ctx, key)
	if err != nil {
		return domain.ProductPayload{}, clienterr.Wrap(clienterr.KindUpload, fmt.Sprintf("fetch %s: %v", ref, err), err)
	}
	return domain.ProductPayload{Filename: key, Data: data}, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health reports the backend status string.
func (a *App) Health(ctx context.Context) (string, error) {
	var resp healthResponse
	if err := a.api.DoAnonymousJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return "", transport.Failure(clienterr.KindConnection, "health check failed", err)
	}
	if resp.Status == "" {
		resp.Status = "unknown"
	}
	return resp.Status, nil
}

// History lists recent searches of the logged-in user, or of everyone when
// logged out.
func (a *App) History(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if a.journal == nil {
		return nil, ErrJournalDisabled
	}
	session, _ := a.auth.Session()
	return a.journal.List(ctx, session.User.Username, limit)
}

// Close releases storage and journal connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		slog.Warn("close failed", "err", errors.Join(errs...))
	}
	return errors.Join(errs...)
}
