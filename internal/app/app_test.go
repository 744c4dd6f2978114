package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"productsearch/pkg/clienterr"
	"productsearch/pkg/domain"
	"productsearch/pkg/journal"
	"productsearch/pkg/kv"
)

type fakeBackend struct {
	mu         sync.Mutex
	uploadCode int
	lastQuery  map[string]any
	uploads    []string
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds domain.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Invalid credentials"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"tok-1","user_id":"u-1"}`)
	})
	mux.HandleFunc("/chat/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"session_id":"sess-1"}`)
	})
	mux.HandleFunc("/chat/query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode query: %v", err)
		}
		b.mu.Lock()
		b.lastQuery = body
		b.mu.Unlock()
		_, _ = io.WriteString(w, `{"products":[
			{"id":"42","name":"Phone X","price":"199.5","similarity_score":0.9},
			{"id":"42","name":"Phone X duplicate","price":10},
			{"id":"7","name":"Phone Y"}
		]}`)
	})
	mux.HandleFunc("/products/upload", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		code := b.uploadCode
		b.mu.Unlock()
		if code != 0 {
			w.WriteHeader(code)
			_, _ = io.WriteString(w, `{"detail":"token expired"}`)
			return
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.uploads = append(b.uploads, header.Filename)
		b.mu.Unlock()
		_, _ = io.WriteString(w, `{"inserted_count":1}`)
	})
	return mux
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []domain.Status
}

func (n *recordingNotifier) Notify(s domain.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, s)
}

func (n *recordingNotifier) last() domain.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.statuses) == 0 {
		return ""
	}
	return n.statuses[len(n.statuses)-1]
}

type fakeObjects map[string][]byte

func (f fakeObjects) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func newTestApp(t *testing.T, b *fakeBackend, storage kv.Store, notifier *recordingNotifier) *App {
	t.Helper()
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)
	j, err := journal.Open(journal.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	a, err := New(Config{
		BackendURL: srv.URL,
		Storage:    storage,
		Journal:    j,
		Objects:    fakeObjects{"catalog/phones.json": []byte(`[{"name":"Phone Z"}]`)},
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestLoginSearchDedupesAndJournals(t *testing.T) {
	b := &fakeBackend{}
	notifier := &recordingNotifier{}
	a := newTestApp(t, b, kv.NewMemoryStore(), notifier)
	ctx := context.Background()

	if _, err := a.Login(ctx, "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if notifier.last() != domain.StatusLoggedIn {
		t.Fatalf("expected logged-in status, got %q", notifier.last())
	}

	result, err := a.Search(ctx, domain.SearchRequest{Text: "phone", Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Count != 2 || len(result.Results) != 2 {
		t.Fatalf("expected duplicates collapsed to 2 results, got %+v", result)
	}
	if result.Results[0].ID != "42" || result.Results[0].Name != "Phone X" {
		t.Fatalf("expected first occurrence kept: %+v", result.Results[0])
	}
	if result.Results[0].Price != domain.NewPrice(199.5) || result.Results[1].Price != domain.PriceUnavailable {
		t.Fatalf("unexpected prices: %v %v", result.Results[0].Price, result.Results[1].Price)
	}
	if b.lastQuery["query"] != "phone" || b.lastQuery["limit"] != float64(5) || b.lastQuery["session_id"] != "sess-1" {
		t.Fatalf("unexpected query payload: %v", b.lastQuery)
	}

	history, err := a.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one journal entry, got %d", len(history))
	}
	entry := history[0]
	if entry.Username != "alice" || entry.Query != "phone" || entry.ResultCount != 2 || entry.SessionID != "sess-1" {
		t.Fatalf("unexpected journal entry: %+v", entry)
	}
	if len(entry.ProductIDs) != 2 || entry.ProductIDs[0] != "42" || entry.ProductIDs[1] != "7" {
		t.Fatalf("unexpected product ids: %v", entry.ProductIDs)
	}
}

func TestSearchWithoutLoginFailsFast(t *testing.T) {
	a := newTestApp(t, &fakeBackend{}, kv.NewMemoryStore(), &recordingNotifier{})
	_, err := a.Search(context.Background(), domain.SearchRequest{Text: "phone", Limit: 5})
	if !errors.Is(err, clienterr.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	history, err := a.History(context.Background(), 10)
	if err != nil || len(history) != 0 {
		t.Fatalf("failed searches must not be journaled: %v %v", history, err)
	}
}

func TestUploadUnauthorizedLogsOut(t *testing.T) {
	b := &fakeBackend{uploadCode: http.StatusUnauthorized}
	notifier := &recordingNotifier{}
	storage := kv.NewMemoryStore()
	a := newTestApp(t, b, storage, notifier)
	ctx := context.Background()

	if _, err := a.Login(ctx, "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err := a.UploadProducts(ctx, domain.ProductPayload{Filename: "p.json", Data: []byte(`[{"name":"A"}]`)})
	if !errors.Is(err, clienterr.ErrUpload) || err.Error() != "token expired" {
		t.Fatalf("expected upload error with detail, got %v", err)
	}
	if a.IsAuthenticated() {
		t.Fatalf("expected logout after 401")
	}
	if storage.Len() != 0 {
		t.Fatalf("expected persisted session cleared")
	}
	if notifier.last() != domain.StatusSessionExpired {
		t.Fatalf("expected session expired status, got %q", notifier.last())
	}
	if a.Expirations() != 1 {
		t.Fatalf("expected one expiration, got %d", a.Expirations())
	}
}

func TestRestoreAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	storage, err := kv.NewFileStore(path)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	b := &fakeBackend{}
	first := newTestApp(t, b, storage, &recordingNotifier{})
	if _, err := first.Login(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	second := newTestApp(t, b, storage, &recordingNotifier{})
	if !second.Restore(context.Background()) {
		t.Fatalf("expected restored session")
	}
	session, ok := second.Session()
	if !ok || session.Token != "tok-1" || session.User.Username != "alice" || session.User.UserID != "u-1" {
		t.Fatalf("unexpected restored session: %+v", session)
	}

	second.Logout(context.Background())
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected session file removed on logout, stat err = %v", err)
	}
}

func TestUploadFilesFromDiskAndObjectStorage(t *testing.T) {
	b := &fakeBackend{}
	a := newTestApp(t, b, kv.NewMemoryStore(), &recordingNotifier{})
	ctx := context.Background()
	if _, err := a.Login(ctx, "alice", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	local := filepath.Join(t.TempDir(), "local.json")
	if err := os.WriteFile(local, []byte(`[{"name":"A"}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	results, err := a.UploadFiles(ctx, []string{local, "s3://catalog/phones.json"})
	if err != nil {
		t.Fatalf("upload files: %v", err)
	}
	if len(results) != 2 || results[0].Filename != "local.json" || results[1].Filename != "phones.json" {
		t.Fatalf("unexpected results: %+v", results)
	}

	_, err = a.UploadFiles(ctx, []string{"s3://catalog/missing.json"})
	if !errors.Is(err, clienterr.ErrUpload) {
		t.Fatalf("expected upload error for missing object, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, &fakeBackend{}, kv.NewMemoryStore(), &recordingNotifier{})
	status, err := a.Health(context.Background())
	if err != nil || status != "ok" {
		t.Fatalf("health = %q, %v", status, err)
	}
}
