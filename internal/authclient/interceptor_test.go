package authclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"productsearch/internal/transport"
	"productsearch/pkg/domain"
	"productsearch/pkg/kv"
)

func newAuthenticatedStore(t *testing.T, api *transport.Client, token string) *Store {
	t.Helper()
	storage := kv.NewMemoryStore()
	_ = storage.SetMany(context.Background(), map[string]string{TokenKey: token, UserKey: `{"username":"alice"}`})
	store := NewStore(api, storage)
	store.Restore(context.Background())
	api.SetTokenSource(store)
	if !store.IsAuthenticated() {
		t.Fatalf("expected authenticated store")
	}
	return store
}

func TestUnauthorizedDuringUploadLogsOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Could not validate credentials"}`)
	}))
	defer srv.Close()

	api := transport.New(srv.URL)
	store := newAuthenticatedStore(t, api, "tok-1")
	var statuses []domain.Status
	hook := InstallUnauthorizedInterceptor(api, store, NotifierFunc(func(s domain.Status) {
		statuses = append(statuses, s)
	}))

	_ = api.DoMultipart(context.Background(), "/products/upload", "file", "p.json", strings.NewReader("[]"), nil)

	if store.IsAuthenticated() {
		t.Fatalf("expected logout after 401")
	}
	if len(statuses) != 1 || statuses[0] != domain.StatusSessionExpired {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
	if hook.Expirations() != 1 {
		t.Fatalf("expected one expiration, got %d", hook.Expirations())
	}
}

func TestUnauthorizedDuringSearchMatchesUploadBehaviour(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	api := transport.New(srv.URL)
	store := newAuthenticatedStore(t, api, "tok-1")
	hook := InstallUnauthorizedInterceptor(api, store, nil)

	_ = api.DoJSON(context.Background(), http.MethodPost, "/chat/query", map[string]any{"query": "phone"}, nil)

	if store.IsAuthenticated() || hook.Expirations() != 1 {
		t.Fatalf("expected logout, authenticated=%v expirations=%d", store.IsAuthenticated(), hook.Expirations())
	}
}

func TestConcurrentUnauthorizedNotifiesOnce(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	api := transport.New(srv.URL)
	store := newAuthenticatedStore(t, api, "tok-1")
	var notified int32
	InstallUnauthorizedInterceptor(api, store, NotifierFunc(func(domain.Status) {
		atomic.AddInt32(&notified, 1)
	}))

	const calls = 8
	var wg sync.WaitGroup
	wg.Add(calls)
	for i := 0; i < calls; i++ {
		go func() {
			defer wg.Done()
			_ = api.DoJSON(context.Background(), http.MethodPost, "/chat/sessions", nil, nil)
		}()
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&notified); got != 1 {
		t.Fatalf("expected exactly one notification, got %d", got)
	}
	if store.IsAuthenticated() {
		t.Fatalf("expected logged out")
	}
}

func TestUnauthorizedLoginDoesNotExpireSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Incorrect username or password"}`)
	}))
	defer srv.Close()

	api := transport.New(srv.URL)
	store := newAuthenticatedStore(t, api, "tok-1")
	hook := InstallUnauthorizedInterceptor(api, store, nil)

	if _, err := store.Login(context.Background(), "mallory", "wrong"); err == nil {
		t.Fatalf("expected login failure")
	}
	if hook.Expirations() != 0 {
		t.Fatalf("anonymous 401 must not count as expiry")
	}
}

func TestUnauthorizedForStaleTokenKeepsNewSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	api := transport.New(srv.URL)
	store := newAuthenticatedStore(t, api, "tok-new")
	hook := InstallUnauthorizedInterceptor(api, store, nil)

	req := httptest.NewRequest(http.MethodPost, srv.URL+"/chat/query", nil)
	req.Header.Set("Authorization", "Bearer tok-old")
	hook.ObserveResponse(req, &http.Response{StatusCode: http.StatusUnauthorized})

	if !store.IsAuthenticated() {
		t.Fatalf("a 401 for an older token must not end the current session")
	}
}
