package authclient

import (
	"context"
	"net/http"
	"sync/atomic"

	"productsearch/internal/transport"
	"productsearch/internal/util"
	"productsearch/pkg/domain"
)

// Notifier receives user-facing status lines.
type Notifier interface {
	Notify(status domain.Status)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(status domain.Status)

func (f NotifierFunc) Notify(status domain.Status) { f(status) }

// UnauthorizedInterceptor logs the user out when any call comes back 401.
// Each held token expires at most once, so concurrent 401s produce a single
// notification.
type UnauthorizedInterceptor struct {
	store    *Store
	notifier Notifier
	expired  atomic.Int64
}

// InstallUnauthorizedInterceptor registers the hook on api.
func InstallUnauthorizedInterceptor(api *transport.Client, store *Store, notifier Notifier) *UnauthorizedInterceptor {
	i := &UnauthorizedInterceptor{store: store, notifier: notifier}
	api.Observe(i)
	return i
}

// ObserveResponse implements transport.ResponseObserver.
func (i *UnauthorizedInterceptor) ObserveResponse(req *http.Request, resp *http.Response) {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return
	}
	token := transport.BearerToken(req)
	// anonymous calls (login, signup) answer 401 for bad credentials
	if token == "" {
		return
	}
	ctx := context.WithoutCancel(req.Context())
	if !i.store.ExpireToken(ctx, token) {
		return
	}
	i.expired.Add(1)
	util.LoggerFromContext(ctx).Warn("session expired", "path", req.URL.Path)
	if i.notifier != nil {
		i.notifier.Notify(domain.StatusSessionExpired)
	}
}

// Expirations returns how many logouts the hook has triggered.
func (i *UnauthorizedInterceptor) Expirations() int64 {
	return i.expired.Load()
}
