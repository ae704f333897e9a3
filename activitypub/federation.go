package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/util"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Federation is the process wide federation context shared by the inbox,
// the resolver and the send helpers.
type Federation struct {
	cfg     *util.AppConfig
	db      *db.DB
	client  *http.Client
	logger  *zap.Logger
	fetches singleflight.Group
}

// Data is the per activity context. It carries the fetch budget that every
// dereference made on behalf of the activity is charged against.
type Data struct {
	*Federation
	budget *FetchBudget

	mu        sync.Mutex
	resolving map[string]bool
}

func NewFederation(cfg *util.AppConfig, database *db.DB, logger *zap.Logger) *Federation {
	return &Federation{
		cfg:    cfg,
		db:     database,
		client: &http.Client{Timeout: cfg.Conf.Federation.FetchTimeout},
		logger: logger.With(zap.String("component", "activitypub")),
	}
}

// NewData starts a fresh context with a full fetch budget.
func (f *Federation) NewData() *Data {
	return &Data{
		Federation: f,
		budget:     NewFetchBudget(f.cfg.Conf.Federation.FetchLimit),
		resolving:  map[string]bool{},
	}
}

// enter marks id as being fetched on behalf of this activity. An object
// that refers back to itself while it is resolved is a cycle and fails.
func (d *Data) enter(id string) (leave func(), err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolving[id] {
		return nil, fmt.Errorf("%w: reference cycle at %s", ErrResolution, id)
	}
	d.resolving[id] = true
	return func() {
		d.mu.Lock()
		delete(d.resolving, id)
		d.mu.Unlock()
	}, nil
}

func (d *Data) Budget() *FetchBudget {
	return d.budget
}

func (f *Federation) Config() *util.AppConfig {
	return f.cfg
}

func (f *Federation) DB() *db.DB {
	return f.db
}

func (f *Federation) Logger() *zap.Logger {
	return f.logger
}

// Domain is the authority (host[:port]) of this instance.
func (f *Federation) Domain() string {
	return strings.ToLower(f.cfg.Conf.Domain)
}

func (f *Federation) BaseURL() string {
	return f.cfg.BaseURL()
}

// IsLocalURL reports whether raw points at this instance.
func (f *Federation) IsLocalURL(raw string) bool {
	return util.Authority(raw) == f.Domain()
}

// CheckURL applies the URL policy to a remote URL: the scheme must be https
// (or http in debug mode), federation must be enabled and the host must pass
// the block and allow lists.
func (f *Federation) CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: invalid url %q", ErrMalformed, raw)
	}
	conf := f.cfg.Conf.Federation
	switch u.Scheme {
	case "https":
	case "http":
		if !conf.Debug {
			return fmt.Errorf("%w: plain http is not allowed: %s", ErrBlocked, raw)
		}
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrMalformed, u.Scheme)
	}
	if strings.ToLower(u.Host) == f.Domain() {
		return nil
	}
	if !conf.Enabled {
		return fmt.Errorf("%w: federation is disabled", ErrBlocked)
	}
	if hostListed(conf.Blocklist, u) {
		return fmt.Errorf("%w: %s is blocked", ErrBlocked, u.Host)
	}
	if len(conf.Allowlist) > 0 && !hostListed(conf.Allowlist, u) {
		return fmt.Errorf("%w: %s is not allowed", ErrBlocked, u.Host)
	}
	return nil
}

// fetchDocument shares identical GETs in flight. The request runs detached
// from the caller that started it, so cancelling one caller does not fail
// the others.
func (f *Federation) fetchDocument(ctx context.Context, rawURL string) ([]byte, error) {
	ch := f.fetches.DoChan(rawURL, func() (any, error) {
		return f.get(context.WithoutCancel(ctx), rawURL)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// hostListed matches entries against the authority or the bare hostname.
func hostListed(list []string, u *url.URL) bool {
	host := strings.ToLower(u.Host)
	name := strings.ToLower(u.Hostname())
	for _, entry := range list {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == host || entry == name {
			return true
		}
	}
	return false
}

// sameAuthority reports whether both URLs live on one instance.
func sameAuthority(a, b string) bool {
	ha := util.Authority(a)
	return ha != "" && ha == util.Authority(b)
}
