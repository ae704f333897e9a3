package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/util"
	"go.uber.org/zap"
)

// Kind describes how objects of type T are read from the database, parsed
// from a fetched document and deleted. Implementations are stateless.
type Kind[T any] interface {
	Name() string
	// ReadFromID returns db.ErrNotFound when the object is not stored and
	// ErrObjectDeleted when it is stored as deleted.
	ReadFromID(ctx context.Context, d *Data, id string) (T, error)
	// RefreshedAt reports when the stored copy was fetched and whether it
	// may go stale at all.
	RefreshedAt(obj T) (time.Time, bool)
	// FromJSON verifies a fetched document and stores it.
	FromJSON(ctx context.Context, d *Data, typ string, raw []byte) (T, error)
	Delete(ctx context.Context, d *Data, id string) error
}

// ObjectId is a typed reference to a local or remote object.
type ObjectId[T any, K Kind[T]] struct {
	url string
}

func NewObjectId[T any, K Kind[T]](raw string) (ObjectId[T, K], error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ObjectId[T, K]{}, fmt.Errorf("%w: invalid object id %q", ErrMalformed, raw)
	}
	return ObjectId[T, K]{url: raw}, nil
}

func (o ObjectId[T, K]) String() string {
	return o.url
}

func (o ObjectId[T, K]) IsZero() bool {
	return o.url == ""
}

func (o ObjectId[T, K]) Authority() string {
	return util.Authority(o.url)
}

func (o ObjectId[T, K]) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.url)
}

// UnmarshalJSON accepts the id as a string or as an embedded object.
func (o *ObjectId[T, K]) UnmarshalJSON(b []byte) error {
	var iri IRI
	if err := json.Unmarshal(b, &iri); err != nil {
		return err
	}
	parsed, err := NewObjectId[T, K](string(iri))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// DereferenceLocal reads the object from the database without any network
// access.
func (o ObjectId[T, K]) DereferenceLocal(ctx context.Context, d *Data) (T, error) {
	var k K
	obj, err := k.ReadFromID(ctx, d, o.url)
	if errors.Is(err, db.ErrNotFound) {
		return obj, fmt.Errorf("%w: %s %s", ErrNotFound, k.Name(), o.url)
	}
	return obj, err
}

// Dereference returns the object, fetching it when it is not stored yet or,
// for kinds that go stale, when the stored copy is older than the refresh
// interval. Objects on this instance are never fetched. Every fetch is
// charged against the budget of d.
func (o ObjectId[T, K]) Dereference(ctx context.Context, d *Data) (T, error) {
	var k K
	var zero T
	if d.IsLocalURL(o.url) {
		return o.DereferenceLocal(ctx, d)
	}

	cached, err := k.ReadFromID(ctx, d, o.url)
	switch {
	case err == nil:
		refreshed, canGoStale := k.RefreshedAt(cached)
		if !canGoStale || time.Since(refreshed) < d.cfg.Conf.Federation.ActorRefreshInterval {
			return cached, nil
		}
		fresh, err := o.fetch(ctx, d)
		if err == nil {
			return fresh, nil
		}
		if errors.Is(err, ErrFetchLimit) || errors.Is(err, ErrObjectDeleted) {
			return zero, err
		}
		d.logger.Warn("refetch failed, using stale copy",
			zap.String("kind", k.Name()), zap.String("id", o.url), zap.Error(err))
		return cached, nil
	case errors.Is(err, db.ErrNotFound):
		return o.fetch(ctx, d)
	default:
		return zero, err
	}
}

func (o ObjectId[T, K]) fetch(ctx context.Context, d *Data) (T, error) {
	var k K
	var zero T
	leave, err := d.enter(o.url)
	if err != nil {
		d.logger.Warn("reference cycle", zap.String("kind", k.Name()), zap.String("id", o.url))
		return zero, err
	}
	defer leave()
	if err := d.budget.Spend(); err != nil {
		d.logger.Warn("fetch budget exhausted", zap.String("kind", k.Name()), zap.String("id", o.url))
		return zero, err
	}
	if err := d.CheckURL(o.url); err != nil {
		return zero, err
	}

	d.logger.Debug("fetching object", zap.String("kind", k.Name()), zap.String("id", o.url))
	body, err := d.fetchDocument(ctx, o.url)
	if errors.Is(err, ErrObjectDeleted) {
		return zero, o.deleted(ctx, d)
	}
	if err != nil {
		return zero, err
	}

	head, err := peekObject(body)
	if err != nil {
		return zero, err
	}
	if head.Type == "Tombstone" {
		return zero, o.deleted(ctx, d)
	}
	if !sameAuthority(head.ID, o.url) {
		return zero, fmt.Errorf("%w: fetched %s but got id %q", ErrUnauthorized, o.url, head.ID)
	}
	// nested references are resolved with the budget of d only
	return k.FromJSON(ctx, d, head.Type, body)
}

func (o ObjectId[T, K]) deleted(ctx context.Context, d *Data) error {
	var k K
	if err := k.Delete(ctx, d, o.url); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %s", ErrObjectDeleted, k.Name(), o.url)
}

// FetchCollection fetches an OrderedCollection, charging the budget.
func (d *Data) FetchCollection(ctx context.Context, rawURL string) (*Collection, error) {
	if err := d.budget.Spend(); err != nil {
		return nil, err
	}
	if err := d.CheckURL(rawURL); err != nil {
		return nil, err
	}
	body, err := d.fetchDocument(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	var c Collection
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("%w: collection %s: %v", ErrMalformed, rawURL, err)
	}
	if !sameAuthority(c.ID, rawURL) {
		return nil, fmt.Errorf("%w: fetched %s but got id %q", ErrUnauthorized, rawURL, c.ID)
	}
	return &c, nil
}

// get performs a single ActivityPub GET. 410 maps to ErrObjectDeleted.
func (f *Federation) get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Conf.Federation.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", util.UserAgent(f.Domain()))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrResolution, rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return nil, ErrObjectDeleted
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrResolution, rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrResolution, rawURL, err)
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrMalformed, rawURL, MaxBodySize)
	}
	return body, nil
}
