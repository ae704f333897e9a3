package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/deemkeen/lemmings/cache"
	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/federation"
	"github.com/deemkeen/lemmings/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Server holds what the HTTP handlers share.
type Server struct {
	fed      *activitypub.Federation
	db       *db.DB
	conf     *util.AppConfig
	cache    *cache.Cache
	metrics  *federation.Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewServer wires the handlers. gatherer may be nil when metrics are off.
func NewServer(fed *activitypub.Federation, c *cache.Cache, metrics *federation.Metrics, gatherer prometheus.Gatherer) *Server {
	return &Server{
		fed:      fed,
		db:       fed.DB(),
		conf:     fed.Config(),
		cache:    c,
		metrics:  metrics,
		gatherer: gatherer,
		logger:   fed.Logger().With(zap.String("component", "web")),
	}
}

// ListenAndServe serves until ctx is cancelled and then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort),
		Handler:           NewRouter(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", srv.Addr), zap.String("domain", s.fed.Domain()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
