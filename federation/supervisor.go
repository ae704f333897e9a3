package federation

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/domain"
	"go.uber.org/zap"
)

type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (h *workerHandle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Supervisor keeps one Worker running for every eligible remote instance
// and aggregates their progress.
type Supervisor struct {
	fed     *activitypub.Federation
	db      *db.DB
	client  *http.Client
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	workers map[string]*workerHandle
	stats   map[string]Stats
	wg      sync.WaitGroup
}

func NewSupervisor(fed *activitypub.Federation, metrics *Metrics) *Supervisor {
	return &Supervisor{
		fed:     fed,
		db:      fed.DB(),
		client:  &http.Client{Timeout: fed.Config().Conf.Federation.DeliveryTimeout},
		logger:  fed.Logger().With(zap.String("component", "supervisor")),
		metrics: metrics,
		workers: map[string]*workerHandle{},
		stats:   map[string]Stats{},
	}
}

// Run refreshes the worker set periodically until ctx is cancelled, then
// waits for all workers to stop.
func (s *Supervisor) Run(ctx context.Context) error {
	conf := s.fed.Config().Conf.Federation
	refresh := time.NewTicker(conf.WorkerRefreshInterval)
	defer refresh.Stop()
	report := time.NewTicker(conf.StatsInterval)
	defer report.Stop()

	s.logger.Info("federation supervisor started")
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error("refresh failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			s.logger.Info("federation supervisor stopped")
			return nil
		case <-refresh.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("refresh failed", zap.Error(err))
			}
		case <-report.C:
			s.logStats(ctx)
		}
	}
}

// Refresh starts workers for new instances, stops workers of instances
// that are no longer eligible and restarts workers that failed.
func (s *Supervisor) Refresh(ctx context.Context) error {
	instances, err := s.db.ReadInstances(ctx)
	if err != nil {
		return fmt.Errorf("read instances: %w", err)
	}
	wanted := map[string]domain.Instance{}
	for _, inst := range instances {
		if s.eligible(inst.Domain) {
			wanted[inst.Domain] = inst
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, h := range s.workers {
		_, keep := wanted[name]
		switch {
		case !keep:
			s.logger.Info("stopping worker", zap.String("instance", name))
			h.cancel()
			delete(s.workers, name)
			delete(s.stats, name)
			if s.metrics != nil {
				s.metrics.forget(name)
			}
		case h.exited():
			s.logger.Warn("restarting worker", zap.String("instance", name), zap.Error(h.err))
			delete(s.workers, name)
		}
	}
	for name, inst := range wanted {
		if _, running := s.workers[name]; !running {
			s.start(ctx, inst)
		}
	}
	if s.metrics != nil {
		s.metrics.Workers.Set(float64(len(s.workers)))
	}
	return nil
}

func (s *Supervisor) eligible(instance string) bool {
	if instance == "" || instance == s.fed.Domain() {
		return false
	}
	return s.fed.CheckURL(fmt.Sprintf("%s://%s/", s.fed.Config().Scheme(), instance)) == nil
}

// start must be called with s.mu held.
func (s *Supervisor) start(ctx context.Context, inst domain.Instance) {
	wctx, cancel := context.WithCancel(ctx)
	h := &workerHandle{cancel: cancel, done: make(chan struct{})}
	s.workers[inst.Domain] = h

	w := NewWorker(inst, s.fed, s.client, s.metrics, s.record)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		h.err = w.Run(wctx)
		if h.err != nil {
			s.logger.Error("worker failed", zap.String("instance", inst.Domain), zap.Error(h.err))
		}
	}()
	s.logger.Debug("worker started", zap.String("instance", inst.Domain))
}

func (s *Supervisor) record(st Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.workers[st.Instance]; !running {
		return
	}
	s.stats[st.Instance] = st
	if s.metrics != nil {
		s.metrics.FailCount.WithLabelValues(st.Instance).Set(float64(st.FailCount))
		s.metrics.Cursor.WithLabelValues(st.Instance).Set(float64(st.LastSuccessfulId))
	}
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	for _, h := range s.workers {
		h.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	s.workers = map[string]*workerHandle{}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.Workers.Set(0)
	}
}

// Running lists the instances that currently have a worker.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the latest stats of every running worker with the lag
// against the newest sent activity.
func (s *Supervisor) Snapshot(ctx context.Context) ([]Stats, error) {
	newest, err := s.db.MaxSentActivityId(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]Stats, 0, len(s.stats))
	for _, st := range s.stats {
		st.Lag = max(newest-st.LastSuccessfulId, 0)
		out = append(out, st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

func (s *Supervisor) logStats(ctx context.Context) {
	stats, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.Error("cannot compute federation stats", zap.Error(err))
		return
	}
	var lagging, failing int
	var totalLag int64
	for _, st := range stats {
		if s.metrics != nil {
			s.metrics.observe(st)
		}
		totalLag += st.Lag
		if st.Lag > 0 {
			lagging++
		}
		if st.FailCount > 0 {
			failing++
		}
	}
	s.logger.Info("federation status",
		zap.Int("instances", len(stats)),
		zap.Int("lagging", lagging),
		zap.Int("failing", failing),
		zap.Int64("totalLag", totalLag))
}

// ReadStatus reads the persisted delivery state of every instance. It
// works without a running supervisor.
func ReadStatus(ctx context.Context, database *db.DB) ([]Stats, error) {
	newest, err := database.MaxSentActivityId(ctx)
	if err != nil {
		return nil, err
	}
	instances, err := database.ReadInstances(ctx)
	if err != nil {
		return nil, err
	}
	names := map[int64]string{}
	for _, inst := range instances {
		names[inst.Id] = inst.Domain
	}
	states, err := database.ReadAllQueueStates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Stats, 0, len(states))
	for i := range states {
		st := statsOf(names[states[i].InstanceId], &states[i])
		st.Lag = max(newest-st.LastSuccessfulId, 0)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}
