package federation

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/lemmings/activitypub"
	"github.com/deemkeen/lemmings/db"
	"github.com/deemkeen/lemmings/domain"
	"github.com/deemkeen/lemmings/util"
	"go.uber.org/zap"
)

// Stats is the delivery progress of one instance.
type Stats struct {
	Instance                string
	InstanceId              int64
	LastSuccessfulId        int64
	FailCount               int
	LastRetry               *time.Time
	LastSuccessfulPublished *time.Time
	// Lag is the number of sent activities after the cursor. Filled in by
	// the supervisor.
	Lag int64
}

func statsOf(instance string, q *domain.FederationQueueState) Stats {
	return Stats{
		Instance:                instance,
		InstanceId:              q.InstanceId,
		LastSuccessfulId:        q.LastSuccessfulId,
		FailCount:               q.FailCount,
		LastRetry:               q.LastRetry,
		LastSuccessfulPublished: q.LastSuccessfulPublished,
	}
}

type signingKey struct {
	key   *rsa.PrivateKey
	keyId string
}

// Worker delivers the outbox sequence to one remote instance, strictly in
// order. It only advances past an activity once every inbox on the
// instance accepted it or rejected it permanently.
type Worker struct {
	instance domain.Instance
	fed      *activitypub.Federation
	db       *db.DB
	conf     util.FederationConf
	client   *http.Client
	logger   *zap.Logger
	metrics  *Metrics
	report   func(Stats)

	keys map[string]*signingKey
}

func NewWorker(instance domain.Instance, fed *activitypub.Federation, client *http.Client, metrics *Metrics, report func(Stats)) *Worker {
	if report == nil {
		report = func(Stats) {}
	}
	return &Worker{
		instance: instance,
		fed:      fed,
		db:       fed.DB(),
		conf:     fed.Config().Conf.Federation,
		client:   client,
		logger:   fed.Logger().With(zap.String("component", "worker"), zap.String("instance", instance.Domain)),
		metrics:  metrics,
		report:   report,
		keys:     map[string]*signingKey{},
	}
}

// Run delivers until ctx is cancelled, which is not an error. Database
// failures end the worker with an error.
func (w *Worker) Run(ctx context.Context) error {
	state, err := w.db.ReadQueueState(ctx, w.instance.Id)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("read queue state of %s: %w", w.instance.Domain, err)
	}
	w.report(statsOf(w.instance.Domain, state))
	w.logger.Debug("worker started", zap.Int64("cursor", state.LastSuccessfulId))

	for {
		batch, err := w.db.ReadSentActivitiesAfter(ctx, state.LastSuccessfulId, w.conf.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read sent activities: %w", err)
		}
		if len(batch) == 0 {
			if sleep(ctx, w.conf.PollInterval) != nil {
				return nil
			}
			continue
		}
		for i := range batch {
			if err := w.process(ctx, state, &batch[i]); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// process delivers a to every relevant inbox of the instance, retrying the
// inboxes that failed transiently until all are done.
func (w *Worker) process(ctx context.Context, state *domain.FederationQueueState, a *domain.SentActivity) error {
	inboxes, err := w.inboxes(ctx, a)
	if err != nil {
		return err
	}
	if len(inboxes) == 0 {
		return w.advance(ctx, state, a)
	}
	key, err := w.signingKey(ctx, a.ActorApId)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) || errors.Is(err, errNoKey) {
			w.logger.Error("cannot sign activity, skipping", zap.String("activity", a.ApId), zap.Error(err))
			return w.advance(ctx, state, a)
		}
		return err
	}

	for {
		var failed []string
		for _, inbox := range inboxes {
			res := w.deliver(ctx, inbox, a, key)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch {
			case res.Succeeded():
				w.count("success")
			case !res.Retryable():
				w.count("rejected")
				w.logger.Warn("activity rejected by receiver",
					zap.String("activity", a.ApId), zap.String("inbox", inbox), zap.Int("status", res.StatusCode))
			default:
				w.count("failed")
				w.logger.Info("delivery failed",
					zap.String("activity", a.ApId), zap.String("inbox", inbox), zap.Stringer("result", res))
				failed = append(failed, inbox)
			}
		}
		if len(failed) == 0 {
			return w.advance(ctx, state, a)
		}
		inboxes = failed

		now := time.Now()
		state.FailCount++
		state.LastRetry = &now
		if err := w.db.SaveQueueState(ctx, state); err != nil {
			return fmt.Errorf("save queue state: %w", err)
		}
		w.report(statsOf(w.instance.Domain, state))

		wait := Backoff(state.FailCount, w.conf.RetryBase, w.conf.RetryMax)
		w.logger.Debug("retrying later", zap.Int("failCount", state.FailCount), zap.Duration("wait", wait))
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (w *Worker) deliver(ctx context.Context, inbox string, a *domain.SentActivity, key *signingKey) activitypub.DeliveryResult {
	ctx, cancel := context.WithTimeout(ctx, w.conf.DeliveryTimeout)
	defer cancel()
	return activitypub.Deliver(ctx, w.client, inbox, []byte(a.Data), key.key, key.keyId, util.UserAgent(w.fed.Domain()))
}

func (w *Worker) advance(ctx context.Context, state *domain.FederationQueueState, a *domain.SentActivity) error {
	published := a.Published
	state.LastSuccessfulId = a.Id
	state.LastSuccessfulPublished = &published
	state.FailCount = 0
	if err := w.db.SaveQueueState(ctx, state); err != nil {
		return fmt.Errorf("save queue state: %w", err)
	}
	w.report(statsOf(w.instance.Domain, state))
	return nil
}

func (w *Worker) count(outcome string) {
	if w.metrics != nil {
		w.metrics.Deliveries.WithLabelValues(w.instance.Domain, outcome).Inc()
	}
}

// inboxes lists the distinct inboxes on this instance that a is addressed
// to. Reports are only delivered to explicit inboxes.
func (w *Worker) inboxes(ctx context.Context, a *domain.SentActivity) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	add := func(inbox string) {
		if inbox != "" && !seen[inbox] && util.Authority(inbox) == w.instance.Domain {
			seen[inbox] = true
			out = append(out, inbox)
		}
	}

	for _, inbox := range a.SendInboxes {
		add(inbox)
	}
	if a.Sensitive {
		return out, nil
	}
	if a.SendCommunityFollowerOf != nil {
		followers, err := w.db.FollowerInboxesOnDomain(ctx, *a.SendCommunityFollowerOf, w.instance.Domain)
		if err != nil {
			return nil, fmt.Errorf("read follower inboxes: %w", err)
		}
		for _, inbox := range followers {
			add(inbox)
		}
	}
	if a.SendAllInstances {
		actors, err := w.db.ReadActorsByDomain(ctx, w.instance.Domain)
		if err != nil {
			return nil, fmt.Errorf("read actors of %s: %w", w.instance.Domain, err)
		}
		for _, actor := range actors {
			if !actor.Deleted && actor.SharedInboxURL != "" {
				add(actor.SharedInboxURL)
			}
		}
		if len(out) == 0 {
			add(fmt.Sprintf("%s://%s/inbox", w.fed.Config().Scheme(), w.instance.Domain))
		}
	}
	return out, nil
}

var errNoKey = errors.New("actor has no private key")

func (w *Worker) signingKey(ctx context.Context, actorApId string) (*signingKey, error) {
	if k, ok := w.keys[actorApId]; ok {
		return k, nil
	}
	actor, err := w.db.ReadActorByApId(ctx, actorApId)
	if err != nil {
		return nil, err
	}
	if actor.PrivateKeyPem == "" {
		return nil, fmt.Errorf("%w: %s", errNoKey, actorApId)
	}
	key, err := activitypub.ParsePrivateKey(actor.PrivateKeyPem)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errNoKey, actorApId, err)
	}
	k := &signingKey{key: key, keyId: actor.KeyId()}
	w.keys[actorApId] = k
	return k, nil
}
