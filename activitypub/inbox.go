package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// ReceiveActivity runs an inbox POST through the receive pipeline: cheap
// syntactic checks first, then actor resolution, signature verification,
// the activity specific checks and finally its side effects. Activities
// that were received before are accepted without doing anything once the
// signature is valid.
func (f *Federation) ReceiveActivity(ctx context.Context, r *http.Request, body []byte) (err error) {
	log := f.logger
	defer func() {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrBlocked) || errors.Is(err, ErrRejected) {
			log.Warn("activity rejected", zap.Error(err))
		}
	}()

	if !HasSignature(r.Header) {
		return fmt.Errorf("%w: missing signature", ErrUnauthorized)
	}
	if err := VerifyDigest(r.Header, body); err != nil {
		return err
	}

	activity, err := ParseActivity(body)
	if err != nil {
		return err
	}
	log = f.logger.With(zap.String("activity", activity.ID()), zap.String("actor", activity.Actor().String()))

	if err := checkDomains(activity); err != nil {
		return err
	}
	if f.IsLocalURL(activity.ID()) || f.IsLocalURL(activity.Actor().String()) {
		return fmt.Errorf("%w: activity claims to come from this instance", ErrRejected)
	}
	if err := f.CheckURL(activity.Actor().String()); err != nil {
		return err
	}

	d := f.NewData()
	actor, err := activity.Actor().Dereference(ctx, d)
	if err != nil {
		return err
	}
	keyId, err := VerifyRequest(r, body, actor.PublicKeyPem)
	if err != nil {
		return err
	}
	if owner := KeyOwner(keyId); owner != actor.ApId {
		return fmt.Errorf("%w: key %s does not belong to %s", ErrUnauthorized, keyId, actor.ApId)
	}

	seen, err := f.db.IsActivityReceived(ctx, activity.ID())
	if err != nil {
		return err
	}
	if seen {
		log.Debug("activity already received")
		return nil
	}

	if err := activity.Verify(ctx, d); err != nil {
		return err
	}
	if err := activity.Receive(ctx, d); err != nil {
		return err
	}
	if _, err := f.db.InsertReceivedActivity(ctx, activity.ID()); err != nil {
		return err
	}
	log.Info("activity received", zap.String("type", activity.kindName()),
		zap.Int64("fetches", d.budget.Spent()))
	return nil
}
