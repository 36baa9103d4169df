// cmd/hookbot/owner.go
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"
)

const ownerCacheKey = "owner"

// ErrNoOwner is returned when the application has no resolvable owner
var ErrNoOwner = errors.New("application owner unknown")

// OwnerSource fetches the current owner identity from upstream
type OwnerSource func(ctx context.Context) (string, error)

// applicationOwner reads the owner of the bot's application, or the team
// owner for team applications.
func applicationOwner(s *discordgo.Session) OwnerSource {
	return func(ctx context.Context) (string, error) {
		// Application takes no request options; the session's HTTP client
		// timeout bounds the call.
		if err := ctx.Err(); err != nil {
			return "", err
		}
		app, err := s.Application("@me")
		if err != nil {
			return "", fmt.Errorf("fetching application: %w", err)
		}
		if app.Team != nil && app.Team.OwnerID != "" {
			return app.Team.OwnerID, nil
		}
		if app.Owner != nil && app.Owner.ID != "" {
			return app.Owner.ID, nil
		}
		return "", ErrNoOwner
	}
}

// cachedOwner resolves the escalation target. Configured owner ids win;
// otherwise the upstream owner is cached and refreshed on a schedule so an
// ownership transfer is picked up without a restart.
type cachedOwner struct {
	fetch     OwnerSource
	cache     *Cache
	overrides []string
	scheduler *cron.Cron
}

func newCachedOwner(fetch OwnerSource, overrides []string, ttl time.Duration) *cachedOwner {
	return &cachedOwner{
		fetch:     fetch,
		cache:     NewCache(ttl, 1),
		overrides: overrides,
	}
}

// Resolve returns the user id that receives diagnostic reports
func (o *cachedOwner) Resolve(ctx context.Context) (string, error) {
	if len(o.overrides) > 0 {
		return o.overrides[0], nil
	}
	if v, ok := o.cache.Get(ownerCacheKey); ok {
		return v.(string), nil
	}
	return o.Refresh(ctx)
}

// Refresh fetches the owner and replaces the cached value
func (o *cachedOwner) Refresh(ctx context.Context) (string, error) {
	if o.fetch == nil {
		return "", ErrNoOwner
	}
	id, err := o.fetch(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoOwner
	}
	o.cache.Set(ownerCacheKey, id)
	return id, nil
}

// IsOwner reports whether userID may run owner-only commands
func (o *cachedOwner) IsOwner(ctx context.Context, userID string) bool {
	for _, id := range o.overrides {
		if id == userID {
			return true
		}
	}
	owner, err := o.Resolve(ctx)
	if err != nil {
		Log().Warning("Could not resolve owner for owner check: %v", err)
		return false
	}
	return owner == userID
}

// StartRefresh re-fetches the owner on schedule, a standard cron spec or
// a descriptor such as "@every 30m".
func (o *cachedOwner) StartRefresh(schedule string) error {
	if len(o.overrides) > 0 || o.fetch == nil {
		return nil
	}
	o.scheduler = cron.New()
	_, err := o.scheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultSendTimeout)
		defer cancel()
		if _, err := o.Refresh(ctx); err != nil {
			Log().Warning("Owner refresh failed, keeping cached value: %v", err)
		}
	})
	if err != nil {
		o.scheduler = nil
		return fmt.Errorf("invalid owner refresh schedule %q: %w", schedule, err)
	}
	o.scheduler.Start()
	return nil
}

// Close stops the refresh schedule and the cache janitor
func (o *cachedOwner) Close() {
	if o.scheduler != nil {
		<-o.scheduler.Stop().Done()
	}
	o.cache.Close()
}
