package commands

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/cogbot/pkg/models"
)

// pluginEnabledCheck names the failure reported for a disabled plugin.
const pluginEnabledCheck = "plugin_enabled"

// runChecks evaluates the command's checks, then the owning plugin's toggle
// and check. It stops at the first failure.
func runChecks(ctx context.Context, inv *Invocation) error {
	cmd := inv.Command
	for _, check := range cmd.Checks() {
		if !check.Predicate(ctx, inv) {
			return &CheckFailure{Command: cmd.QualifiedName(), Check: check.Name}
		}
	}

	p := cmd.Plugin()
	if p == nil {
		return nil
	}
	if !p.Enabled() {
		return &CheckFailure{Command: cmd.QualifiedName(), Check: pluginEnabledCheck}
	}
	if p.Check != nil && !p.Check(ctx, inv) {
		return &CheckFailure{Command: cmd.QualifiedName(), Check: p.Name + "_check"}
	}
	return nil
}

// OwnerOnly passes when the author's id is one of ids.
func OwnerOnly(ids ...string) Check {
	owners := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		owners[id] = struct{}{}
	}
	return Check{
		Name: "owner_only",
		Predicate: func(_ context.Context, inv *Invocation) bool {
			_, ok := owners[inv.Author.ID]
			return ok
		},
	}
}

// PrivateOnly passes in one-to-one chats.
func PrivateOnly() Check {
	return Check{
		Name: "private_only",
		Predicate: func(_ context.Context, inv *Invocation) bool {
			return inv.Chat.IsPrivate()
		},
	}
}

// GroupOnly passes outside one-to-one chats.
func GroupOnly() Check {
	return Check{
		Name: "group_only",
		Predicate: func(_ context.Context, inv *Invocation) bool {
			return !inv.Chat.IsPrivate()
		},
	}
}

// AdminOnly passes when the transport reports the author as an owner or
// administrator of the chat. Lookup failures fail the check.
func AdminOnly() Check {
	return Check{
		Name: "admin_only",
		Predicate: func(ctx context.Context, inv *Invocation) bool {
			if inv.Transport == nil {
				return false
			}
			member, err := inv.Transport.ResolveMember(ctx, inv.Chat.ID, inv.Author.ID)
			if err != nil || member == nil {
				return false
			}
			return member.IsAdmin()
		},
	}
}

// HasStatus passes when the author's membership status is one of statuses.
func HasStatus(statuses ...models.MemberStatus) Check {
	return Check{
		Name: "has_status",
		Predicate: func(ctx context.Context, inv *Invocation) bool {
			if inv.Transport == nil {
				return false
			}
			member, err := inv.Transport.ResolveMember(ctx, inv.Chat.ID, inv.Author.ID)
			if err != nil || member == nil {
				return false
			}
			for _, s := range statuses {
				if member.Status == s {
					return true
				}
			}
			return false
		},
	}
}

// Cooldown limits each author to limit invocations per second with the given
// burst. The limiter state is shared by every command the check is attached to.
func Cooldown(limit rate.Limit, burst int) Check {
	c := newCooldown(limit, burst)
	return Check{
		Name: "cooldown",
		Predicate: func(_ context.Context, inv *Invocation) bool {
			return c.allow(inv.Author.ID, time.Now())
		},
	}
}

// cooldown keeps one limiter per author. Limiters that have refilled to a full
// burst are dropped, since a fresh limiter behaves the same.
type cooldown struct {
	limit rate.Limit
	burst int

	// refill is how long an idle limiter takes to fill up; 0 never evicts
	refill time.Duration

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSweep time.Time
}

func newCooldown(limit rate.Limit, burst int) *cooldown {
	c := &cooldown{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
	if limit > 0 && limit != rate.Inf {
		c.refill = time.Duration(float64(burst) / float64(limit) * float64(time.Second))
	}
	return c
}

func (c *cooldown) allow(author string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refill > 0 && now.Sub(c.lastSweep) >= c.refill {
		c.sweep(now)
	}
	l, ok := c.limiters[author]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[author] = l
	}
	return l.AllowN(now, 1)
}

func (c *cooldown) sweep(now time.Time) {
	c.lastSweep = now
	for author, l := range c.limiters {
		if l.TokensAt(now) >= float64(c.burst) {
			delete(c.limiters, author)
		}
	}
}

func (c *cooldown) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limiters)
}
