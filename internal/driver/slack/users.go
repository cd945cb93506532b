package slack

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"

	"rollcall/pkg/rollcall"
)

// memberIDPattern matches Slack user IDs (U...) and enterprise user IDs (W...).
var memberIDPattern = regexp.MustCompile(`^[UW][A-Z0-9]{2,}$`)

type userLister interface {
	GetUsersContext(ctx context.Context, options ...slackapi.GetUsersOption) ([]slackapi.User, error)
}

// UserDirectory resolves Slack user references typed as names.
//
// Member IDs pass through unchanged. Names are matched case-insensitively
// against the workspace user list, refreshed at most once per TTL.
type UserDirectory struct {
	api    userLister
	sinkID string
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	byName    map[string]string
	fetchedAt time.Time
}

func newUserDirectory(api userLister, sinkID string, ttl time.Duration) *UserDirectory {
	return &UserDirectory{
		api:    api,
		sinkID: sinkID,
		ttl:    ttl,
		now:    time.Now,
	}
}

// ResolveUser returns the member ID for lookup.Token.
func (d *UserDirectory) ResolveUser(ctx context.Context, lookup rollcall.UserLookup) (string, error) {
	token := strings.TrimPrefix(strings.TrimSpace(lookup.Token), "@")
	if token == "" {
		return "", fmt.Errorf("resolve slack user: %w: empty reference", rollcall.ErrUserNotFound)
	}
	if memberIDPattern.MatchString(token) {
		return token, nil
	}

	index, err := d.index(ctx)
	if err != nil {
		return "", err
	}
	memberID, found := index[strings.ToLower(token)]
	if !found {
		return "", fmt.Errorf("resolve slack user %q: %w", token, rollcall.ErrUserNotFound)
	}

	return memberID, nil
}

// index returns the cached name index, refreshing it after the TTL.
func (d *UserDirectory) index(ctx context.Context) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.byName != nil && d.now().Sub(d.fetchedAt) < d.ttl {
		return d.byName, nil
	}

	users, err := d.api.GetUsersContext(ctx)
	if err != nil {
		return nil, fmt.Errorf(
			"resolve slack user: list users: %w",
			mapOutboundError(rollcall.OutboundOperationResolveUser, d.sinkID, err),
		)
	}

	byName := make(map[string]string, len(users)*2)
	for _, user := range users {
		if user.Deleted || user.ID == "" {
			continue
		}
		for _, name := range []string{user.Name, user.Profile.DisplayName} {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			if _, taken := byName[key]; !taken {
				byName[key] = user.ID
			}
		}
	}
	d.byName = byName
	d.fetchedAt = d.now()

	return byName, nil
}

var _ rollcall.UserDirectory = (*UserDirectory)(nil)
