package twofactor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// stepKeyPrefix namespaces the last accepted TOTP step per user.
const stepKeyPrefix = "2fa-step:"

// acceptScript stores the step only if it is newer than the last accepted
// one. Check and write happen in one call so two requests racing with the
// same code cannot both win.
var acceptScript = redis.NewScript(`
local last = redis.call("GET", KEYS[1])
if last and tonumber(last) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// StepGuard remembers the last TOTP step each user signed in with so a code
// cannot be used twice inside its validity window.
type StepGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStepGuard creates a guard backed by Redis. Entries live as long as a
// code can stay valid: the current step plus the skew on either side.
func NewStepGuard(client *redis.Client) *StepGuard {
	window := time.Duration(validateOpts.Period*(2*validateOpts.Skew+1)) * time.Second
	return &StepGuard{client: client, ttl: window}
}

// Accept records step for userID. It returns false when step is at or
// before the last accepted step.
func (g *StepGuard) Accept(ctx context.Context, userID string, step int64) (bool, error) {
	res, err := acceptScript.Run(ctx, g.client, []string{stepKeyPrefix + userID}, step, g.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("recording totp step: %w", err)
	}
	return res == 1, nil
}
