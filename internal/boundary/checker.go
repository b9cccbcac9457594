// Package boundary decides whether an actor may touch a path.
package boundary

import (
	"fmt"
	"log/slog"
	"time"

	"opsgate/internal/audit"
	"opsgate/internal/security"
	"opsgate/pkg/fileutil"
)

// Denial reasons. Pattern-based reasons carry the pattern after ": ".
const (
	ReasonEmergencyStop    = "EMERGENCY_STOP_ACTIVE"
	ReasonUnknownActor     = "UNKNOWN_ACTOR"
	ReasonGlobalForbidden  = "GLOBAL_FORBIDDEN"
	ReasonActorForbidden   = "ACTOR_FORBIDDEN"
	ReasonNotAllowed       = "NOT_IN_ALLOWED_PATHS"
	ReasonOutsideRoot      = "OUTSIDE_ROOT"
	ReasonPolicyUnreadable = "POLICY_UNREADABLE"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Checker evaluates access against a policy. The emergency-stop marker is
// checked on every call; its presence alone means stop.
type Checker struct {
	root          string
	policy        *Policy
	emergencyStop string
	errorLog      string
	now           func() time.Time
	logger        *slog.Logger
}

// Options configures a Checker.
type Options struct {
	// Root is the directory paths are resolved against.
	Root string
	// EmergencyStopFile is the marker path.
	EmergencyStopFile string
	// ErrorLog receives one line per denial. Empty disables it.
	ErrorLog string
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// NewChecker creates a checker over a compiled policy. A nil policy denies
// every actor.
func NewChecker(policy *Policy, opts Options) *Checker {
	if policy == nil {
		policy = &Policy{Actors: map[string]ActorPolicy{}}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Checker{
		root:          opts.Root,
		policy:        policy,
		emergencyStop: opts.EmergencyStopFile,
		errorLog:      opts.ErrorLog,
		now:           opts.Now,
		logger:        opts.Logger,
	}
}

// EmergencyStopActive reports whether the marker file exists.
func (c *Checker) EmergencyStopActive() bool {
	return c.emergencyStop != "" && fileutil.PathExists(c.emergencyStop)
}

// CheckAccess evaluates, first match wins: emergency stop, unknown actor,
// global forbidden, actor forbidden, actor allowed, default deny.
func (c *Checker) CheckAccess(actorID, path string) Decision {
	d := c.evaluate(actorID, path)
	if !d.Allowed {
		c.logDenial(actorID, path, d.Reason)
	}
	return d
}

// CheckProtected applies only the emergency stop and global forbidden
// rules. Used for commits where no actor identity is configured.
func (c *Checker) CheckProtected(path string) Decision {
	d := c.evaluateProtected(path)
	if !d.Allowed {
		c.logDenial("-", path, d.Reason)
	}
	return d
}

func (c *Checker) evaluate(actorID, path string) Decision {
	if c.EmergencyStopActive() {
		return deny(ReasonEmergencyStop)
	}

	actor, known := c.policy.Actors[actorID]
	if !known {
		return deny(ReasonUnknownActor)
	}

	rel, err := security.RelativeTo(c.root, path)
	if err != nil {
		return deny(ReasonOutsideRoot)
	}

	if p, ok := firstMatch(c.policy.GlobalForbidden, rel); ok {
		return deny(fmt.Sprintf("%s: %s", ReasonGlobalForbidden, p))
	}
	if p, ok := firstMatch(actor.Forbidden, rel); ok {
		return deny(fmt.Sprintf("%s: %s", ReasonActorForbidden, p))
	}
	if _, ok := firstMatch(actor.Allowed, rel); ok {
		return allow()
	}
	return deny(ReasonNotAllowed)
}

func (c *Checker) evaluateProtected(path string) Decision {
	if c.EmergencyStopActive() {
		return deny(ReasonEmergencyStop)
	}

	rel, err := security.RelativeTo(c.root, path)
	if err != nil {
		return deny(ReasonOutsideRoot)
	}

	if p, ok := firstMatch(c.policy.GlobalForbidden, rel); ok {
		return deny(fmt.Sprintf("%s: %s", ReasonGlobalForbidden, p))
	}
	return allow()
}

func (c *Checker) logDenial(actorID, path, reason string) {
	if c.errorLog == "" {
		return
	}
	if err := AppendDenial(c.errorLog, c.now(), actorID, path, reason); err != nil {
		c.logger.Warn("failed to write boundary error log", "error", err)
	}
}

// AppendDenial adds one line to the boundary error log. Callers that deny
// without a Checker, such as when the policy cannot be loaded, use it
// directly.
func AppendDenial(logPath string, at time.Time, actorID, path, reason string) error {
	line := fmt.Sprintf("[%s] actor=%s path=%s reason=%s",
		at.UTC().Format(audit.TimeFormat), actorID, path, reason)
	return fileutil.AppendLine(logPath, line)
}
