package coordinator

import "time"

// HostPromotionMode selects how a departed host's powers move on.
type HostPromotionMode string

const (
	// PromoteImmediate hands the host role to the next member as soon as the
	// host disconnects.
	PromoteImmediate HostPromotionMode = "immediate"
	// PromoteAfterGrace waits for the host to return before promoting.
	PromoteAfterGrace HostPromotionMode = "grace"
)

// Policy carries the tunable game rules. Zero values are filled in by
// Normalize so a partially specified config file still works.
type Policy struct {
	BuzzWindow         time.Duration     `yaml:"buzz_window"`
	AnswerWindow       time.Duration     `yaml:"answer_window"`
	RevealDelay        time.Duration     `yaml:"reveal_delay"`
	ReopenOnIncorrect  bool              `yaml:"reopen_on_incorrect"`
	HostPromotion      HostPromotionMode `yaml:"host_promotion"`
	HostGracePeriod    time.Duration     `yaml:"host_grace_period"`
	MaxConflictRetries int               `yaml:"max_conflict_retries"`
}

// DefaultPolicy returns the standard rules: 30s buzz window, 10s to answer,
// re-open on a miss, promote a vanished host after a 30s grace period.
func DefaultPolicy() Policy {
	return Policy{
		BuzzWindow:         30 * time.Second,
		AnswerWindow:       10 * time.Second,
		RevealDelay:        3 * time.Second,
		ReopenOnIncorrect:  true,
		HostPromotion:      PromoteAfterGrace,
		HostGracePeriod:    30 * time.Second,
		MaxConflictRetries: 3,
	}
}

// Normalize fills unset fields from the defaults.
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.BuzzWindow <= 0 {
		p.BuzzWindow = def.BuzzWindow
	}
	if p.AnswerWindow <= 0 {
		p.AnswerWindow = def.AnswerWindow
	}
	if p.RevealDelay <= 0 {
		p.RevealDelay = def.RevealDelay
	}
	if p.HostPromotion == "" {
		p.HostPromotion = def.HostPromotion
	}
	if p.HostGracePeriod <= 0 {
		p.HostGracePeriod = def.HostGracePeriod
	}
	if p.MaxConflictRetries <= 0 {
		p.MaxConflictRetries = def.MaxConflictRetries
	}
	return p
}
