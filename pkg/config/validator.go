package config

import (
	"fmt"
)

// Validator performs structural validation on loaded configuration.
type Validator struct {
	cfg *Config
}

// NewValidator creates a Validator bound to cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every validation check, returning the first failure
// wrapped with ErrValidationFailed.
func (v *Validator) ValidateAll() error {
	checks := []func() error{
		v.validateActors,
		v.validatePermissions,
		v.validateTagRequirements,
		v.validateQueue,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateActors() error {
	for name, actor := range v.cfg.Actors.all {
		if actor.Role != "" && !actor.Role.IsValid() {
			return NewValidationError("actor", name, "role",
				fmt.Errorf("%w: %q", ErrInvalidValue, actor.Role))
		}
	}
	return nil
}

func (v *Validator) validatePermissions() error {
	for i, rule := range v.cfg.Permissions.rules {
		switch rule.Effect {
		case PermissionAllow, PermissionDeny:
			// valid
		default:
			return NewValidationError("permission", fmt.Sprintf("rule[%d]", i), "effect",
				fmt.Errorf("%w: %q (must be allow or deny)", ErrInvalidValue, rule.Effect))
		}
	}
	return nil
}

func (v *Validator) validateTagRequirements() error {
	for tag, tools := range v.cfg.TagRequirements.rules {
		if len(tools) == 0 {
			return NewValidationError("tag_requirement", tag, "tools",
				fmt.Errorf("%w", ErrMissingRequiredField))
		}
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.MaxRedispatchRetries < 0 {
		return NewValidationError("queue", "max_redispatch_retries", "",
			fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if q.MaxFailureAttempts < 1 {
		return NewValidationError("queue", "max_failure_attempts", "",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if q.ExplorationSpiralReadWriteRatio <= 0 {
		return NewValidationError("queue", "exploration_spiral_ratio", "",
			fmt.Errorf("%w: must be > 0", ErrInvalidValue))
	}
	return nil
}
