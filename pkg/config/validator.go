package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// structValidator does the field-tag-level checks (`validate:"required,min=1"`
// etc.) against the yaml tag name rather than the Go field name, so a
// reported error names the same key an operator would find in
// chatcore.yaml.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast — stops at the
// first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateSection("rate_limit", v.cfg.RateLimit); err != nil {
		return fmt.Errorf("rate_limit validation failed: %w", err)
	}
	if err := v.validateRateLimitInvariant(); err != nil {
		return fmt.Errorf("rate_limit validation failed: %w", err)
	}
	if err := v.validateSection("queue", v.cfg.Queue); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateSection("retention", v.cfg.Retention); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}
	if err := v.validateModelChain(); err != nil {
		return fmt.Errorf("model_chain validation failed: %w", err)
	}
	return nil
}

// validateSection runs go-playground/validator's struct-tag rules against
// one config section, translating the first failing field into a
// ValidationError keyed by its yaml name.
func (v *Validator) validateSection(component string, target any) error {
	if target == nil || reflect.ValueOf(target).IsNil() {
		return fmt.Errorf("%s configuration is nil", component)
	}

	err := structValidator.Struct(target)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return err
	}
	first := fieldErrs[0]
	return NewValidationError(component, "", first.Field(),
		fmt.Errorf("failed '%s' rule, got %v", first.Tag(), first.Value()))
}

// validateRateLimitInvariant checks the one rule struct tags can't express:
// the daily ceiling must not be tighter than the per-minute one.
func (v *Validator) validateRateLimitInvariant() error {
	rl := v.cfg.RateLimit
	if rl == nil {
		return nil
	}
	if rl.UserDailyMax < rl.UserMinuteMax {
		return NewValidationError("rate_limit", "", "user_daily_max",
			fmt.Errorf("must be >= user_minute_max (%d), got %d", rl.UserMinuteMax, rl.UserDailyMax))
	}
	return nil
}

func (v *Validator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if err := structValidator.Struct(provider); err != nil {
			if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
				first := fieldErrs[0]
				return NewValidationError("llm_provider", name, first.Field(),
					fmt.Errorf("failed '%s' rule, got %v", first.Tag(), first.Value()))
			}
			return err
		}
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}
	}
	return nil
}

func (v *Validator) validateModelChain() error {
	if len(v.cfg.ModelChain) == 0 {
		return NewValidationError("model_chain", "", "", fmt.Errorf("at least one provider is required"))
	}
	for _, name := range v.cfg.ModelChain {
		if !v.cfg.LLMProviderRegistry.Has(name) {
			return NewValidationError("model_chain", name, "", fmt.Errorf("provider '%s' not found in llm_providers", name))
		}
	}
	return nil
}
