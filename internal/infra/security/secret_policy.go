package security

import (
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const (
	defaultMinSecretLength     = 10
	defaultMinCharacterClasses = 3
	defaultMinStrengthScore    = 3
)

// SecretPolicyError reports the first rule a principal secret failed.
type SecretPolicyError struct {
	Code    string
	Message string
}

func (e *SecretPolicyError) Error() string {
	return e.Message
}

// SecretRule checks one property of a principal secret. inputs are
// identifying values (username, email) the secret must not resemble.
type SecretRule func(secret string, inputs []string) error

// SecretPolicy validates login secrets before they are hashed and stored.
type SecretPolicy struct {
	rules []SecretRule
}

// DefaultSecretPolicy enforces length, character variety and zxcvbn strength.
func DefaultSecretPolicy() *SecretPolicy {
	return NewSecretPolicy(
		MinLength(defaultMinSecretLength),
		CharacterClasses(defaultMinCharacterClasses),
		MinStrength(defaultMinStrengthScore),
	)
}

func NewSecretPolicy(rules ...SecretRule) *SecretPolicy {
	return &SecretPolicy{rules: append([]SecretRule(nil), rules...)}
}

// Validate returns the first violation, or nil.
func (p *SecretPolicy) Validate(secret string, inputs ...string) error {
	if p == nil {
		return fmt.Errorf("secret policy not configured")
	}
	cleaned := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in = strings.TrimSpace(in); in != "" {
			cleaned = append(cleaned, in)
		}
	}
	for _, rule := range p.rules {
		if err := rule(secret, cleaned); err != nil {
			return err
		}
	}
	return nil
}

func MinLength(n int) SecretRule {
	return func(secret string, _ []string) error {
		if len([]rune(secret)) >= n {
			return nil
		}
		return &SecretPolicyError{Code: "min_length", Message: fmt.Sprintf("secret must be at least %d characters long", n)}
	}
}

// CharacterClasses requires n of: upper, lower, digit, symbol.
func CharacterClasses(n int) SecretRule {
	return func(secret string, _ []string) error {
		var seen [4]bool
		for _, r := range secret {
			switch {
			case unicode.IsUpper(r):
				seen[0] = true
			case unicode.IsLower(r):
				seen[1] = true
			case unicode.IsDigit(r):
				seen[2] = true
			case unicode.IsSymbol(r) || unicode.IsPunct(r):
				seen[3] = true
			}
		}
		classes := 0
		for _, ok := range seen {
			if ok {
				classes++
			}
		}
		if classes >= n {
			return nil
		}
		return &SecretPolicyError{Code: "character_classes", Message: fmt.Sprintf("secret must include at least %d character types", n)}
	}
}

// MinStrength rejects secrets whose zxcvbn score, penalised by the identifying inputs, is below score.
func MinStrength(score int) SecretRule {
	score = min(score, 4)
	return func(secret string, inputs []string) error {
		if score <= 0 {
			return nil
		}
		if zxcvbn.PasswordStrength(secret, inputs).Score >= score {
			return nil
		}
		return &SecretPolicyError{Code: "weak_secret", Message: "secret is too easy to guess"}
	}
}
