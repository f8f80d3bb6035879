// Package access resolves which rebate entities a signed-in user may act
// for and enforces that boundary on every submission operation.
package access

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/audit"
)

// User is the signed-in portal user, as asserted by the identity provider.
type User struct {
	Email string
	Name  string
	Title string
}

// ComboKeySource resolves a user's entity combo keys from the status
// directory.
type ComboKeySource interface {
	GetComboKeys(ctx context.Context, email string) ([]string, error)
}

// KeyCache caches resolved combo key sets between requests.
type KeyCache interface {
	GetComboKeys(ctx context.Context, email string) ([]string, bool)
	SetComboKeys(ctx context.Context, email string, keys []string)
}

// DenialRecorder persists denial events. Implementations must not block.
type DenialRecorder interface {
	RecordDenial(denial audit.AccessDenial)
}

// Denial describes the request being denied, for the audit trail.
type Denial struct {
	Action     string
	FormType   string
	RebateYear string
	ResourceID string
	ComboKey   string
}

// Authorizer owns the combo-key authorization model: a user may touch a
// submission only when its entity combo key appears in the user's SAM.gov
// registrations.
type Authorizer struct {
	source ComboKeySource
	cache  KeyCache
	audits DenialRecorder
	logger *zap.Logger
}

func NewAuthorizer(source ComboKeySource, cache KeyCache, audits DenialRecorder, logger *zap.Logger) *Authorizer {
	return &Authorizer{
		source: source,
		cache:  cache,
		audits: audits,
		logger: logger,
	}
}

// ComboKeys resolves the user's authorized combo key set, cache first. An
// empty set is a valid result: the user has no active SAM.gov registration.
func (a *Authorizer) ComboKeys(ctx context.Context, email string) ([]string, error) {
	if a.cache != nil {
		if keys, ok := a.cache.GetComboKeys(ctx, email); ok {
			return keys, nil
		}
	}

	keys, err := a.source.GetComboKeys(ctx, email)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}

	if a.cache != nil {
		a.cache.SetComboKeys(ctx, email, keys)
	}
	return keys, nil
}

// RequireComboKey checks that comboKey is in the user's authorized set.
// A denial is logged and recorded before the unauthorized error returns.
func (a *Authorizer) RequireComboKey(ctx context.Context, user User, keys []string, comboKey string, denial Denial) error {
	if comboKey != "" && slices.Contains(keys, comboKey) {
		return nil
	}

	a.logger.Error("User attempted an operation without a matching combo key",
		zap.String("user_email", user.Email),
		zap.String("action", denial.Action),
		zap.String("form_type", denial.FormType),
		zap.String("rebate_year", denial.RebateYear),
		zap.String("resource_id", denial.ResourceID))

	denial.ComboKey = comboKey
	a.RecordDenial(user, denial, shared.ErrUnauthorized.Code)
	return shared.ErrUnauthorized
}

// RecordDenial writes a denial event to the audit trail without blocking.
func (a *Authorizer) RecordDenial(user User, denial Denial, reason string) {
	if a.audits == nil {
		return
	}
	a.audits.RecordDenial(audit.AccessDenial{
		UserEmail:  user.Email,
		Action:     denial.Action,
		FormType:   denial.FormType,
		RebateYear: denial.RebateYear,
		ResourceID: denial.ResourceID,
		ComboKey:   denial.ComboKey,
		Reason:     reason,
	})
}
