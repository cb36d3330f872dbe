package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Resolver finds or creates patients for uploaded batch rows.
// Implements the run module's PatientResolver.
type Resolver struct {
	repo *Repository
}

// NewResolver creates a resolver over the patient repository.
func NewResolver(repo *Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the patient for a normalized phone number, creating one
// when no match exists. Names from the upload are used as-is; missing
// names fall back to the placeholder identity.
func (r *Resolver) Resolve(ctx context.Context, orgID uuid.UUID, phoneNumber, firstName, lastName string) (uuid.UUID, error) {
	existing, err := r.repo.GetByPhone(ctx, orgID, phoneNumber)
	if err != nil {
		return uuid.Nil, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	if firstName == "" {
		firstName = placeholderFirstName
	}
	if lastName == "" {
		lastName = placeholderLastName
	}

	p := &Patient{
		ID:        uuid.New(),
		OrgID:     orgID,
		FirstName: firstName,
		LastName:  lastName,
		DOB:       time.Now().UTC().Truncate(24 * time.Hour),
		Phone:     phoneNumber,
	}
	if err := r.repo.Create(ctx, p); err != nil {
		return uuid.Nil, err
	}

	return p.ID, nil
}
