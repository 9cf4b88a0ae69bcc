// Package member resolves caller identifiers to one canonical member record
// from the member directory.
package member

import (
	"context"
	"errors"
	"fmt"

	"github.com/briangreenhill/harmoney/internal/timespan"
)

// Ref sources written by Enrich.
const (
	SourceCNC    = "cnc"
	SourceUMV    = "umv"
	SourceAmisys = "amisys"
	SourceABS    = "abs"

	SourceIssuerSubscriberID = "Issuer Subscriber ID"
	SourcePOSubscriberID     = "PO Subscriber ID"
)

var (
	// ErrMemberNotFound matches every *NotFoundError.
	ErrMemberNotFound = errors.New("member not found")
	// ErrUnavailable is returned when a directory lookup produced no response.
	ErrUnavailable = errors.New("member directory unavailable")
)

// NotFoundError reports why an identifier could not be resolved.
type NotFoundError struct {
	Identifier string
	Reason     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("member %q not found: %s", e.Identifier, e.Reason)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrMemberNotFound }

// Ref is one external identifier for a member.
type Ref struct {
	RefID  string `json:"refId"`
	Source string `json:"source"`
}

// Member is a directory record, plus the fields Enrich adds.
type Member struct {
	ID          string `json:"id"`
	MemberCode  string `json:"memberCode,omitempty"`
	AmisysID    string `json:"amisysId,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`

	EnrollmentSource string `json:"enrollmentSource,omitempty"`
	PlanHIOSID       string `json:"planHiosId,omitempty"`
	PaymentSystem    string `json:"paymentSystem,omitempty"`
	Refs             []Ref  `json:"refs,omitempty"`
}

// Enrollment is one enrollment span of a member.
type Enrollment struct {
	ID            string `json:"id,omitempty"`
	EffectiveDate string `json:"effectiveDate"`
	EndDate       string `json:"endDate"`
	Void          bool   `json:"void"`

	span timespan.Span
}

// TimeSpan is only meaningful on enrollments that passed through parseEnrollments.
func (e Enrollment) TimeSpan() timespan.Span { return e.span }

type Identifier struct {
	Identifier         string `json:"identifier"`
	IdentificationType string `json:"identificationType"`
	IsActive           bool   `json:"isActive"`
	IsVoid             bool   `json:"isVoid"`
}

type Attribute struct {
	Attribute    string `json:"attribute"`
	DefinedValue string `json:"definedValue"`
	StartDate    string `json:"startDate"`
	IsVoid       bool   `json:"isVoid"`
}

// Directory is the upstream member directory.
type Directory interface {
	Search(ctx context.Context, identifier string) ([]Member, error)
	Enrollments(ctx context.Context, memberID string) ([]Enrollment, error)
	Identifiers(ctx context.Context, memberID string) ([]Identifier, error)
	Attributes(ctx context.Context, memberID string) ([]Attribute, error)
}
