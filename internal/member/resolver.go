package member

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/harmoney/internal/timespan"
)

const (
	enrollmentSourceSuffix = "MP_Enrollment Source"
	planHIOSSuffix         = "HIOS"
)

// Observer receives resolution outcomes. result is found, not_found or error.
type Observer interface {
	ObserveResolution(result string)
	ObserveDroppedGroup()
}

type Resolver struct {
	dir Directory
	now func() time.Time
	log zerolog.Logger
	obs Observer
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.obs = o }
}

func NewResolver(dir Directory, opts ...Option) *Resolver {
	r := &Resolver{dir: dir, now: time.Now, log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the enriched member whose amisys id (dashes removed) or
// directory id equals identifier.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*Member, error) {
	m, err := r.resolve(ctx, identifier)
	switch {
	case err == nil:
		r.observe("found")
	case errors.Is(err, ErrMemberNotFound):
		r.observe("not_found")
	default:
		r.observe("error")
	}
	return m, err
}

func (r *Resolver) resolve(ctx context.Context, identifier string) (*Member, error) {
	members, err := r.Search(ctx, identifier)
	if err != nil {
		return nil, err
	}
	found, ok := pick(members, identifier)
	if !ok {
		r.log.Warn().Str("identifier", identifier).Int("candidates", len(members)).Msg("no searched member matches identifier")
		return nil, &NotFoundError{Identifier: identifier, Reason: "no record matches identifier"}
	}
	return r.Enrich(ctx, found)
}

func pick(members []Member, identifier string) (Member, bool) {
	for _, m := range members {
		if m.AmisysID != "" && normalizeAmisys(m.AmisysID) == identifier {
			return m, true
		}
	}
	for _, m := range members {
		if m.ID == identifier {
			return m, true
		}
	}
	return Member{}, false
}

type group struct {
	key     string
	members []Member
}

// groupByAmisys keeps groups in first-seen order.
func groupByAmisys(members []Member) []*group {
	var out []*group
	idx := make(map[string]*group)
	for _, m := range members {
		g, ok := idx[m.AmisysID]
		if !ok {
			g = &group{key: m.AmisysID}
			idx[m.AmisysID] = g
			out = append(out, g)
		}
		g.members = append(g.members, m)
	}
	return out
}

// Search queries the directory and collapses records that share an amisys id
// to one representative each. Groups without any usable enrollment are dropped.
func (r *Resolver) Search(ctx context.Context, identifier string) ([]Member, error) {
	members, err := r.dir.Search(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		r.log.Error().Str("identifier", identifier).Msg("error searching for member")
		return nil, &NotFoundError{Identifier: identifier, Reason: "no directory records"}
	}
	if len(members) == 1 {
		return members, nil
	}

	now := r.now()
	out := make([]Member, 0, len(members))
	for _, g := range groupByAmisys(members) {
		if len(g.members) == 1 {
			out = append(out, g.members[0])
			continue
		}
		rep, ok, err := r.representative(ctx, g.members, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.log.Warn().Str("amisys_id", g.key).Int("members", len(g.members)).Msg("duplicate group has no usable enrollment, dropping")
			if r.obs != nil {
				r.obs.ObserveDroppedGroup()
			}
			continue
		}
		out = append(out, rep)
	}
	return out, nil
}

type candidate struct {
	member     Member
	enrollment Enrollment
}

func (c candidate) TimeSpan() timespan.Span { return c.enrollment.TimeSpan() }

func candidateEffective(c candidate) time.Time { return c.enrollment.span.Effective }

// representative picks the member owning the current-or-future enrollment,
// falling back to the latest effective enrollment. A failed lookup only
// removes that member from consideration.
func (r *Resolver) representative(ctx context.Context, members []Member, now time.Time) (Member, bool, error) {
	found := make([]*Enrollment, len(members))
	var g errgroup.Group
	for i, m := range members {
		g.Go(func() error {
			e, err := r.currentOrFutureEnrollment(ctx, m.ID, now)
			if err != nil {
				r.log.Warn().Err(err).Str("member_id", m.ID).Msg("enrollment lookup failed")
				return nil
			}
			found[i] = e
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Member{}, false, err
	}

	var cands []candidate
	for i, e := range found {
		if e != nil {
			cands = append(cands, candidate{member: members[i], enrollment: *e})
		}
	}
	sel, err := timespan.NewSelector(timespan.CurrentOrFuture, now)
	if err != nil {
		return Member{}, false, err
	}
	if c, ok := timespan.Select(sel, cands); ok {
		return c.member, true, nil
	}
	if c, ok := timespan.MostRecent(cands, candidateEffective); ok {
		return c.member, true, nil
	}
	return Member{}, false, nil
}

func (r *Resolver) currentOrFutureEnrollment(ctx context.Context, memberID string, now time.Time) (*Enrollment, error) {
	all, err := r.dir.Enrollments(ctx, memberID)
	if err != nil {
		return nil, err
	}
	spans := r.parseEnrollments(memberID, all)

	sel, err := timespan.NewSelector(timespan.CurrentOrFuture, now)
	if err != nil {
		return nil, err
	}
	if e, ok := timespan.Select(sel, spans); ok {
		return &e, nil
	}
	if e, ok := timespan.MostRecent(spans, func(e Enrollment) time.Time { return e.span.Effective }); ok {
		return &e, nil
	}
	return nil, nil
}

// parseEnrollments drops void and open-ended spans and attaches parsed dates.
func (r *Resolver) parseEnrollments(memberID string, all []Enrollment) []Enrollment {
	out := make([]Enrollment, 0, len(all))
	for _, e := range all {
		if e.Void || e.EndDate == "" {
			continue
		}
		sp, err := timespan.Parse(e.EffectiveDate, e.EndDate, timespan.Layout)
		if err != nil {
			r.log.Warn().Err(err).Str("member_id", memberID).Msg("skipping enrollment with bad dates")
			continue
		}
		e.span = sp
		out = append(out, e)
	}
	return out
}

// Enrich adds refs, enrollment source and plan HIOS id from the identifier
// and attribute endpoints. Both lookups run concurrently; either failing fails
// the enrichment.
func (r *Resolver) Enrich(ctx context.Context, m Member) (*Member, error) {
	var (
		ids   []Identifier
		attrs []Attribute
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ids, err = r.dir.Identifiers(gctx, m.ID)
		return err
	})
	g.Go(func() error {
		var err error
		attrs, err = r.dir.Attributes(gctx, m.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enrich member %s: %w", m.ID, err)
	}

	out := m
	out.Refs = buildRefs(m, ids)
	out.EnrollmentSource = r.latestAttribute(m.ID, attrs, enrollmentSourceSuffix)
	out.PlanHIOSID = r.latestAttribute(m.ID, attrs, planHIOSSuffix)
	return &out, nil
}

func buildRefs(m Member, ids []Identifier) []Ref {
	refs := []Ref{
		{RefID: m.ID, Source: SourceCNC},
		{RefID: m.MemberCode, Source: SourceUMV},
		{RefID: m.AmisysID, Source: SourceAmisys},
	}
	for _, id := range ids {
		if id.IsActive && !id.IsVoid {
			refs = append(refs, Ref{RefID: id.Identifier, Source: id.IdentificationType})
		}
	}
	return refs
}

type datedAttribute struct {
	Attribute
	start time.Time
}

// latestAttribute returns the defined value of the newest non-void attribute
// whose name ends with suffix.
func (r *Resolver) latestAttribute(memberID string, attrs []Attribute, suffix string) string {
	var dated []datedAttribute
	for _, a := range attrs {
		if a.IsVoid || a.StartDate == "" || !strings.HasSuffix(a.Attribute, suffix) {
			continue
		}
		start, err := time.Parse(timespan.Layout, a.StartDate)
		if err != nil {
			r.log.Warn().Err(err).Str("member_id", memberID).Str("attribute", a.Attribute).Msg("skipping attribute with bad start date")
			continue
		}
		dated = append(dated, datedAttribute{Attribute: a, start: start})
	}
	latest, ok := timespan.MostRecent(dated, func(d datedAttribute) time.Time { return d.start })
	if !ok {
		return ""
	}
	return latest.DefinedValue
}

func (r *Resolver) observe(result string) {
	if r.obs != nil {
		r.obs.ObserveResolution(result)
	}
}
