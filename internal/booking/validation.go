package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

// HoldChecker reports who currently holds a slot number, "" when nobody
// does. Holds are advisory; lookup errors are logged and ignored.
type HoldChecker interface {
	Holder(ctx context.Context, scheduleID uuid.UUID, date time.Time, number int) (string, error)
}

// Request is a booking request after contact resolution.
type Request struct {
	PractitionerID uuid.UUID
	FacilityID     uuid.UUID
	ScheduleID     uuid.UUID // optional, resolved from From when nil
	Date           time.Time
	From           schedule.Clock
	Number         *int
	Channel        Channel
	ContactID      uuid.UUID
	Name           string
	BirthDate      time.Time
	Phone          string
	HolderID       string
	Verified       bool
	ProvisionalID  uuid.UUID
	Actor          string

	// prior is the record this request replaces: the source of a
	// reschedule or the provisional booking being finalised. It is left
	// out of occupancy and duplicate checks.
	prior      *Booking
	reschedule bool
}

// Admission is an accepted request with everything the lifecycle manager
// needs to persist it.
type Admission struct {
	Schedule         schedule.Schedule
	Number           int
	From             schedule.Clock
	To               schedule.Clock
	PractitionerName string
	// ForceProvisional is set when a non-impacting practitioner note
	// exists for the date.
	ForceProvisional bool
}

// validationContext is loaded once per request and only read afterwards.
type validationContext struct {
	req        Request
	now        time.Time
	today      time.Time
	assignment *schedule.Assignment
	schedules  []schedule.Schedule
	byID       *schedule.Schedule
	leave      *schedule.Leave
	notes      []schedule.Note

	target    *schedule.Schedule
	targetErr error
	blocks    []schedule.Block
	active    []Booking
	slots     []schedule.Slot
	slotsErr  error
}

// partial is what one check contributes to the admission.
type partial struct {
	practitionerName string
	forceProvisional bool
	allocation       *Allocation
}

func (p partial) merge(o partial) partial {
	if o.practitionerName != "" {
		p.practitionerName = o.practitionerName
	}
	p.forceProvisional = p.forceProvisional || o.forceProvisional
	if o.allocation != nil {
		p.allocation = o.allocation
	}
	return p
}

type check func(ctx context.Context, vc *validationContext) (partial, error)

type Pipeline struct {
	catalog schedule.Catalog
	repo    Repository
	holds   HoldChecker
	alloc   Allocator
	gen     *schedule.Generator
	lead    time.Duration
	loc     *time.Location
	log     *zap.Logger
	now     func() time.Time
}

func NewPipeline(catalog schedule.Catalog, repo Repository, holds HoldChecker, gen *schedule.Generator, lead time.Duration, loc *time.Location, log *zap.Logger) *Pipeline {
	return &Pipeline{
		catalog: catalog,
		repo:    repo,
		holds:   holds,
		alloc:   Allocator{Base: gen.Base},
		gen:     gen,
		lead:    lead,
		loc:     loc,
		log:     log,
		now:     time.Now,
	}
}

// Validate runs every admission check concurrently. All must pass; when
// several fail, the error of the earliest check in the list below wins so
// the reported code does not depend on scheduling.
func (p *Pipeline) Validate(ctx context.Context, req Request) (*Admission, error) {
	vc, err := p.load(ctx, req)
	if err != nil {
		return nil, err
	}

	checks := []check{
		p.checkNumberRequirement,
		p.checkAssignment,
		p.checkLeave,
		p.checkNotes,
		p.checkSchedule,
		p.checkAllocation,
		p.checkBlock,
		p.checkDuplicate,
		p.checkDuplicateProvisional,
		p.checkCheckedIn,
	}

	partials := make([]partial, len(checks))
	errs := make([]error, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			partials[i], errs[i] = c(gctx, vc)
			return errs[i]
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Checks aborted because a sibling failed report context.Canceled;
	// the sibling's own error is further down the list.
	var canceled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			canceled = err
			continue
		}
		return nil, err
	}
	if canceled != nil {
		return nil, canceled
	}

	var merged partial
	for _, pt := range partials {
		merged = merged.merge(pt)
	}

	return &Admission{
		Schedule:         *vc.target,
		Number:           merged.allocation.Number,
		From:             merged.allocation.From,
		To:               merged.allocation.To,
		PractitionerName: merged.practitionerName,
		ForceProvisional: merged.forceProvisional,
	}, nil
}

func (p *Pipeline) load(ctx context.Context, req Request) (*validationContext, error) {
	now := p.now()
	vc := &validationContext{req: req, now: now, today: schedule.DateOf(now, p.loc)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := p.catalog.AssignmentAsOf(gctx, req.PractitionerID, req.FacilityID, req.Date)
		if err != nil && !errors.Is(err, schedule.ErrAssignmentNotFound) {
			return fmt.Errorf("load assignment: %w", err)
		}
		vc.assignment = a
		return nil
	})
	g.Go(func() error {
		s, err := p.catalog.SchedulesForDay(gctx, req.PractitionerID, req.FacilityID, req.Date)
		if err != nil {
			return fmt.Errorf("load schedules: %w", err)
		}
		vc.schedules = s
		return nil
	})
	if req.ScheduleID != uuid.Nil {
		g.Go(func() error {
			s, err := p.catalog.ScheduleByID(gctx, req.ScheduleID, req.Date)
			if err != nil && !errors.Is(err, schedule.ErrScheduleNotFound) {
				return fmt.Errorf("load schedule: %w", err)
			}
			vc.byID = s
			return nil
		})
	}
	g.Go(func() error {
		l, err := p.catalog.LeaveOn(gctx, req.PractitionerID, req.FacilityID, req.Date)
		if err != nil {
			return fmt.Errorf("load leave: %w", err)
		}
		vc.leave = l
		return nil
	})
	g.Go(func() error {
		n, err := p.catalog.NotesOn(gctx, req.PractitionerID, req.FacilityID, req.Date)
		if err != nil {
			return fmt.Errorf("load notes: %w", err)
		}
		vc.notes = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vc.target, vc.targetErr = resolveTarget(vc)
	if vc.target == nil {
		return vc, nil
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := p.catalog.BlocksFor(gctx, []uuid.UUID{vc.target.ID}, req.Date)
		if err != nil {
			return fmt.Errorf("load blocks: %w", err)
		}
		vc.blocks = b
		return nil
	})
	g.Go(func() error {
		active, err := p.repo.ActiveForScheduleDate(gctx, vc.target.ID, req.Date)
		if err != nil {
			return fmt.Errorf("load active bookings: %w", err)
		}
		vc.active = withoutBooking(active, req.prior)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if vc.target.Type.Partitioned() {
		// Blocks are reported by their own check, so allocation only
		// looks at occupancy.
		vc.slots, vc.slotsErr = p.gen.Generate(schedule.GenerateInput{
			Schedule:       *vc.target,
			Date:           req.Date,
			Capacity:       schedule.ResolveCapacity(*vc.target, vc.assignment),
			Occupied:       occupancy(vc.active),
			WalkinEligible: req.Channel.Internal(),
			Location:       p.loc,
		})
	}
	return vc, nil
}

func resolveTarget(vc *validationContext) (*schedule.Schedule, error) {
	req := vc.req
	if req.Date.Before(vc.today) {
		return nil, fmt.Errorf("%w: %s is in the past", ErrTimeInvalid, req.Date.Format(time.DateOnly))
	}

	if req.ScheduleID != uuid.Nil {
		s := vc.byID
		if s == nil || s.Status != schedule.StatusActive ||
			s.PractitionerID != req.PractitionerID || s.FacilityID != req.FacilityID ||
			s.Day != req.Date.Weekday() || s.EffectiveDate.After(req.Date) {
			return nil, ErrScheduleNotFound
		}
		if !s.Contains(req.From) {
			return nil, fmt.Errorf("%w: %s not in %s-%s", ErrTimeInvalid, req.From, s.From, s.To)
		}
		return s, nil
	}

	if len(vc.schedules) == 0 {
		return nil, ErrScheduleNotFound
	}
	for i := range vc.schedules {
		if vc.schedules[i].Contains(req.From) {
			s := vc.schedules[i]
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%w: no schedule covers %s", ErrTimeInvalid, req.From)
}

func withoutBooking(bookings []Booking, exclude *Booking) []Booking {
	if exclude == nil {
		return bookings
	}
	out := make([]Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.ID != exclude.ID {
			out = append(out, b)
		}
	}
	return out
}

// Checks

func (p *Pipeline) checkNumberRequirement(_ context.Context, vc *validationContext) (partial, error) {
	req := vc.req
	if req.ContactID == uuid.Nil {
		return partial{}, ErrContactRequired
	}
	if req.reschedule {
		return partial{}, nil
	}
	if req.Channel.Internal() && req.Number == nil {
		return partial{}, ErrNumberRequired
	}
	if !req.Channel.Internal() && req.Number != nil && !req.Verified && req.ProvisionalID == uuid.Nil {
		return partial{}, ErrNumberNotAllowed
	}
	return partial{}, nil
}

func (p *Pipeline) checkAssignment(_ context.Context, vc *validationContext) (partial, error) {
	if vc.assignment == nil || !vc.assignment.Bookable() {
		return partial{}, ErrPractitionerUnavailable
	}
	return partial{practitionerName: vc.assignment.PractitionerName}, nil
}

func (p *Pipeline) checkLeave(_ context.Context, vc *validationContext) (partial, error) {
	if vc.leave != nil {
		return partial{}, fmt.Errorf("%w: on leave %s to %s", ErrPractitionerUnavailable,
			vc.leave.FromDate.Format(time.DateOnly), vc.leave.ToDate.Format(time.DateOnly))
	}
	return partial{}, nil
}

// checkNotes only applies to external channels. Staff booking at the
// desk already see the practitioner's notes.
func (p *Pipeline) checkNotes(_ context.Context, vc *validationContext) (partial, error) {
	var out partial
	if vc.req.Channel.Internal() {
		return out, nil
	}
	for _, n := range vc.notes {
		if !n.Active || !schedule.Covers(n.FromDate, n.ToDate, vc.req.Date) {
			continue
		}
		if n.ImpactsSchedule {
			return partial{}, ErrNoteImpactsSchedule
		}
		out.forceProvisional = true
	}
	return out, nil
}

func (p *Pipeline) checkSchedule(_ context.Context, vc *validationContext) (partial, error) {
	return partial{}, vc.targetErr
}

func (p *Pipeline) checkAllocation(ctx context.Context, vc *validationContext) (partial, error) {
	if vc.target == nil {
		return partial{}, nil
	}
	if vc.slotsErr != nil {
		return partial{}, fmt.Errorf("%w: %v", ErrPractitionerUnavailable, vc.slotsErr)
	}

	req := vc.req
	alloc, err := p.alloc.Allocate(*vc.target, vc.slots, vc.active, req.From, req.Number)
	if err != nil {
		return partial{}, err
	}

	if cutoffApplies(req) {
		edge := alloc.From
		if !vc.target.Type.Partitioned() {
			edge = vc.target.To
		}
		c := &schedule.Cutoff{Now: vc.now, Lead: p.lead}
		if c.Excludes(req.Date, edge, p.loc) {
			return partial{}, fmt.Errorf("%w: %s must be at least %s ahead", ErrLeadTime, edge, p.lead)
		}
	}

	if p.holds != nil {
		holder, err := p.holds.Holder(ctx, vc.target.ID, req.Date, alloc.Number)
		if err != nil {
			if ctx.Err() != nil {
				return partial{}, ctx.Err()
			}
			p.log.Warn("hold lookup failed, treating slot as unheld",
				zap.String("schedule_id", vc.target.ID.String()),
				zap.Int("number", alloc.Number),
				zap.Error(err),
			)
		} else if holder != "" && holder != req.HolderID {
			return partial{}, ErrSlotHeld
		}
	}

	return partial{allocation: &alloc}, nil
}

// cutoffApplies is true for fresh external bookings. Staff channels,
// reschedules and provisional finalisation are exempt.
func cutoffApplies(req Request) bool {
	return !req.Channel.Internal() && !req.reschedule && req.ProvisionalID == uuid.Nil
}

func (p *Pipeline) checkBlock(_ context.Context, vc *validationContext) (partial, error) {
	if vc.target == nil || vc.req.Channel == ChannelAsyncIntake {
		return partial{}, nil
	}
	from, to, ok := requestedWindow(vc)
	if !ok {
		return partial{}, nil
	}
	for _, b := range vc.blocks {
		if b.ScheduleID == vc.target.ID && b.CoversWindow(vc.req.Date, from, to) {
			return partial{}, ErrScheduleBlocked
		}
	}
	return partial{}, nil
}

// requestedWindow is the time range the request would occupy: the whole
// window for FCFS, otherwise the matching slot.
func requestedWindow(vc *validationContext) (schedule.Clock, schedule.Clock, bool) {
	if !vc.target.Type.Partitioned() {
		return vc.target.From, vc.target.To, true
	}
	for _, s := range vc.slots {
		if (vc.req.Number != nil && s.Number == *vc.req.Number) || (vc.req.Number == nil && s.From == vc.req.From) {
			return s.From, s.To, true
		}
	}
	return 0, 0, false
}

func (p *Pipeline) checkDuplicate(ctx context.Context, vc *validationContext) (partial, error) {
	req := vc.req
	if req.reschedule && req.prior != nil && schedule.SameDate(req.prior.Date, req.Date) {
		return partial{}, nil
	}
	existing, err := p.repo.FindActiveByContact(ctx, req.ContactID, req.PractitionerID, req.Date, TrackConfirmed)
	if err != nil {
		return partial{}, fmt.Errorf("find bookings by contact: %w", err)
	}
	if len(withoutBooking(existing, req.prior)) > 0 {
		return partial{}, ErrDuplicateBooking
	}
	return partial{}, nil
}

func (p *Pipeline) checkDuplicateProvisional(ctx context.Context, vc *validationContext) (partial, error) {
	req := vc.req
	existing, err := p.repo.FindActiveProvisional(ctx, signatureOf(req), req.PractitionerID, req.Date)
	if err != nil {
		return partial{}, fmt.Errorf("find provisional bookings: %w", err)
	}
	for _, b := range withoutBooking(existing, req.prior) {
		if b.ID != req.ProvisionalID {
			return partial{}, ErrDuplicateProvisional
		}
	}
	return partial{}, nil
}

// signatureOf scopes the provisional identity by channel: web and chatbot
// users are anonymous until verified, so they are matched on what they
// typed; everyone else has a resolved contact.
func signatureOf(req Request) Signature {
	if req.Channel == ChannelWebsite || req.Channel == ChannelChatbot {
		return Signature{
			Name:      strings.ToUpper(strings.TrimSpace(req.Name)),
			BirthDate: req.BirthDate,
			Phone:     strings.TrimSpace(req.Phone),
		}
	}
	return Signature{ContactID: req.ContactID}
}

func (p *Pipeline) checkCheckedIn(_ context.Context, vc *validationContext) (partial, error) {
	if vc.req.reschedule && vc.req.prior != nil && vc.req.prior.CheckedIn() {
		return partial{}, ErrCheckedIn
	}
	return partial{}, nil
}
