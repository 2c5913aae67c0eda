package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

// worklistFanOut bounds concurrent external cancels during a bulk move.
const worklistFanOut = 8

type Manager struct {
	repo     Repository
	catalog  schedule.Catalog
	pipeline *Pipeline
	his      Gateway
	events   Publisher
	contacts ContactResolver
	log      *zap.Logger
	loc      *time.Location
	horizon  time.Duration
	now      func() time.Time
}

type ManagerConfig struct {
	Location        *time.Location
	WorklistHorizon time.Duration
}

func NewManager(repo Repository, catalog schedule.Catalog, pipeline *Pipeline, his Gateway, events Publisher, contacts ContactResolver, cfg ManagerConfig, log *zap.Logger) *Manager {
	return &Manager{
		repo:     repo,
		catalog:  catalog,
		pipeline: pipeline,
		his:      his,
		events:   events,
		contacts: contacts,
		log:      log,
		loc:      cfg.Location,
		horizon:  cfg.WorklistHorizon,
		now:      time.Now,
	}
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// Book resolves the contact, validates the request and creates the
// booking on the track it qualifies for. A request carrying a
// ProvisionalID finalises that provisional booking into a confirmed one.
func (m *Manager) Book(ctx context.Context, req Request) (*Booking, error) {
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, req.Channel)
	}

	contact, err := m.contacts.Resolve(ctx, ContactQuery{
		ContactID:  req.ContactID,
		Name:       req.Name,
		BirthDate:  req.BirthDate,
		Phone:      req.Phone,
		FacilityID: req.FacilityID,
		Channel:    req.Channel,
	})
	if err != nil {
		if errors.Is(err, ErrIdentity) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrIdentity, err)
	}
	req.ContactID = contact.ID
	if req.Name == "" {
		req.Name = contact.Name
	}
	if req.BirthDate.IsZero() {
		req.BirthDate = contact.BirthDate
	}
	if req.Phone == "" {
		req.Phone = contact.Phone
	}

	if req.ProvisionalID != uuid.Nil {
		prov, err := m.repo.Get(ctx, req.ProvisionalID)
		if err != nil {
			return nil, fmt.Errorf("load provisional booking: %w", err)
		}
		if prov.Track != TrackProvisional || prov.Status != StatusActive {
			return nil, fmt.Errorf("%w: booking %s is not an active provisional booking", ErrInvalidTransition, prov.ID)
		}
		req.prior = prov
	}

	adm, err := m.pipeline.Validate(ctx, req)
	if err != nil {
		return nil, err
	}

	b := newBooking(req, adm, decideTrack(req, contact, adm))
	if req.prior != nil {
		b.OriginID = &req.prior.ID
	}
	return m.create(ctx, b, req.prior)
}

// decideTrack routes staff bookings, enrolled contacts, verified users and
// provisional finalisation to the confirmed track. A non-impacting note
// keeps external bookings provisional regardless.
func decideTrack(req Request, contact *Contact, adm *Admission) Track {
	if req.Channel.Internal() {
		return TrackConfirmed
	}
	if adm.ForceProvisional {
		return TrackProvisional
	}
	if contact.Enrolled || req.Verified || req.ProvisionalID != uuid.Nil {
		return TrackConfirmed
	}
	return TrackProvisional
}

func newBooking(req Request, adm *Admission, track Track) Booking {
	b := Booking{
		ID:             uuid.New(),
		Track:          track,
		ContactID:      req.ContactID,
		ContactName:    req.Name,
		Phone:          req.Phone,
		PractitionerID: req.PractitionerID,
		FacilityID:     req.FacilityID,
		ScheduleID:     adm.Schedule.ID,
		Date:           req.Date,
		Number:         adm.Number,
		From:           adm.From,
		To:             adm.To,
		Status:         StatusActive,
		Channel:        req.Channel,
		CreatedBy:      req.Actor,
		ModifiedBy:     req.Actor,
	}
	if !req.BirthDate.IsZero() {
		bd := req.BirthDate
		b.BirthDate = &bd
	}
	return b
}

// create syncs confirmed bookings to the external system before anything
// is stored, then persists. replaces, when set, is marked RESCHEDULED
// pointing at the new record in the same transaction.
func (m *Manager) create(ctx context.Context, b Booking, replaces *Booking) (*Booking, error) {
	if b.Track == TrackConfirmed {
		externalID, err := m.his.CreateBooking(ctx, b)
		if err != nil {
			m.log.Error("external create failed",
				zap.String("schedule_id", b.ScheduleID.String()),
				zap.Int("number", b.Number),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: create: %v", ErrExternalSync, err)
		}
		b.ExternalID = &externalID
	}

	var (
		saved *Booking
		err   error
	)
	if replaces != nil {
		saved, err = m.repo.Replace(ctx, replaces.ID, replaces.Status, b)
	} else {
		saved, err = m.repo.Insert(ctx, b)
	}
	if err != nil {
		if b.ExternalID != nil {
			// The external record now has no local counterpart.
			m.cancelExternalBestEffort(ctx, *b.ExternalID)
		}
		if errors.Is(err, ErrNumberUnavailable) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("persist booking: %w", err)
	}

	m.emit(ctx, EventBookingCreated, &saved.ID, map[string]any{
		"track":       saved.Track,
		"schedule_id": saved.ScheduleID,
		"date":        saved.Date.Format(time.DateOnly),
		"number":      saved.Number,
		"channel":     saved.Channel,
	})
	if saved.Track == TrackProvisional || (replaces != nil && replaces.Track == TrackProvisional) {
		m.emitProvisionalCount(ctx, saved.FacilityID, saved.Date)
	}
	return saved, nil
}

func (m *Manager) cancelExternalBestEffort(ctx context.Context, externalID string) {
	if err := m.his.CancelBooking(context.WithoutCancel(ctx), externalID); err != nil {
		m.log.Error("failed to cancel orphaned external booking",
			zap.String("external_id", externalID),
			zap.Error(err),
		)
	}
}

// Cancel cancels a booking. Confirmed bookings are cancelled externally
// first and only marked CANCELLED when that succeeds. Cancelling an
// already cancelled booking returns it unchanged.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID, actor string) (*Booking, error) {
	b, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}

	switch b.Status {
	case StatusCancelled:
		return b, nil
	case StatusRescheduled:
		return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
	}
	if b.CheckedIn() {
		return nil, ErrCheckedIn
	}

	if b.Track == TrackConfirmed && b.ExternalID != nil {
		if err := m.his.CancelBooking(ctx, *b.ExternalID); err != nil {
			return nil, fmt.Errorf("%w: cancel: %v", ErrExternalSync, err)
		}
	}

	updated, err := m.repo.Transition(ctx, b.ID, StatusActive, StatusCancelled, actor)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// Lost a race with another cancel.
			if cur, getErr := m.repo.Get(ctx, b.ID); getErr == nil && cur.Status == StatusCancelled {
				return cur, nil
			}
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	m.emit(ctx, EventBookingCancelled, &updated.ID, map[string]any{
		"track":  updated.Track,
		"reason": "cancel",
	})
	if updated.Track == TrackProvisional {
		m.emitProvisionalCount(ctx, updated.FacilityID, updated.Date)
	}
	return updated, nil
}

type RescheduleRequest struct {
	ScheduleID uuid.UUID
	Date       time.Time
	From       schedule.Clock
	Number     *int
	Channel    Channel
	HolderID   string
	Actor      string
}

// Reschedule moves a booking to a new date or time. The old external
// booking is cancelled before the new one is validated; if the new one
// cannot be created after that, the old booking is marked CANCELLED and a
// *RescheduleError is returned so the caller can rebook manually.
func (m *Manager) Reschedule(ctx context.Context, id uuid.UUID, in RescheduleRequest) (*Booking, error) {
	old, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if old.CheckedIn() {
		return nil, ErrCheckedIn
	}
	if old.Status != StatusActive && !old.OnWorklist() {
		return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, old.ID, old.Status)
	}

	// Worklist entries were already cancelled externally when they were
	// moved.
	cancelledExternally := false
	if old.Status == StatusActive && old.Track == TrackConfirmed && old.ExternalID != nil {
		if err := m.his.CancelBooking(ctx, *old.ExternalID); err != nil {
			return nil, fmt.Errorf("%w: cancel: %v", ErrExternalSync, err)
		}
		cancelledExternally = true
	}

	channel := in.Channel
	if channel == "" {
		channel = old.Channel
	}
	req := Request{
		PractitionerID: old.PractitionerID,
		FacilityID:     old.FacilityID,
		ScheduleID:     in.ScheduleID,
		Date:           in.Date,
		From:           in.From,
		Number:         in.Number,
		Channel:        channel,
		ContactID:      old.ContactID,
		Name:           old.ContactName,
		Phone:          old.Phone,
		HolderID:       in.HolderID,
		Actor:          in.Actor,
		prior:          old,
		reschedule:     true,
	}
	if old.BirthDate != nil {
		req.BirthDate = *old.BirthDate
	}

	created, err := m.rebook(ctx, req, old)
	if err != nil {
		if !cancelledExternally {
			return nil, err
		}
		return nil, &RescheduleError{Original: m.abandon(ctx, old, in.Actor), Cause: err}
	}

	m.emit(ctx, EventBookingRescheduled, &created.ID, map[string]any{
		"before": snapshot(old),
		"after":  snapshot(created),
	})
	if old.OnWorklist() {
		m.emitWorklistCount(ctx, old.FacilityID)
	}
	return created, nil
}

func (m *Manager) rebook(ctx context.Context, req Request, old *Booking) (*Booking, error) {
	adm, err := m.pipeline.Validate(ctx, req)
	if err != nil {
		return nil, err
	}
	track := old.Track
	if adm.ForceProvisional && !req.Channel.Internal() {
		track = TrackProvisional
	}
	b := newBooking(req, adm, track)
	b.OriginID = &old.ID
	b.CreatedBy = req.Actor
	return m.create(ctx, b, old)
}

// abandon marks a booking whose external record is gone as CANCELLED. The
// returned value is the best known state of the record.
func (m *Manager) abandon(ctx context.Context, b *Booking, actor string) *Booking {
	ctx = context.WithoutCancel(ctx)
	updated, err := m.repo.Transition(ctx, b.ID, StatusActive, StatusCancelled, actor)
	if err != nil {
		m.log.Error("failed to cancel booking after failed reschedule",
			zap.String("booking_id", b.ID.String()),
			zap.Error(err),
		)
		return b
	}
	m.emit(ctx, EventBookingCancelled, &updated.ID, map[string]any{
		"track":  updated.Track,
		"reason": "reschedule_failed",
	})
	return updated
}

// Promote converts a provisional booking into a confirmed one with the
// same number once the person's identity has been verified.
func (m *Manager) Promote(ctx context.Context, id uuid.UUID, actor string) (*Booking, error) {
	p, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if p.Track != TrackProvisional || (p.Status != StatusActive && !p.OnWorklist()) {
		return nil, fmt.Errorf("%w: booking %s cannot be promoted", ErrInvalidTransition, p.ID)
	}

	b := *p
	b.ID = uuid.New()
	b.Track = TrackConfirmed
	b.Status = StatusActive
	b.ExternalID = nil
	b.RescheduledTo = nil
	b.OriginID = &p.ID
	b.CreatedBy = actor
	b.ModifiedBy = actor
	return m.create(ctx, b, p)
}

// CheckIn links a confirmed booking to an admission. Checked-in bookings
// can no longer be cancelled or rescheduled.
func (m *Manager) CheckIn(ctx context.Context, id uuid.UUID, admissionID, actor string) (*Booking, error) {
	b, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b.Track != TrackConfirmed || b.Status != StatusActive {
		return nil, fmt.Errorf("%w: only active confirmed bookings can be checked in", ErrInvalidTransition)
	}
	if b.CheckedIn() {
		return nil, ErrCheckedIn
	}
	updated, err := m.repo.AttachAdmission(ctx, id, admissionID, actor)
	if err != nil {
		return nil, fmt.Errorf("check in booking: %w", err)
	}
	return updated, nil
}

// ExpireProvisional cancels provisional bookings whose date has passed
// without verification. It is intended to be called by the worker
// periodically.
func (m *Manager) ExpireProvisional(ctx context.Context) (int, error) {
	today := schedule.DateOf(m.now(), m.loc)
	expired, err := m.repo.ListExpiredProvisional(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("find expired provisional bookings: %w", err)
	}

	type day struct {
		facility uuid.UUID
		date     time.Time
	}
	touched := map[day]bool{}
	n := 0
	for _, b := range expired {
		updated, err := m.repo.Transition(ctx, b.ID, StatusActive, StatusCancelled, "expiry-worker")
		if err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				m.log.Warn("failed to expire provisional booking",
					zap.String("booking_id", b.ID.String()),
					zap.Error(err),
				)
			}
			continue
		}
		n++
		touched[day{updated.FacilityID, updated.Date}] = true
		m.emit(ctx, EventBookingCancelled, &updated.ID, map[string]any{
			"track":  updated.Track,
			"reason": "expired",
		})
	}
	for d := range touched {
		m.emitProvisionalCount(ctx, d.facility, d.date)
	}
	return n, nil
}

type WorklistRequest struct {
	ScheduleID uuid.UUID
	FromDate   time.Time
	IDs        []uuid.UUID
	Actor      string
}

type WorklistOutcome string

const (
	OutcomeMoved          WorklistOutcome = "moved"
	OutcomeSkipped        WorklistOutcome = "skipped"
	OutcomeFailed         WorklistOutcome = "failed"
	OutcomeExternalFailed WorklistOutcome = "external_failed"
)

type WorklistItem struct {
	BookingID uuid.UUID       `json:"booking_id"`
	Outcome   WorklistOutcome `json:"outcome"`
	Error     string          `json:"error,omitempty"`
}

// WorklistResult carries the per-item outcomes and, for every facility
// touched, the size of its worklist afterwards.
type WorklistResult struct {
	Items   []WorklistItem    `json:"items"`
	Backlog map[uuid.UUID]int `json:"backlog"`
}

// MoveToWorklist takes active confirmed bookings off their schedule for
// manual rescheduling. Local status changes happen first; external
// cancels then run independently and a failed cancel is reported per item
// without rolling the local change back. Bookings whose contact already
// holds an active provisional booking for the same practitioner and date
// are skipped.
func (m *Manager) MoveToWorklist(ctx context.Context, in WorklistRequest) (*WorklistResult, error) {
	var (
		candidates []Booking
		err        error
	)
	switch {
	case len(in.IDs) > 0:
		candidates, err = m.repo.ListActiveConfirmedByIDs(ctx, in.IDs)
	case in.ScheduleID != uuid.Nil:
		fromDate := in.FromDate
		if fromDate.IsZero() {
			fromDate = schedule.DateOf(m.now(), m.loc)
		}
		candidates, err = m.repo.ListActiveConfirmedForSchedule(ctx, in.ScheduleID, fromDate)
	default:
		return nil, fmt.Errorf("%w: schedule id or booking ids required", ErrInvalidRequest)
	}
	if err != nil {
		return nil, fmt.Errorf("list worklist candidates: %w", err)
	}

	items := make([]WorklistItem, len(candidates))
	var moved []int
	for i, c := range candidates {
		items[i].BookingID = c.ID
		if c.CheckedIn() {
			items[i].Outcome, items[i].Error = OutcomeSkipped, ErrCheckedIn.Message
			continue
		}
		has, err := m.repo.HasProvisionalCounterpart(ctx, c)
		if err != nil {
			items[i].Outcome, items[i].Error = OutcomeFailed, err.Error()
			continue
		}
		if has {
			items[i].Outcome = OutcomeSkipped
			continue
		}
		if _, err := m.repo.Transition(ctx, c.ID, StatusActive, StatusRescheduled, in.Actor); err != nil {
			items[i].Outcome, items[i].Error = OutcomeFailed, err.Error()
			continue
		}
		items[i].Outcome = OutcomeMoved
		moved = append(moved, i)
		m.emit(ctx, EventBookingWorklisted, &c.ID, map[string]any{
			"schedule_id": c.ScheduleID,
			"date":        c.Date.Format(time.DateOnly),
		})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(worklistFanOut)
	for _, i := range moved {
		c := candidates[i]
		if c.ExternalID == nil {
			continue
		}
		g.Go(func() error {
			if err := m.his.CancelBooking(gctx, *c.ExternalID); err != nil {
				m.log.Error("worklist external cancel failed",
					zap.String("booking_id", c.ID.String()),
					zap.Error(err),
				)
				mu.Lock()
				items[i].Outcome, items[i].Error = OutcomeExternalFailed, err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &WorklistResult{Items: items, Backlog: map[uuid.UUID]int{}}
	for _, c := range candidates {
		if _, ok := res.Backlog[c.FacilityID]; !ok {
			res.Backlog[c.FacilityID] = m.emitWorklistCount(ctx, c.FacilityID)
		}
	}
	return res, nil
}

// Worklist lists bookings waiting for a replacement, dated in [from, to].
// A nil facilityID lists every facility.
func (m *Manager) Worklist(ctx context.Context, facilityID uuid.UUID, from, to time.Time) ([]Booking, error) {
	list, err := m.repo.ListWorklist(ctx, facilityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list worklist: %w", err)
	}
	return list, nil
}

func (m *Manager) emitProvisionalCount(ctx context.Context, facilityID uuid.UUID, date time.Time) {
	n, err := m.repo.CountActiveProvisional(ctx, facilityID, date)
	if err != nil {
		m.log.Warn("failed to count provisional bookings", zap.Error(err))
		return
	}
	m.emit(ctx, EventProvisionalCount, nil, map[string]any{
		"facility_id": facilityID,
		"date":        date.Format(time.DateOnly),
		"count":       n,
	})
}

func (m *Manager) emitWorklistCount(ctx context.Context, facilityID uuid.UUID) int {
	today := schedule.DateOf(m.now(), m.loc)
	n, err := m.Backlog(ctx, facilityID)
	if err != nil {
		m.log.Warn("failed to count worklist", zap.String("facility_id", facilityID.String()), zap.Error(err))
		return 0
	}
	m.emit(ctx, EventWorklistCount, nil, map[string]any{
		"facility_id": facilityID,
		"from":        today.Format(time.DateOnly),
		"to":          today.Add(m.horizon).Format(time.DateOnly),
		"count":       n,
	})
	return n
}

// emit appends the event to the event log and publishes it. Both are best
// effort.
func (m *Manager) emit(ctx context.Context, eventType string, bookingID *uuid.UUID, payload map[string]any) {
	ctx = context.WithoutCancel(ctx)
	now := m.now()

	data, err := json.Marshal(payload)
	if err != nil {
		m.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}
	if err := m.repo.InsertEvent(ctx, EventLog{
		EventType: eventType,
		BookingID: bookingID,
		Payload:   data,
		CreatedAt: now,
	}); err != nil {
		m.log.Warn("failed to insert event log", zap.String("event", eventType), zap.Error(err))
	}

	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, Event{Type: eventType, BookingID: bookingID, Payload: payload, OccurredAt: now}); err != nil {
		m.log.Warn("failed to publish event", zap.String("event", eventType), zap.Error(err))
	}
}

func snapshot(b *Booking) map[string]any {
	return map[string]any{
		"id":          b.ID,
		"track":       b.Track,
		"status":      b.Status,
		"schedule_id": b.ScheduleID,
		"date":        b.Date.Format(time.DateOnly),
		"number":      b.Number,
		"from":        b.From.String(),
		"to":          b.To.String(),
	}
}
