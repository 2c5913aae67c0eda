package booking

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-slot-booking/internal/schedule"
)

var (
	testNow      = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC) // Monday
	nextMonday   = time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC)
	nextTuesday  = time.Date(2026, 10, 27, 0, 0, 0, 0, time.UTC)
	practitioner = uuid.MustParse("7f1b7a52-53d3-4bd3-9a53-1c1f7c8b0a01")
	facility     = uuid.MustParse("0c5d4f6e-2b1a-4d8e-8f3c-6a7b9c0d1e02")
)

// memRepo enforces the same ACTIVE number uniqueness as the partial index.
type memRepo struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*Booking
	events   []EventLog
	failOn   map[string]error
}

func newMemRepo() *memRepo {
	return &memRepo{bookings: map[uuid.UUID]*Booking{}, failOn: map[string]error{}}
}

func (r *memRepo) fail(op string) error {
	return r.failOn[op]
}

func (r *memRepo) numberTakenLocked(b Booking) bool {
	for _, o := range r.bookings {
		if o.Status == StatusActive && o.ScheduleID == b.ScheduleID && o.Date.Equal(b.Date) && o.Number == b.Number {
			return true
		}
	}
	return false
}

func (r *memRepo) insertLocked(b Booking) (*Booking, error) {
	if b.Status == StatusActive && r.numberTakenLocked(b) {
		return nil, ErrNumberUnavailable
	}
	b.CreatedAt = testNow
	b.ModifiedAt = testNow
	stored := b
	r.bookings[b.ID] = &stored
	out := stored
	return &out, nil
}

func (r *memRepo) put(b Booking) *Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, err := r.insertLocked(b)
	if err != nil {
		panic(err)
	}
	return out
}

func (r *memRepo) snapshot(id uuid.UUID) Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.bookings[id]
}

func (r *memRepo) count(pred func(Booking) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.bookings {
		if pred(*b) {
			n++
		}
	}
	return n
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventType
	}
	return out
}

func (r *memRepo) filter(pred func(Booking) bool) []Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if pred(*b) {
			out = append(out, *b)
		}
	}
	return out
}

func (r *memRepo) Insert(_ context.Context, b Booking) (*Booking, error) {
	if err := r.fail("Insert"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(b)
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	out := *b
	return &out, nil
}

func (r *memRepo) List(_ context.Context, f ListFilter) ([]Booking, error) {
	out := r.filter(func(b Booking) bool {
		return b.PractitionerID == f.PractitionerID && b.FacilityID == f.FacilityID && b.Date.Equal(f.Date) &&
			(f.Status == "" || b.Status == f.Status)
	})
	slices.SortStableFunc(out, func(a, b Booking) int { return cmp.Compare(a.Number, b.Number) })
	return out, nil
}

func (r *memRepo) ActiveForScheduleDate(_ context.Context, scheduleID uuid.UUID, date time.Time) ([]Booking, error) {
	return r.filter(func(b Booking) bool {
		return b.Status == StatusActive && b.ScheduleID == scheduleID && b.Date.Equal(date)
	}), nil
}

func (r *memRepo) FindActiveByContact(_ context.Context, contactID, practitionerID uuid.UUID, date time.Time, track Track) ([]Booking, error) {
	return r.filter(func(b Booking) bool {
		return b.Status == StatusActive && b.Track == track && b.ContactID == contactID &&
			b.PractitionerID == practitionerID && b.Date.Equal(date) && !b.CheckedIn()
	}), nil
}

func (r *memRepo) FindActiveProvisional(_ context.Context, sig Signature, practitionerID uuid.UUID, date time.Time) ([]Booking, error) {
	return r.filter(func(b Booking) bool {
		if b.Status != StatusActive || b.Track != TrackProvisional || b.PractitionerID != practitionerID || !b.Date.Equal(date) {
			return false
		}
		if sig.ContactID != uuid.Nil {
			return b.ContactID == sig.ContactID
		}
		return strings.ToUpper(b.ContactName) == sig.Name && b.BirthDate != nil &&
			b.BirthDate.Equal(sig.BirthDate) && b.Phone == sig.Phone
	}), nil
}

func (r *memRepo) Transition(_ context.Context, id uuid.UUID, from, to Status, actor string) (*Booking, error) {
	if err := r.fail("Transition"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != from || !from.CanTransition(to) {
		return nil, ErrInvalidTransition
	}
	b.Status = to
	b.ModifiedBy = actor
	out := *b
	return &out, nil
}

func (r *memRepo) Replace(_ context.Context, oldID uuid.UUID, from Status, b Booking) (*Booking, error) {
	if err := r.fail("Replace"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.bookings[oldID]
	if !ok || old.Status != from || old.RescheduledTo != nil {
		return nil, ErrInvalidTransition
	}
	prev := *old
	old.Status = StatusRescheduled
	id := b.ID
	old.RescheduledTo = &id
	created, err := r.insertLocked(b)
	if err != nil {
		*old = prev
		return nil, err
	}
	return created, nil
}

func (r *memRepo) AttachAdmission(_ context.Context, id uuid.UUID, admissionID, actor string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != StatusActive || b.AdmissionID != nil {
		return nil, ErrInvalidTransition
	}
	b.AdmissionID = &admissionID
	b.ModifiedBy = actor
	out := *b
	return &out, nil
}

func (r *memRepo) ListActiveConfirmedForSchedule(_ context.Context, scheduleID uuid.UUID, fromDate time.Time) ([]Booking, error) {
	return r.filter(func(b Booking) bool {
		return b.Status == StatusActive && b.Track == TrackConfirmed && b.ScheduleID == scheduleID && !b.Date.Before(fromDate)
	}), nil
}

func (r *memRepo) ListActiveConfirmedByIDs(_ context.Context, ids []uuid.UUID) ([]Booking, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	return r.filter(func(b Booking) bool {
		return want[b.ID] && b.Status == StatusActive && b.Track == TrackConfirmed
	}), nil
}

func (r *memRepo) HasProvisionalCounterpart(_ context.Context, c Booking) (bool, error) {
	return len(r.filter(func(b Booking) bool {
		return b.Track == TrackProvisional && b.Status == StatusActive && b.ContactID == c.ContactID &&
			b.PractitionerID == c.PractitionerID && b.Date.Equal(c.Date)
	})) > 0, nil
}

func (r *memRepo) ListWorklist(_ context.Context, facilityID uuid.UUID, from, to time.Time) ([]Booking, error) {
	return r.filter(func(b Booking) bool {
		return b.OnWorklist() && schedule.Covers(from, to, b.Date) &&
			(facilityID == uuid.Nil || b.FacilityID == facilityID)
	}), nil
}

func (r *memRepo) CountWorklist(ctx context.Context, facilityID uuid.UUID, from, to time.Time) (int, error) {
	list, err := r.ListWorklist(ctx, facilityID, from, to)
	return len(list), err
}

func (r *memRepo) CountActiveProvisional(_ context.Context, facilityID uuid.UUID, date time.Time) (int, error) {
	return r.count(func(b Booking) bool {
		return b.Track == TrackProvisional && b.Status == StatusActive && b.FacilityID == facilityID && b.Date.Equal(date)
	}), nil
}

func (r *memRepo) ListExpiredProvisional(_ context.Context, before time.Time) ([]Booking, error) {
	return r.filter(func(b Booking) bool {
		return b.Track == TrackProvisional && b.Status == StatusActive && b.Date.Before(before)
	}), nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) EventsFor(_ context.Context, bookingID uuid.UUID) ([]EventLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventLog
	for i := len(r.events) - 1; i >= 0; i-- {
		if ev := r.events[i]; ev.BookingID != nil && *ev.BookingID == bookingID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	schedules  []schedule.Schedule
	blocks     []schedule.Block
	leave      *schedule.Leave
	assignment *schedule.Assignment
	notes      []schedule.Note
}

func (c *fakeCatalog) SchedulesForDay(_ context.Context, practitionerID, facilityID uuid.UUID, date time.Time) ([]schedule.Schedule, error) {
	var rows []schedule.Schedule
	for _, s := range c.schedules {
		if s.PractitionerID == practitionerID && s.FacilityID == facilityID {
			rows = append(rows, s)
		}
	}
	return schedule.Effective(rows, date), nil
}

func (c *fakeCatalog) ScheduleByID(_ context.Context, id uuid.UUID, date time.Time) (*schedule.Schedule, error) {
	for _, s := range c.schedules {
		if s.ID == id && s.Status == schedule.StatusActive && s.InEffect(c.schedules, date) {
			out := s
			return &out, nil
		}
	}
	return nil, schedule.ErrScheduleNotFound
}

func (c *fakeCatalog) BlocksFor(_ context.Context, ids []uuid.UUID, date time.Time) ([]schedule.Block, error) {
	var out []schedule.Block
	for _, b := range c.blocks {
		for _, id := range ids {
			if b.ScheduleID == id && b.Active && schedule.Covers(b.FromDate, b.ToDate, date) {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func (c *fakeCatalog) LeaveOn(_ context.Context, _, _ uuid.UUID, date time.Time) (*schedule.Leave, error) {
	if c.leave != nil && schedule.Covers(c.leave.FromDate, c.leave.ToDate, date) {
		return c.leave, nil
	}
	return nil, nil
}

func (c *fakeCatalog) AssignmentAsOf(_ context.Context, _, _ uuid.UUID, _ time.Time) (*schedule.Assignment, error) {
	if c.assignment == nil {
		return nil, schedule.ErrAssignmentNotFound
	}
	return c.assignment, nil
}

func (c *fakeCatalog) NotesOn(_ context.Context, _, _ uuid.UUID, _ time.Time) ([]schedule.Note, error) {
	return c.notes, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	created   []uuid.UUID
	cancelled []string
	createErr error
	cancelErr error
	// cancelFails lists external ids whose cancel fails.
	cancelFails map[string]bool
}

func (g *fakeGateway) CreateBooking(_ context.Context, b Booking) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.created = append(g.created, b.ID)
	return "HIS-" + b.ID.String()[:8], nil
}

func (g *fakeGateway) CancelBooking(_ context.Context, externalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	if g.cancelFails[externalID] {
		return errors.New("his rejected cancel")
	}
	g.cancelled = append(g.cancelled, externalID)
	return nil
}

func (g *fakeGateway) cancelledCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancelled)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *fakePublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) find(eventType string) *Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == eventType {
			ev := p.events[i]
			return &ev
		}
	}
	return nil
}

// fakeContacts resolves by id when given, otherwise issues a stable id per
// upper-cased name.
type fakeContacts struct {
	mu       sync.Mutex
	byName   map[string]uuid.UUID
	enrolled map[uuid.UUID]bool
	err      error
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{byName: map[string]uuid.UUID{}, enrolled: map[uuid.UUID]bool{}}
}

func (c *fakeContacts) Resolve(_ context.Context, q ContactQuery) (*Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	id := q.ContactID
	if id == uuid.Nil {
		key := strings.ToUpper(q.Name)
		var ok bool
		if id, ok = c.byName[key]; !ok {
			id = uuid.New()
			c.byName[key] = id
		}
	}
	return &Contact{ID: id, Name: q.Name, BirthDate: q.BirthDate, Phone: q.Phone, Enrolled: c.enrolled[id]}, nil
}

type fakeHolds map[int]string

func (h fakeHolds) Holder(_ context.Context, _ uuid.UUID, _ time.Time, number int) (string, error) {
	return h[number], nil
}

type harness struct {
	repo     *memRepo
	catalog  *fakeCatalog
	his      *fakeGateway
	events   *fakePublisher
	contacts *fakeContacts
	pipeline *Pipeline
	manager  *Manager
}

func newHarness(t *testing.T, schedules ...schedule.Schedule) *harness {
	t.Helper()
	h := &harness{
		repo: newMemRepo(),
		catalog: &fakeCatalog{
			schedules: schedules,
			assignment: &schedule.Assignment{
				PractitionerID:   practitioner,
				FacilityID:       facility,
				PractitionerName: "Dr. Ayu Lestari",
				Status:           schedule.AssignmentActive,
				Type:             schedule.TypeFixed,
			},
		},
		his:      &fakeGateway{cancelFails: map[string]bool{}},
		events:   &fakePublisher{},
		contacts: newFakeContacts(),
	}
	h.pipeline = NewPipeline(h.catalog, h.repo, nil, schedule.NewGenerator(0), 4*time.Hour, time.UTC, zap.NewNop())
	h.pipeline.now = func() time.Time { return testNow }
	h.manager = NewManager(h.repo, h.catalog, h.pipeline, h.his, h.events, h.contacts,
		ManagerConfig{Location: time.UTC, WorklistHorizon: 7 * 24 * time.Hour}, zap.NewNop())
	h.manager.now = func() time.Time { return testNow }
	return h
}

func fixedSchedule(from, to schedule.Clock, reservation, walkin int) schedule.Schedule {
	return schedule.Schedule{
		ID:             uuid.New(),
		PractitionerID: practitioner,
		FacilityID:     facility,
		Day:            time.Monday,
		From:           from,
		To:             to,
		Type:           schedule.TypeFixed,
		Capacity:       schedule.Capacity{Quota: reservation + walkin, Reservation: reservation, Walkin: walkin},
		Status:         schedule.StatusActive,
	}
}

func fcfsSchedule(from, to schedule.Clock) schedule.Schedule {
	s := fixedSchedule(from, to, 0, 0)
	s.Type = schedule.TypeFCFS
	s.Capacity = schedule.Capacity{Quota: 30}
	return s
}

func intp(n int) *int { return &n }

// staffRequest is a front office booking for a fresh contact.
func staffRequest(s schedule.Schedule, from schedule.Clock, number int) Request {
	return Request{
		PractitionerID: practitioner,
		FacilityID:     facility,
		ScheduleID:     s.ID,
		Date:           nextMonday,
		From:           from,
		Number:         intp(number),
		Channel:        ChannelFrontOffice,
		ContactID:      uuid.New(),
		Name:           "Budi Santoso",
		BirthDate:      time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
		Phone:          "08123456789",
		Actor:          "fo-desk-1",
	}
}

// webRequest is an anonymous website booking by time.
func webRequest(from schedule.Clock, name string) Request {
	return Request{
		PractitionerID: practitioner,
		FacilityID:     facility,
		Date:           nextMonday,
		From:           from,
		Channel:        ChannelWebsite,
		Name:           name,
		BirthDate:      time.Date(1985, 2, 14, 0, 0, 0, 0, time.UTC),
		Phone:          "08987654321",
		HolderID:       "browser-" + name,
		Actor:          "web",
	}
}
