package command

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubetribe/klassenbuch-server/internal/domain/behavior"
	"github.com/cubetribe/klassenbuch-server/internal/domain/course"
	"github.com/cubetribe/klassenbuch-server/internal/domain/shared"
	"github.com/cubetribe/klassenbuch-server/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeStore struct {
	mu       sync.Mutex
	students map[uuid.UUID]student.Student
	courses  map[uuid.UUID]course.Course
	events   []*behavior.Event
	inTx     bool

	failUpdateState bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		students: make(map[uuid.UUID]student.Student),
		courses:  make(map[uuid.UUID]course.Course),
	}
}

func (s *fakeStore) Students() student.Repository     { return (*fakeStudentRepo)(s) }
func (s *fakeStore) Courses() course.Repository       { return (*fakeCourseRepo)(s) }
func (s *fakeStore) Events() behavior.EventRepository { return (*fakeEventRepo)(s) }

// WithinTx snapshots state before fn and restores it when fn fails, so
// atomicity is observable in tests.
func (s *fakeStore) WithinTx(ctx context.Context, fn func(r Repos) error) error {
	s.mu.Lock()
	students := make(map[uuid.UUID]student.Student, len(s.students))
	for k, v := range s.students {
		students[k] = v
	}
	courses := make(map[uuid.UUID]course.Course, len(s.courses))
	for k, v := range s.courses {
		courses[k] = v
	}
	eventsLen := len(s.events)
	s.inTx = true
	s.mu.Unlock()

	err := fn(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	if err != nil {
		s.students = students
		s.courses = courses
		s.events = s.events[:eventsLen]
	}
	return err
}

type fakeStudentRepo fakeStore

func (r *fakeStudentRepo) Create(_ context.Context, s *student.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.students[s.ID] = *s
	return nil
}

func (r *fakeStudentRepo) GetByID(_ context.Context, id uuid.UUID) (*student.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	cp := s
	return &cp, nil
}

func (r *fakeStudentRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*student.Student, error) {
	out := make([]*student.Student, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeStudentRepo) ListByCourse(_ context.Context, courseID uuid.UUID, activeOnly bool) ([]*student.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*student.Student
	for _, s := range r.students {
		if s.CourseID != courseID {
			continue
		}
		if activeOnly && !s.Active {
			continue
		}
		cp := s
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeStudentRepo) UpdateState(_ context.Context, s *student.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdateState {
		return shared.ErrStudentNotFound
	}
	if _, ok := r.students[s.ID]; !ok {
		return shared.ErrStudentNotFound
	}
	r.students[s.ID] = *s
	return nil
}

func (r *fakeStudentRepo) Rename(_ context.Context, id uuid.UUID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		return shared.ErrStudentNotFound
	}
	s.DisplayName = name
	r.students[id] = s
	return nil
}

type fakeCourseRepo fakeStore

func (r *fakeCourseRepo) Create(_ context.Context, c *course.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses[c.ID] = *c
	return nil
}

func (r *fakeCourseRepo) GetByID(_ context.Context, id uuid.UUID) (*course.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[id]
	if !ok {
		return nil, shared.ErrCourseNotFound
	}
	cp := c
	return &cp, nil
}

func (r *fakeCourseRepo) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]*course.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*course.Course
	for _, c := range r.courses {
		if c.OwnerID == ownerID {
			cp := c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeCourseRepo) UpdateSettings(_ context.Context, c *course.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.courses[c.ID]; !ok {
		return shared.ErrCourseNotFound
	}
	r.courses[c.ID] = *c
	return nil
}

func (r *fakeCourseRepo) ListByResetPolicy(_ context.Context, policy course.ResetPolicy) ([]*course.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*course.Course
	for _, c := range r.courses {
		if !c.Archived && c.Settings.ResetPolicy == policy {
			cp := c
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeEventRepo fakeStore

func (r *fakeEventRepo) Append(_ context.Context, e *behavior.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *fakeEventRepo) AppendBatch(ctx context.Context, events []*behavior.Event) error {
	for _, e := range events {
		if err := r.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeEventRepo) ListByStudent(_ context.Context, studentID uuid.UUID, _ behavior.HistoryFilter) ([]*behavior.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*behavior.Event
	for _, e := range r.events {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) ListByCourse(_ context.Context, courseID uuid.UUID, _ int) ([]*behavior.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*behavior.Event
	for _, e := range r.events {
		if e.CourseID == courseID {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakePublisher records messages and whether a transaction was still open
// when each publish happened.
type fakePublisher struct {
	store *fakeStore

	mu       sync.Mutex
	messages []shared.BroadcastMessage
	inTx     []bool
}

func (p *fakePublisher) Publish(_ context.Context, msg shared.BroadcastMessage) error {
	p.store.mu.Lock()
	open := p.store.inTx
	p.store.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	p.inTx = append(p.inTx, open)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	store   *fakeStore
	pub     *fakePublisher
	teacher shared.Identity
	course  *course.Course
	student *student.Student
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newFakeStore()
	teacherID := uuid.New()

	crs, err := course.New("Klasse 7b", "Mathematik", teacherID)
	require.NoError(t, err)
	require.NoError(t, store.Courses().Create(context.Background(), crs))

	stu, err := student.New(crs.ID, "Lena M.", crs.Settings.Thresholds)
	require.NoError(t, err)
	require.NoError(t, store.Students().Create(context.Background(), stu))

	return &fixture{
		store:   store,
		pub:     &fakePublisher{store: store},
		teacher: shared.Identity{UserID: teacherID, Role: shared.RoleTeacher},
		course:  crs,
		student: stu,
	}
}

func (f *fixture) addStudent(t *testing.T, name string) *student.Student {
	t.Helper()
	stu, err := student.New(f.course.ID, name, f.course.Settings.Thresholds)
	require.NoError(t, err)
	require.NoError(t, f.store.Students().Create(context.Background(), stu))
	return stu
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD BEHAVIOR
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordBehavior_AppliesDeltaAndAppendsEvent(t *testing.T) {
	f := newFixture(t)
	h := NewRecordBehaviorHandler(f.store, f.pub, nil)

	res, err := h.Handle(context.Background(), RecordBehaviorCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		Delta:     15,
		Notes:     "Hausaufgaben vollständig",
		Caller:    f.teacher,
	})
	require.NoError(t, err)

	// Default start XP is 50, so +15 lands in the green band.
	assert.Equal(t, 65, res.Student.XP)
	assert.Equal(t, "GREEN", res.Student.Color)
	assert.True(t, res.ColorChanged) // 50 was yellow

	persisted, err := f.store.Students().GetByID(context.Background(), f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 65, persisted.CurrentXP)

	events, err := f.store.Events().ListByStudent(context.Background(), f.student.ID, behavior.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, behavior.KindXPChange, events[0].Kind())

	payload, ok := events[0].Payload.(behavior.XPChangePayload)
	require.True(t, ok)
	assert.Equal(t, 15, payload.Delta)
	assert.Equal(t, 50, payload.OldXP)
	assert.Equal(t, 65, payload.NewXP)
}

func TestRecordBehavior_BroadcastsAfterCommit(t *testing.T) {
	f := newFixture(t)
	h := NewRecordBehaviorHandler(f.store, f.pub, nil)

	_, err := h.Handle(context.Background(), RecordBehaviorCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		Delta:     -10,
		Caller:    f.teacher,
	})
	require.NoError(t, err)

	require.Len(t, f.pub.messages, 1)
	assert.Equal(t, shared.MessageBehaviorEvent, f.pub.messages[0].Type)
	assert.Equal(t, f.course.ID.String(), f.pub.messages[0].CourseID)
	assert.False(t, f.pub.inTx[0], "broadcast must happen after the transaction committed")
}

func TestRecordBehavior_FailedTransactionBroadcastsNothing(t *testing.T) {
	f := newFixture(t)
	f.store.failUpdateState = true
	h := NewRecordBehaviorHandler(f.store, f.pub, nil)

	_, err := h.Handle(context.Background(), RecordBehaviorCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		Delta:     10,
		Caller:    f.teacher,
	})
	require.Error(t, err)
	assert.Empty(t, f.pub.messages)
	assert.Empty(t, f.store.events, "rolled back event must not persist")
}

func TestRecordBehavior_RejectsForeignTeacher(t *testing.T) {
	f := newFixture(t)
	h := NewRecordBehaviorHandler(f.store, f.pub, nil)

	_, err := h.Handle(context.Background(), RecordBehaviorCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		Delta:     10,
		Caller:    shared.Identity{UserID: uuid.New(), Role: shared.RoleTeacher},
	})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRecordBehavior_RejectsViewerRole(t *testing.T) {
	f := newFixture(t)
	h := NewRecordBehaviorHandler(f.store, f.pub, nil)

	_, err := h.Handle(context.Background(), RecordBehaviorCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		Delta:     10,
		Caller:    shared.Identity{UserID: f.teacher.UserID, Role: shared.RoleViewer},
	})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRecordBehavior_RejectsInactiveStudent(t *testing.T) {
	f := newFixture(t)

	stu, err := f.store.Students().GetByID(context.Background(), f.student.ID)
	require.NoError(t, err)
	stu.Deactivate()
	require.NoError(t, f.store.Students().UpdateState(context.Background(), stu))

	h := NewRecordBehaviorHandler(f.store, f.pub, nil)
	_, err = h.Handle(context.Background(), RecordBehaviorCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		Delta:     10,
		Caller:    f.teacher,
	})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRecordBehavior_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	h := NewRecordBehaviorHandler(f.store, f.pub, nil)

	tests := []struct {
		name string
		cmd  RecordBehaviorCommand
	}{
		{"zero delta", RecordBehaviorCommand{
			CourseID: f.course.ID.String(), StudentID: f.student.ID.String(),
			Delta: 0, Caller: f.teacher,
		}},
		{"missing course", RecordBehaviorCommand{
			StudentID: f.student.ID.String(), Delta: 5, Caller: f.teacher,
		}},
		{"oversized delta", RecordBehaviorCommand{
			CourseID: f.course.ID.String(), StudentID: f.student.ID.String(),
			Delta: maxAbsDelta + 1, Caller: f.teacher,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// QUICK ACTION
// ══════════════════════════════════════════════════════════════════════════════

func TestQuickAction_AppliesToAllStudents(t *testing.T) {
	f := newFixture(t)
	second := f.addStudent(t, "Jonas K.")

	h := NewApplyQuickActionHandler(f.store, f.pub, nil)
	res, err := h.Handle(context.Background(), ApplyQuickActionCommand{
		CourseID:   f.course.ID.String(),
		StudentIDs: []string{f.student.ID.String(), second.ID.String()},
		Delta:      5,
		Caller:     f.teacher,
	})
	require.NoError(t, err)
	require.Len(t, res.Students, 2)

	for _, id := range []uuid.UUID{f.student.ID, second.ID} {
		stu, err := f.store.Students().GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 55, stu.CurrentXP)
	}
	assert.Len(t, f.pub.messages, 2, "one broadcast per student")
	assert.Len(t, f.store.events, 2)
}

func TestQuickAction_UnknownStudentRollsBackWholeBatch(t *testing.T) {
	f := newFixture(t)

	h := NewApplyQuickActionHandler(f.store, f.pub, nil)
	_, err := h.Handle(context.Background(), ApplyQuickActionCommand{
		CourseID:   f.course.ID.String(),
		StudentIDs: []string{f.student.ID.String(), uuid.New().String()},
		Delta:      5,
		Caller:     f.teacher,
	})
	require.Error(t, err)

	stu, err := f.store.Students().GetByID(context.Background(), f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stu.CurrentXP, "first student's change must roll back")
	assert.Empty(t, f.store.events)
	assert.Empty(t, f.pub.messages)
}

func TestQuickAction_EmptyBatchRejected(t *testing.T) {
	f := newFixture(t)
	h := NewApplyQuickActionHandler(f.store, f.pub, nil)

	_, err := h.Handle(context.Background(), ApplyQuickActionCommand{
		CourseID: f.course.ID.String(),
		Delta:    5,
		Caller:   f.teacher,
	})
	assert.ErrorIs(t, err, shared.ErrEmptyValue)
}

// ══════════════════════════════════════════════════════════════════════════════
// REWARDS AND CONSEQUENCES
// ══════════════════════════════════════════════════════════════════════════════

func TestRedeemReward_DeductsCost(t *testing.T) {
	f := newFixture(t)
	h := NewRedeemRewardHandler(f.store, f.pub, nil)

	res, err := h.Handle(context.Background(), RedeemRewardCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		RewardID:  "hausaufgabenfrei",
		CostXP:    20,
		Caller:    f.teacher,
	})
	require.NoError(t, err)
	assert.Equal(t, 30, res.Student.XP)

	require.Len(t, f.pub.messages, 1)
	assert.Equal(t, shared.MessageRewardRedeemed, f.pub.messages[0].Type)
}

func TestRedeemReward_CostAboveBalanceRejected(t *testing.T) {
	f := newFixture(t)
	h := NewRedeemRewardHandler(f.store, f.pub, nil)

	_, err := h.Handle(context.Background(), RedeemRewardCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		RewardID:  "hausaufgabenfrei",
		CostXP:    200,
		Caller:    f.teacher,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	stu, err := f.store.Students().GetByID(context.Background(), f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stu.CurrentXP)
}

func TestApplyConsequence_FloorsAtZero(t *testing.T) {
	f := newFixture(t)
	h := NewApplyConsequenceHandler(f.store, f.pub, nil)

	res, err := h.Handle(context.Background(), ApplyConsequenceCommand{
		CourseID:      f.course.ID.String(),
		StudentID:     f.student.ID.String(),
		ConsequenceID: "stoerung",
		PenaltyXP:     80,
		Caller:        f.teacher,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Student.XP)
	assert.Equal(t, "RED", res.Student.Color)
	assert.True(t, res.ColorChanged)

	require.Len(t, f.pub.messages, 1)
	assert.Equal(t, shared.MessageConsequenceApplied, f.pub.messages[0].Type)
}

// ══════════════════════════════════════════════════════════════════════════════
// MANUAL OVERRIDES
// ══════════════════════════════════════════════════════════════════════════════

func TestOverrideColor_DivergesFromThresholds(t *testing.T) {
	f := newFixture(t)
	h := NewOverrideColorHandler(f.store, f.pub, nil)

	res, err := h.Handle(context.Background(), OverrideColorCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		Color:     "RED",
		Caller:    f.teacher,
	})
	require.NoError(t, err)

	// XP stays at 50 (yellow band) while the color is forced to red.
	assert.Equal(t, 50, res.Student.XP)
	assert.Equal(t, "RED", res.Student.Color)

	events := f.store.events
	require.Len(t, events, 1)
	payload, ok := events[0].Payload.(behavior.ColorChangePayload)
	require.True(t, ok)
	assert.True(t, payload.Manual)
}

func TestOverrideColor_UnknownColorRejected(t *testing.T) {
	f := newFixture(t)
	h := NewOverrideColorHandler(f.store, f.pub, nil)

	_, err := h.Handle(context.Background(), OverrideColorCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		Color:     "PURPLE",
		Caller:    f.teacher,
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdjustLevel_ClampsToRange(t *testing.T) {
	f := newFixture(t)
	h := NewAdjustLevelHandler(f.store, f.pub, nil)

	res, err := h.Handle(context.Background(), AdjustLevelCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		Delta:     99,
		Caller:    f.teacher,
	})
	require.NoError(t, err)
	assert.Equal(t, f.course.Settings.Thresholds.MaxLevel, res.Student.Level)
	assert.Equal(t, 50, res.Student.XP, "level adjust must not touch XP")
}

func TestAdjustLevel_RejectedWhenLevelsDisabled(t *testing.T) {
	f := newFixture(t)

	settings := f.course.Settings
	settings.Thresholds.EnableLevels = false
	require.NoError(t, f.course.UpdateSettings(settings))
	require.NoError(t, f.store.Courses().UpdateSettings(context.Background(), f.course))

	h := NewAdjustLevelHandler(f.store, f.pub, nil)
	_, err := h.Handle(context.Background(), AdjustLevelCommand{
		CourseID:  f.course.ID.String(),
		StudentID: f.student.ID.String(),
		Delta:     1,
		Caller:    f.teacher,
	})
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

func TestUpdateSettings_PersistsValidSettings(t *testing.T) {
	f := newFixture(t)
	h := NewUpdateCourseSettingsHandler(f.store, f.pub, nil)

	settings := course.DefaultSettings()
	settings.Thresholds.StartXP = 60
	settings.ResetPolicy = course.ResetDaily

	res, err := h.Handle(context.Background(), UpdateCourseSettingsCommand{
		CourseID: f.course.ID.String(),
		Settings: settings,
		Caller:   f.teacher,
	})
	require.NoError(t, err)
	assert.Equal(t, 60, res.Settings.Thresholds.StartXP)

	persisted, err := f.store.Courses().GetByID(context.Background(), f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, course.ResetDaily, persisted.Settings.ResetPolicy)
}

func TestUpdateSettings_InvalidThresholdsRejected(t *testing.T) {
	f := newFixture(t)
	h := NewUpdateCourseSettingsHandler(f.store, f.pub, nil)

	settings := course.DefaultSettings()
	settings.Thresholds.LevelThreshold = 0

	_, err := h.Handle(context.Background(), UpdateCourseSettingsCommand{
		CourseID: f.course.ID.String(),
		Settings: settings,
		Caller:   f.teacher,
	})
	require.Error(t, err)

	persisted, err := f.store.Courses().GetByID(context.Background(), f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, persisted.Settings.Thresholds.LevelThreshold,
		"invalid settings must not replace the stored ones")
}
