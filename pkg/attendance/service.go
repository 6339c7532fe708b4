package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/storage"
)

// Device is the slice of device.Session the service needs.
type Device interface {
	Enroll(ctx context.Context, id int) (int, error)
	Verify(ctx context.Context) (int, error)
	Delete(ctx context.Context, id int) error
	Connected() bool
}

// Store is the slice of storage.Store the service needs.
type Store interface {
	GetStudent(ctx context.Context, id int64) (storage.Student, error)
	NextTemplateID(ctx context.Context) (int, error)
	AssignTemplate(ctx context.Context, studentID int64, templateID int) error
	ClearTemplate(ctx context.Context, studentID int64) error
	StudentByTemplate(ctx context.Context, templateID int) (storage.Student, error)
	Registered(ctx context.Context) ([]storage.Student, error)
	InClass(ctx context.Context, studentID int64, classCode string) (bool, error)
	MarkAttendance(ctx context.Context, in storage.MarkInput) (storage.Attendance, bool, error)
}

var (
	_ Device = (*device.Session)(nil)
	_ Store  = (*storage.Store)(nil)
)

var (
	ErrAlreadyRegistered = errors.New("attendance: student already has a fingerprint")
	ErrNotRegistered     = errors.New("attendance: student has no fingerprint")
	ErrNotInClass        = errors.New("attendance: student is not enrolled in class")
)

// UnknownTemplateError is returned when the sensor matched a template that
// no student holds; the template needs enrollment against a student.
type UnknownTemplateError struct {
	TemplateID int
}

func (e *UnknownTemplateError) Error() string {
	return fmt.Sprintf("attendance: template %d is not linked to any student, needs enrollment", e.TemplateID)
}

// ErrUnknownTemplate matches any *UnknownTemplateError with errors.Is.
var ErrUnknownTemplate = &UnknownTemplateError{}

func (e *UnknownTemplateError) Is(target error) bool {
	_, ok := target.(*UnknownTemplateError)
	return ok
}

// Service links fingerprint operations on the sensor to student records.
type Service struct {
	device Device
	store  Store
	clock  func() time.Time
}

// NewService wires a device and a store.
func NewService(dev Device, store Store) (*Service, error) {
	if dev == nil {
		return nil, errors.New("attendance: device cannot be nil")
	}
	if store == nil {
		return nil, errors.New("attendance: store cannot be nil")
	}
	return &Service{device: dev, store: store, clock: time.Now}, nil
}

// Register enrolls a new fingerprint for the student and stores the template
// id the sensor reports.
func (s *Service) Register(ctx context.Context, studentID int64) (storage.Student, error) {
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return storage.Student{}, err
	}
	if st.HasFingerprint() {
		return storage.Student{}, errors.Wrapf(ErrAlreadyRegistered, "student %d holds template %d", st.ID, *st.FingerprintID)
	}
	next, err := s.store.NextTemplateID(ctx)
	if err != nil {
		return storage.Student{}, err
	}

	log.Info().Int64("student_id", st.ID).Int("template_id", next).Msg("enrolling fingerprint")
	got, err := s.device.Enroll(ctx, next)
	if err != nil {
		return storage.Student{}, errors.Wrapf(err, "enroll student %d", st.ID)
	}
	if err := s.store.AssignTemplate(ctx, st.ID, got); err != nil {
		return storage.Student{}, errors.Wrapf(err, "store template %d for student %d", got, st.ID)
	}
	return s.store.GetStudent(ctx, st.ID)
}

// Identify scans a finger and returns the student it belongs to.
func (s *Service) Identify(ctx context.Context) (storage.Student, error) {
	id, err := s.device.Verify(ctx)
	if err != nil {
		return storage.Student{}, errors.Wrap(err, "verify fingerprint")
	}
	st, err := s.store.StudentByTemplate(ctx, id)
	if errors.Is(err, storage.ErrStudentNotFound) {
		return storage.Student{}, &UnknownTemplateError{TemplateID: id}
	}
	if err != nil {
		return storage.Student{}, err
	}
	log.Info().Int64("student_id", st.ID).Int("template_id", id).Msg("fingerprint identified")
	return st, nil
}

// MarkResult is the outcome of VerifyAndMark.
type MarkResult struct {
	Student       storage.Student    `json:"student"`
	Attendance    storage.Attendance `json:"attendance"`
	AlreadyMarked bool               `json:"alreadyMarked"`
}

// VerifyAndMark identifies the student and marks them present in classCode.
// A second mark on the same day is reported through AlreadyMarked.
func (s *Service) VerifyAndMark(ctx context.Context, classCode string) (MarkResult, error) {
	if classCode == "" {
		return MarkResult{}, errors.New("attendance: class code is required")
	}
	st, err := s.Identify(ctx)
	if err != nil {
		return MarkResult{}, err
	}
	in, err := s.store.InClass(ctx, st.ID, classCode)
	if err != nil {
		return MarkResult{}, err
	}
	if !in {
		return MarkResult{Student: st}, errors.Wrapf(ErrNotInClass, "student %s, class %s", st.RollNumber, classCode)
	}
	rec, created, err := s.store.MarkAttendance(ctx, storage.MarkInput{
		StudentID: st.ID,
		ClassCode: classCode,
		Day:       s.clock(),
		MarkedBy:  storage.MarkedFingerprint,
	})
	if err != nil {
		return MarkResult{}, err
	}
	return MarkResult{Student: st, Attendance: rec, AlreadyMarked: !created}, nil
}

// Unregister deletes the student's template from the sensor and clears it
// from the record.
func (s *Service) Unregister(ctx context.Context, studentID int64) error {
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if !st.HasFingerprint() {
		return errors.Wrapf(ErrNotRegistered, "student %d", st.ID)
	}
	if err := s.device.Delete(ctx, *st.FingerprintID); err != nil {
		return errors.Wrapf(err, "delete template %d", *st.FingerprintID)
	}
	log.Info().Int64("student_id", st.ID).Int("template_id", *st.FingerprintID).Msg("fingerprint removed")
	return s.store.ClearTemplate(ctx, st.ID)
}

// Registered lists students holding a template id.
func (s *Service) Registered(ctx context.Context) ([]storage.Student, error) {
	return s.store.Registered(ctx)
}

// DeviceConnected reports whether the sensor is reachable.
func (s *Service) DeviceConnected() bool {
	return s.device.Connected()
}
