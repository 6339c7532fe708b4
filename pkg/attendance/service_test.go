package attendance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/storage"
)

type stubDevice struct {
	enrollID  int
	enrollErr error
	verifyID  int
	verifyErr error
	deleteErr error

	enrolled []int
	deleted  []int
}

func (d *stubDevice) Enroll(ctx context.Context, id int) (int, error) {
	d.enrolled = append(d.enrolled, id)
	if d.enrollErr != nil {
		return 0, d.enrollErr
	}
	if d.enrollID != 0 {
		return d.enrollID, nil
	}
	return id, nil
}

func (d *stubDevice) Verify(ctx context.Context) (int, error) {
	return d.verifyID, d.verifyErr
}

func (d *stubDevice) Delete(ctx context.Context, id int) error {
	d.deleted = append(d.deleted, id)
	return d.deleteErr
}

func (d *stubDevice) Connected() bool { return true }

func newTestService(t *testing.T, dev Device) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "attendance.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc, err := NewService(dev, store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func addStudent(t *testing.T, store *storage.Store, roll string) storage.Student {
	t.Helper()
	st, err := store.AddStudent(context.Background(), storage.NewStudent{RollNumber: roll, Name: "Student " + roll})
	if err != nil {
		t.Fatalf("add student: %v", err)
	}
	return st
}

func TestRegisterAssignsNextTemplate(t *testing.T) {
	dev := &stubDevice{}
	svc, store := newTestService(t, dev)
	ctx := context.Background()

	first := addStudent(t, store, "R1")
	second := addStudent(t, store, "R2")

	got, err := svc.Register(ctx, first.ID)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if got.FingerprintID == nil || *got.FingerprintID != 1 {
		t.Fatalf("expected template 1, got %+v", got.FingerprintID)
	}

	if _, err := svc.Register(ctx, first.ID); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}

	// The sensor picked a different slot; the stored id must follow it.
	dev.enrollID = 9
	got, err = svc.Register(ctx, second.ID)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if *got.FingerprintID != 9 {
		t.Fatalf("expected device-reported template 9, got %d", *got.FingerprintID)
	}
	if len(dev.enrolled) != 2 || dev.enrolled[1] != 2 {
		t.Fatalf("unexpected enroll requests %v", dev.enrolled)
	}
}

func TestRegisterPropagatesDeviceErrors(t *testing.T) {
	dev := &stubDevice{enrollErr: device.ErrBusy}
	svc, store := newTestService(t, dev)
	st := addStudent(t, store, "R1")

	_, err := svc.Register(context.Background(), st.ID)
	if !errors.Is(err, device.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	reloaded, _ := store.GetStudent(context.Background(), st.ID)
	if reloaded.HasFingerprint() {
		t.Fatalf("failed enrollment must not assign a template")
	}

	if _, err := svc.Register(context.Background(), 404); !errors.Is(err, storage.ErrStudentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIdentifyUnknownTemplate(t *testing.T) {
	dev := &stubDevice{verifyID: 12}
	svc, _ := newTestService(t, dev)

	_, err := svc.Identify(context.Background())
	if !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected unknown template, got %v", err)
	}
	var unknown *UnknownTemplateError
	if !errors.As(err, &unknown) || unknown.TemplateID != 12 {
		t.Fatalf("unknown template should carry the id, got %v", err)
	}
}

func TestVerifyAndMark(t *testing.T) {
	dev := &stubDevice{}
	svc, store := newTestService(t, dev)
	svc.clock = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.Local) }
	ctx := context.Background()

	st := addStudent(t, store, "R1")
	if err := store.AssignTemplate(ctx, st.ID, 3); err != nil {
		t.Fatalf("assign: %v", err)
	}
	dev.verifyID = 3

	if _, err := svc.VerifyAndMark(ctx, "CS101"); !errors.Is(err, ErrNotInClass) {
		t.Fatalf("expected not in class, got %v", err)
	}

	if err := store.EnrollInClass(ctx, st.ID, "CS101"); err != nil {
		t.Fatalf("enroll in class: %v", err)
	}
	res, err := svc.VerifyAndMark(ctx, "CS101")
	if err != nil {
		t.Fatalf("verify and mark: %v", err)
	}
	if res.AlreadyMarked || res.Student.ID != st.ID || res.Attendance.Day != "2026-05-04" {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = svc.VerifyAndMark(ctx, "CS101")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if !res.AlreadyMarked {
		t.Fatalf("second mark on the same day should report already marked")
	}

	dev.verifyErr = device.ErrTimeout
	if _, err := svc.VerifyAndMark(ctx, "CS101"); !errors.Is(err, device.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	dev := &stubDevice{}
	svc, store := newTestService(t, dev)
	ctx := context.Background()

	st := addStudent(t, store, "R1")
	if err := svc.Unregister(ctx, st.ID); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if err := store.AssignTemplate(ctx, st.ID, 5); err != nil {
		t.Fatalf("assign: %v", err)
	}

	dev.deleteErr = device.ErrNotConnected
	if err := svc.Unregister(ctx, st.ID); !errors.Is(err, device.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	reloaded, _ := store.GetStudent(ctx, st.ID)
	if !reloaded.HasFingerprint() {
		t.Fatalf("template must be kept when the device delete fails")
	}

	dev.deleteErr = nil
	if err := svc.Unregister(ctx, st.ID); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	registered, err := svc.Registered(ctx)
	if err != nil {
		t.Fatalf("registered: %v", err)
	}
	if len(registered) != 0 {
		t.Fatalf("expected no registered students, got %v", registered)
	}
	if len(dev.deleted) != 2 || dev.deleted[1] != 5 {
		t.Fatalf("unexpected delete requests %v", dev.deleted)
	}
}

func TestServiceAgainstSimulator(t *testing.T) {
	sim := device.NewSimulator()
	session, err := device.NewSession(sim, device.Config{
		ConnectDelay:  time.Millisecond,
		DeleteWindow:  20 * time.Millisecond,
		EnrollTimeout: time.Second,
		VerifyTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer session.Close()
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := session.WaitConnected(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	svc, store := newTestService(t, session)
	st := addStudent(t, store, "R1")
	registered, err := svc.Register(ctx, st.ID)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	sim.PlaceFinger(*registered.FingerprintID)
	who, err := svc.Identify(ctx)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if who.ID != st.ID {
		t.Fatalf("identified wrong student %+v", who)
	}

	if err := svc.Unregister(ctx, st.ID); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if len(sim.Templates()) != 0 {
		t.Fatalf("sensor still holds templates %v", sim.Templates())
	}
}
