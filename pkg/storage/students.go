package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Student is a registry row. FingerprintID is nil until the sensor holds a
// template for the student.
type Student struct {
	ID            int64     `json:"id"`
	RollNumber    string    `json:"rollNumber"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	FingerprintID *int      `json:"fingerprintId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HasFingerprint reports whether a template id is assigned.
func (s Student) HasFingerprint() bool {
	return s.FingerprintID != nil
}

// NewStudent holds the fields required to create a student.
type NewStudent struct {
	RollNumber string `json:"rollNumber"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}

const studentColumns = `id, roll_number, name, email, fingerprint_id, created_at`

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var (
		st        Student
		fpID      sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&st.ID, &st.RollNumber, &st.Name, &st.Email, &fpID, &createdAt); err != nil {
		return Student{}, err
	}
	if fpID.Valid {
		id := int(fpID.Int64)
		st.FingerprintID = &id
	}
	st.CreatedAt = time.UnixMilli(createdAt)
	return st, nil
}

// AddStudent inserts a student and returns the stored row.
func (s *Store) AddStudent(ctx context.Context, in NewStudent) (Student, error) {
	in.RollNumber = strings.TrimSpace(in.RollNumber)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.RollNumber == "" || in.Name == "" {
		return Student{}, errors.New("storage: roll number and name are required")
	}

	res, err := s.exec(ctx,
		`INSERT INTO students (roll_number, name, email, created_at) VALUES (?, ?, ?, ?)`,
		in.RollNumber, in.Name, in.Email, time.Now().UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return Student{}, errors.Wrapf(ErrDuplicateStudent, "roll number %s", in.RollNumber)
		}
		return Student{}, errors.Wrap(err, "storage: insert student failed")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Student{}, errors.Wrap(err, "storage: read student id failed")
	}
	return s.GetStudent(ctx, id)
}

// GetStudent loads a student by id.
func (s *Store) GetStudent(ctx context.Context, id int64) (Student, error) {
	st, err := scanStudent(s.queryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, errors.Wrapf(ErrStudentNotFound, "id %d", id)
	}
	if err != nil {
		return Student{}, errors.Wrap(err, "storage: load student failed")
	}
	return st, nil
}

// ListStudents returns every student ordered by roll number.
func (s *Store) ListStudents(ctx context.Context) ([]Student, error) {
	return s.listStudents(ctx, `SELECT `+studentColumns+` FROM students ORDER BY roll_number`)
}

// Registered returns the students that hold a template id, ordered by id on
// the sensor.
func (s *Store) Registered(ctx context.Context) ([]Student, error) {
	return s.listStudents(ctx,
		`SELECT `+studentColumns+` FROM students WHERE fingerprint_id IS NOT NULL ORDER BY fingerprint_id`)
}

func (s *Store) listStudents(ctx context.Context, query string, args ...any) ([]Student, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list students failed")
	}
	defer rows.Close()

	students := make([]Student, 0)
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "storage: scan student failed")
		}
		students = append(students, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "storage: iterate students failed")
	}
	return students, nil
}

// EnrollInClass adds the student to a class; repeating it is a no-op.
func (s *Store) EnrollInClass(ctx context.Context, studentID int64, classCode string) error {
	classCode = strings.TrimSpace(classCode)
	if classCode == "" {
		return errors.New("storage: class code is required")
	}
	if _, err := s.GetStudent(ctx, studentID); err != nil {
		return err
	}
	if _, err := s.exec(ctx,
		`INSERT OR IGNORE INTO student_classes (student_id, class_code) VALUES (?, ?)`,
		studentID, classCode); err != nil {
		return errors.Wrap(err, "storage: enroll student in class failed")
	}
	return nil
}

// InClass reports whether the student belongs to classCode.
func (s *Store) InClass(ctx context.Context, studentID int64, classCode string) (bool, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(1) FROM student_classes WHERE student_id = ? AND class_code = ?`,
		studentID, strings.TrimSpace(classCode)).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "storage: check class membership failed")
	}
	return n > 0, nil
}

// Classes lists the class codes a student belongs to.
func (s *Store) Classes(ctx context.Context, studentID int64) ([]string, error) {
	rows, err := s.query(ctx,
		`SELECT class_code FROM student_classes WHERE student_id = ? ORDER BY class_code`, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list classes failed")
	}
	defer rows.Close()
	codes := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, errors.Wrap(err, "storage: scan class failed")
		}
		codes = append(codes, code)
	}
	return codes, errors.Wrap(rows.Err(), "storage: iterate classes failed")
}

// NextTemplateID returns one past the highest assigned template id, or 1
// when none is assigned.
func (s *Store) NextTemplateID(ctx context.Context) (int, error) {
	var next int
	if err := s.queryRow(ctx,
		`SELECT COALESCE(MAX(fingerprint_id), 0) + 1 FROM students`).Scan(&next); err != nil {
		return 0, errors.Wrap(err, "storage: compute next template id failed")
	}
	return next, nil
}

// AssignTemplate records that the sensor holds templateID for the student.
func (s *Store) AssignTemplate(ctx context.Context, studentID int64, templateID int) error {
	if templateID <= 0 {
		return errors.Errorf("storage: invalid template id %d", templateID)
	}
	res, err := s.exec(ctx, `UPDATE students SET fingerprint_id = ? WHERE id = ?`, templateID, studentID)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(ErrTemplateInUse, "template %d", templateID)
		}
		return errors.Wrap(err, "storage: assign template failed")
	}
	return expectOneRow(res, studentID)
}

// ClearTemplate removes the student's template id.
func (s *Store) ClearTemplate(ctx context.Context, studentID int64) error {
	res, err := s.exec(ctx, `UPDATE students SET fingerprint_id = NULL WHERE id = ?`, studentID)
	if err != nil {
		return errors.Wrap(err, "storage: clear template failed")
	}
	return expectOneRow(res, studentID)
}

// StudentByTemplate finds the student holding templateID.
func (s *Store) StudentByTemplate(ctx context.Context, templateID int) (Student, error) {
	st, err := scanStudent(s.queryRow(ctx,
		`SELECT `+studentColumns+` FROM students WHERE fingerprint_id = ?`, templateID))
	if errors.Is(err, sql.ErrNoRows) {
		return Student{}, errors.Wrapf(ErrStudentNotFound, "template %d", templateID)
	}
	if err != nil {
		return Student{}, errors.Wrap(err, "storage: load student by template failed")
	}
	return st, nil
}

func expectOneRow(res sql.Result, studentID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "storage: read affected rows failed")
	}
	if n == 0 {
		return errors.Wrapf(ErrStudentNotFound, "id %d", studentID)
	}
	return nil
}
