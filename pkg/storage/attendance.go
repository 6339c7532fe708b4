package storage

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	dayLayout = "2006-01-02"

	StatusPresent     = "present"
	MarkedFingerprint = "fingerprint"
)

// MarkInput describes one attendance mark. Zero Day means today; empty
// Status and MarkedBy default to present/fingerprint.
type MarkInput struct {
	StudentID int64
	ClassCode string
	Day       time.Time
	Status    string
	MarkedBy  string
}

// Attendance is a stored attendance row.
type Attendance struct {
	ID        int64     `json:"id"`
	StudentID int64     `json:"studentId"`
	ClassCode string    `json:"classCode"`
	Day       string    `json:"day"`
	Status    string    `json:"status"`
	MarkedBy  string    `json:"markedBy"`
	MarkedAt  time.Time `json:"markedAt"`
}

// MarkAttendance records attendance once per student, class and day. When a
// row already exists it is returned unchanged with created=false.
func (s *Store) MarkAttendance(ctx context.Context, in MarkInput) (Attendance, bool, error) {
	in.ClassCode = strings.TrimSpace(in.ClassCode)
	if in.ClassCode == "" {
		return Attendance{}, false, errors.New("storage: class code is required")
	}
	if in.Day.IsZero() {
		in.Day = time.Now()
	}
	if in.Status == "" {
		in.Status = StatusPresent
	}
	if in.MarkedBy == "" {
		in.MarkedBy = MarkedFingerprint
	}
	day := in.Day.Format(dayLayout)

	res, err := s.exec(ctx,
		`INSERT INTO attendance (student_id, class_code, day, status, marked_by, marked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id, class_code, day) DO NOTHING`,
		in.StudentID, in.ClassCode, day, in.Status, in.MarkedBy, time.Now().UnixMilli())
	if err != nil {
		return Attendance{}, false, errors.Wrap(err, "storage: mark attendance failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Attendance{}, false, errors.Wrap(err, "storage: read affected rows failed")
	}

	var (
		a        Attendance
		markedAt int64
	)
	err = s.queryRow(ctx,
		`SELECT id, student_id, class_code, day, status, marked_by, marked_at
		FROM attendance WHERE student_id = ? AND class_code = ? AND day = ?`,
		in.StudentID, in.ClassCode, day).
		Scan(&a.ID, &a.StudentID, &a.ClassCode, &a.Day, &a.Status, &a.MarkedBy, &markedAt)
	if err != nil {
		return Attendance{}, false, errors.Wrap(err, "storage: load attendance failed")
	}
	a.MarkedAt = time.UnixMilli(markedAt)
	return a, affected > 0, nil
}

// AttendanceForDay lists the marks taken on day, newest first. An empty
// classCode lists every class.
func (s *Store) AttendanceForDay(ctx context.Context, classCode string, day time.Time) ([]Attendance, error) {
	query := `SELECT id, student_id, class_code, day, status, marked_by, marked_at
		FROM attendance WHERE day = ?`
	args := []any{day.Format(dayLayout)}
	if classCode = strings.TrimSpace(classCode); classCode != "" {
		query += ` AND class_code = ?`
		args = append(args, classCode)
	}
	rows, err := s.query(ctx, query+` ORDER BY marked_at DESC, id DESC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list attendance failed")
	}
	defer rows.Close()

	out := make([]Attendance, 0)
	for rows.Next() {
		var (
			a        Attendance
			markedAt int64
		)
		if err := rows.Scan(&a.ID, &a.StudentID, &a.ClassCode, &a.Day, &a.Status, &a.MarkedBy, &markedAt); err != nil {
			return nil, errors.Wrap(err, "storage: scan attendance failed")
		}
		a.MarkedAt = time.UnixMilli(markedAt)
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "storage: iterate attendance failed")
}
