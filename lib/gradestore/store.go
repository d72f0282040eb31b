// Package gradestore persists daily snapshots of overall course scores,
// one row per user+course+day, so grade movement stays visible after the
// portal rolls its display forward.
package gradestore

import (
	"context"
	"database/sql"
	"time"

	"graderade/lib/timezone"

	_ "modernc.org/sqlite"
)

const Schema = `
CREATE TABLE IF NOT EXISTS user_course (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user TEXT NOT NULL,
	course TEXT NOT NULL,
	UNIQUE(user, course)
);
CREATE TABLE IF NOT EXISTS grade_snapshot (
	user_course_id INTEGER NOT NULL REFERENCES user_course(id),
	time INTEGER NOT NULL,
	value REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_grade_snapshot_course
	ON grade_snapshot(user_course_id, time);
`

// Open opens (or creates) a snapshot database at path. ":memory:" works.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

type CourseSnapshot struct {
	Course string
	Value  float64
}

type PushRequest struct {
	Time    time.Time
	User    string
	Courses []CourseSnapshot
}

// Push records one snapshot per course. A second push on the same day
// replaces that day's rows, so a user refreshing repeatedly keeps one
// point per day.
func (s Store) Push(ctx context.Context, req PushRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	startOfToday := time.Date(req.Time.Year(), req.Time.Month(), req.Time.Day(), 0, 0, 0, 0, timezone.Location).Unix()
	startOfTomorrow := time.Date(req.Time.Year(), req.Time.Month(), req.Time.Day()+1, 0, 0, 0, 0, timezone.Location).Unix()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM grade_snapshot
		WHERE time >= ? AND time < ?
		AND user_course_id IN (SELECT id FROM user_course WHERE user = ?)`,
		startOfToday, startOfTomorrow, req.User,
	)
	if err != nil {
		return err
	}

	for _, course := range req.Courses {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_course (user, course) VALUES (?, ?)
			ON CONFLICT (user, course) DO NOTHING`,
			req.User, course.Course,
		)
		if err != nil {
			return err
		}

		var userCourseID int64
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM user_course WHERE user = ? AND course = ?`,
			req.User, course.Course,
		).Scan(&userCourseID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO grade_snapshot (user_course_id, time, value)
			VALUES (?, ?, ?)`,
			userCourseID, req.Time.Unix(), course.Value,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

type GradeSnapshot struct {
	Time  time.Time
	Value float64
}

type CourseSnapshotSeries struct {
	Course    string
	Snapshots []GradeSnapshot
}

// Pull returns the per-course snapshot series for a user, each series
// ordered oldest first.
func (s Store) Pull(ctx context.Context, user string) ([]CourseSnapshotSeries, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uc.course, gs.time, gs.value
		FROM grade_snapshot gs
		JOIN user_course uc ON uc.id = gs.user_course_id
		WHERE uc.user = ?
		ORDER BY uc.course, gs.time`,
		user,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series []CourseSnapshotSeries
	for rows.Next() {
		var course string
		var unix int64
		var value float64
		if err := rows.Scan(&course, &unix, &value); err != nil {
			return nil, err
		}

		snapshot := GradeSnapshot{
			Time:  time.Unix(unix, 0).In(timezone.Location),
			Value: value,
		}
		if len(series) > 0 && series[len(series)-1].Course == course {
			last := &series[len(series)-1]
			last.Snapshots = append(last.Snapshots, snapshot)
			continue
		}
		series = append(series, CourseSnapshotSeries{
			Course:    course,
			Snapshots: []GradeSnapshot{snapshot},
		})
	}
	return series, rows.Err()
}
