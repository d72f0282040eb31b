// Package grades orchestrates the portal session and the grades cache:
// one login flow, one deduplicated fetch path, and two hot latest-value
// streams that any number of observers can watch.
package grades

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"graderade/lib/broadcast"
	"graderade/lib/gradestore"
	"graderade/lib/scrapers/hac"
	"graderade/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/grades")

// Result is one published value on a stream. A nil *Result on the
// stream means loading: no result yet, distinct from a failure.
type Result[T any] struct {
	Value T
	Err   error
}

func Success[T any](value T) *Result[T] {
	return &Result[T]{Value: value}
}

func Failure[T any](err error) *Result[T] {
	return &Result[T]{Err: err}
}

func (r *Result[T]) Ok() bool {
	return r != nil && r.Err == nil
}

// Service owns the last-known parsed grades and marking periods,
// coordinates fetches and republishes results to observers. Construct
// one per process and pass it to every consumer; the portal keeps one
// session per cookie jar, so the service is process-wide by convention,
// not by ambient global state.
type Service struct {
	client *hac.Client
	store  *gradestore.Store

	// each cache slot has its own lock, scoped strictly to the
	// read-modify-write and never held across network calls
	periodsMu     sync.Mutex
	cachedPeriods []hac.MarkingPeriod

	gradesMu     sync.Mutex
	cachedGrades []hac.CourseGrades

	userMu sync.Mutex
	user   string

	periodsFlow *broadcast.Source[*Result[[]hac.MarkingPeriod]]
	gradesFlow  *broadcast.Source[*Result[[]hac.CourseGrades]]
}

type Option func(*Service)

// WithSnapshotStore records overall course scores into the store after
// every successful refresh, keyed by the logged-in username.
func WithSnapshotStore(store gradestore.Store) Option {
	return func(s *Service) {
		s.store = &store
	}
}

func NewService(client *hac.Client, opts ...Option) *Service {
	s := &Service{
		client:      client,
		periodsFlow: broadcast.NewSource[*Result[[]hac.MarkingPeriod]](),
		gradesFlow:  broadcast.NewSource[*Result[[]hac.CourseGrades]](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkingPeriods is the hot stream of marking period results. New
// subscribers immediately receive the latest published value.
func (s *Service) MarkingPeriods() *broadcast.Source[*Result[[]hac.MarkingPeriod]] {
	return s.periodsFlow
}

// Grades is the hot stream of course grade results.
func (s *Service) Grades() *broadcast.Source[*Result[[]hac.CourseGrades]] {
	return s.gradesFlow
}

// Login authenticates against the portal. On success the first data
// fetch is triggered (forced) before returning, so a successful login
// already has grades on the streams.
func (s *Service) Login(ctx context.Context, username, password string) (hac.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	outcome, err := s.client.Login(ctx, username, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return outcome, err
	}
	if outcome.Kind != hac.OutcomeSuccess {
		span.SetStatus(codes.Error, outcome.String())
		return outcome, nil
	}

	s.userMu.Lock()
	s.user = username
	s.userMu.Unlock()

	s.Refresh(ctx, true)
	return outcome, nil
}

// Refresh deduplicates fetches and republishes. When not forced and
// both caches hold non-empty data from a successful publish, the cached
// values are republished without any network call. Otherwise a loading
// state is published, the assignments page is fetched once, and both
// datasets are parsed from that same body so observers never see
// marking periods and grades from different fetches. On failure the
// previously cached values are kept; the cache is only overwritten on
// success. Results are delivered via the streams, not a return value.
//
// Concurrent refreshes are not serialized against each other: every
// publish carries data from a single fetch, but when two forced
// refreshes overlap, the latest values on the two streams may end up
// coming from different fetches.
func (s *Service) Refresh(ctx context.Context, forceRefresh bool) {
	ctx, span := tracer.Start(ctx, "Refresh")
	defer span.End()

	if !forceRefresh && s.republishCached(ctx) {
		return
	}

	// loading: no-result-yet, observers clear stale views
	s.periodsFlow.Publish(nil)
	s.gradesFlow.Publish(nil)

	body, err := s.client.FetchAssignmentsPage(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		slog.ErrorContext(ctx, "failed to fetch assignments page", "err", err)
		s.periodsFlow.Publish(Failure[[]hac.MarkingPeriod](err))
		s.gradesFlow.Publish(Failure[[]hac.CourseGrades](err))
		return
	}

	// marking periods are derived and published before grades, both
	// from the one body
	periods := hac.ParseMarkingPeriods(ctx, body)
	s.periodsMu.Lock()
	s.cachedPeriods = periods
	s.periodsMu.Unlock()
	s.periodsFlow.Publish(Success(periods))

	courses := hac.ParseCourseGrades(ctx, body)
	s.gradesMu.Lock()
	s.cachedGrades = courses
	s.gradesMu.Unlock()
	s.gradesFlow.Publish(Success(courses))

	slog.InfoContext(
		ctx, "refreshed grades",
		"marking_periods", len(periods),
		"courses", len(courses),
	)

	s.pushSnapshot(ctx, courses)
}

// cache hit requires both slots non-empty and the last publish on each
// stream to have been a non-empty success
func (s *Service) republishCached(ctx context.Context) bool {
	s.periodsMu.Lock()
	cachedPeriods := s.cachedPeriods
	s.periodsMu.Unlock()
	s.gradesMu.Lock()
	cachedGrades := s.cachedGrades
	s.gradesMu.Unlock()

	lastPeriods, _ := s.periodsFlow.Latest()
	lastGrades, _ := s.gradesFlow.Latest()

	periodsValid := len(cachedPeriods) > 0 && lastPeriods.Ok() && len(lastPeriods.Value) > 0
	gradesValid := len(cachedGrades) > 0 && lastGrades.Ok() && len(lastGrades.Value) > 0
	if !periodsValid || !gradesValid {
		return false
	}

	slog.DebugContext(ctx, "cache hit, skipping network")
	s.periodsFlow.Publish(Success(cachedPeriods))
	s.gradesFlow.Publish(Success(cachedGrades))
	return true
}

// best effort: snapshot failures are logged, never surfaced to the
// refresh path
func (s *Service) pushSnapshot(ctx context.Context, courses []hac.CourseGrades) {
	if s.store == nil {
		return
	}
	s.userMu.Lock()
	user := s.user
	s.userMu.Unlock()
	if user == "" {
		return
	}

	var snapshots []gradestore.CourseSnapshot
	for _, course := range courses {
		value, ok := numericScore(course.OverallScore)
		if !ok {
			continue
		}
		snapshots = append(snapshots, gradestore.CourseSnapshot{
			Course: course.CourseName,
			Value:  value,
		})
	}
	if len(snapshots) == 0 {
		return
	}

	err := s.store.Push(ctx, gradestore.PushRequest{
		Time:    timezone.Now(),
		User:    user,
		Courses: snapshots,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to push grade snapshots", "err", err)
	}
}

func numericScore(score string) (float64, bool) {
	score = strings.TrimSuffix(strings.TrimSpace(score), "%")
	if score == "" || score == hac.NoScore {
		return 0, false
	}
	value, err := strconv.ParseFloat(score, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
