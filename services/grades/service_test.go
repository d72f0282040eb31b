package grades

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"graderade/lib/gradestore"
	"graderade/lib/scrapers/hac"
	"graderade/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const loginPageFixture = `
<html><body><form>
	<input type="hidden" name="__RequestVerificationToken" value="token123"/>
	<input type="text" name="LogOnDetails.UserName"/>
	<input type="password" name="LogOnDetails.Password"/>
</form></body></html>`

const postLoginFixture = `
<html><head><title>Home Access Center</title></head>
<body><a>Log Off</a></body></html>`

const assignmentsPageFixture = `
<html><body>
<select name="ctl00$plnMain$ddlReportCardRuns">
	<option value="1">MP1</option>
	<option value="2" selected>MP2</option>
</select>
<div class="AssignmentClass">
	<div class="sg-header">
		<a class="sg-header-heading">Algebra II</a>
		<span class="sg-header-heading sg-right">Student Grades 91.25%</span>
	</div>
	<table class="sg-asp-table">
		<tr class="sg-asp-table-data-row">
			<td>05/20/2025</td><td>05/15/2025</td><td><a>Final</a></td><td>Major</td><td>90.00</td><td>100.00</td>
		</tr>
	</table>
</div>
<div class="AssignmentClass">
	<div class="sg-header">
		<a class="sg-header-heading">Chemistry</a>
		<span class="sg-header-heading sg-right">Student Grades N/A</span>
	</div>
</div>
</body></html>`

// in-memory stand-in for the portal: counts requests so tests can
// assert the cache's zero-network path
type fakeTransport struct {
	assignmentsFetches atomic.Int64
	failAssignments    atomic.Bool
}

func (t *fakeTransport) FetchPage(ctx context.Context, pageURL string) (hac.Page, error) {
	if strings.Contains(pageURL, "Assignments.aspx") {
		t.assignmentsFetches.Add(1)
		if t.failAssignments.Load() {
			return hac.Page{}, errors.New("connection timed out")
		}
		return hac.Page{StatusCode: 200, FinalURL: pageURL, Body: assignmentsPageFixture}, nil
	}
	return hac.Page{StatusCode: 200, FinalURL: pageURL, Body: loginPageFixture}, nil
}

func (t *fakeTransport) SubmitForm(ctx context.Context, pageURL string, fields map[string]string) (hac.Page, error) {
	return hac.Page{
		StatusCode: 200,
		FinalURL:   "https://hac.friscoisd.org/HomeAccess/Home/WeekView",
		Body:       postLoginFixture,
	}, nil
}

func setup(t *testing.T, opts ...Option) (*Service, *fakeTransport, func()) {
	cleanup := telemetry.SetupForTesting(t, "test:services/grades")

	transport := &fakeTransport{}
	client, err := hac.NewClient(hac.ClientOptions{
		BaseUrl:   "https://hac.friscoisd.org",
		Transport: transport,
	})
	require.NoError(t, err)

	return NewService(client, opts...), transport, cleanup
}

func TestLoginTriggersForcedRefresh(t *testing.T) {
	service, transport, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()
	outcome, err := service.Login(ctx, "student", "hunter2")
	require.NoError(t, err)
	require.Equal(t, hac.OutcomeSuccess, outcome.Kind)

	// login is not complete until the first data fetch ran
	require.EqualValues(t, 1, transport.assignmentsFetches.Load())

	periods, _ := service.MarkingPeriods().Latest()
	require.True(t, periods.Ok())
	require.Len(t, periods.Value, 2)

	grades, _ := service.Grades().Latest()
	require.True(t, grades.Ok())
	require.Len(t, grades.Value, 2)
	require.Equal(t, "Algebra II", grades.Value[0].CourseName)
	require.Equal(t, "91.25", grades.Value[0].OverallScore)
}

func TestRefreshCacheHitSkipsNetwork(t *testing.T) {
	service, transport, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()
	service.Refresh(ctx, true)
	require.EqualValues(t, 1, transport.assignmentsFetches.Load())

	firstGrades, _ := service.Grades().Latest()
	firstPeriods, _ := service.MarkingPeriods().Latest()
	require.True(t, firstGrades.Ok())
	require.True(t, firstPeriods.Ok())

	// both caches are populated and the last publish succeeded: no
	// network, identical values republished
	service.Refresh(ctx, false)
	require.EqualValues(t, 1, transport.assignmentsFetches.Load())

	secondGrades, _ := service.Grades().Latest()
	secondPeriods, _ := service.MarkingPeriods().Latest()
	require.Equal(t, firstGrades.Value, secondGrades.Value)
	require.Equal(t, firstPeriods.Value, secondPeriods.Value)

	// forcing always refetches
	service.Refresh(ctx, true)
	require.EqualValues(t, 2, transport.assignmentsFetches.Load())
}

func TestRefreshFailurePublishesButKeepsCache(t *testing.T) {
	service, transport, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()
	service.Refresh(ctx, true)

	transport.failAssignments.Store(true)
	service.Refresh(ctx, true)

	grades, _ := service.Grades().Latest()
	require.NotNil(t, grades)
	require.Error(t, grades.Err)
	periods, _ := service.MarkingPeriods().Latest()
	require.NotNil(t, periods)
	require.Error(t, periods.Err)

	// the cache is only overwritten on success
	service.gradesMu.Lock()
	cached := service.cachedGrades
	service.gradesMu.Unlock()
	require.Len(t, cached, 2)

	// the next non-forced refresh refetches (last publish failed) and
	// recovers
	transport.failAssignments.Store(false)
	service.Refresh(ctx, false)
	require.EqualValues(t, 3, transport.assignmentsFetches.Load())
	grades, _ = service.Grades().Latest()
	require.True(t, grades.Ok())
}

func TestRefreshSameFetchForBothStreams(t *testing.T) {
	service, _, cleanup := setup(t)
	defer cleanup()

	ctx := context.Background()

	periodsCh, cancelPeriods := service.MarkingPeriods().Subscribe()
	defer cancelPeriods()
	gradesCh, cancelGrades := service.Grades().Subscribe()
	defer cancelGrades()

	service.Refresh(ctx, true)

	// after a synchronous refresh the conflated streams hold the final
	// results; both derive from the one page fetch
	periods := <-periodsCh
	require.True(t, periods.Ok())
	grades := <-gradesCh
	require.True(t, grades.Ok())
	require.Equal(t, "2", selectedValue(periods.Value))
	require.Len(t, grades.Value, 2)
}

func selectedValue(periods []hac.MarkingPeriod) string {
	for _, p := range periods {
		if p.IsSelected {
			return p.Value
		}
	}
	return ""
}

func TestRefreshPushesSnapshots(t *testing.T) {
	db, err := gradestore.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	store := gradestore.NewStore(db)

	service, _, cleanup := setup(t, WithSnapshotStore(store))
	defer cleanup()

	ctx := context.Background()
	outcome, err := service.Login(ctx, "student", "hunter2")
	require.NoError(t, err)
	require.Equal(t, hac.OutcomeSuccess, outcome.Kind)

	series, err := store.Pull(ctx, "student")
	require.NoError(t, err)
	// Chemistry has no numeric overall score and is not snapshotted
	require.Len(t, series, 1)
	require.Equal(t, "Algebra II", series[0].Course)
	require.Len(t, series[0].Snapshots, 1)
	require.InDelta(t, 91.25, series[0].Snapshots[0].Value, 0.001)
}

func TestNumericScore(t *testing.T) {
	value, ok := numericScore("98.60")
	require.True(t, ok)
	require.InDelta(t, 98.60, value, 0.001)

	value, ok = numericScore("92.5%")
	require.True(t, ok)
	require.InDelta(t, 92.5, value, 0.001)

	_, ok = numericScore(hac.NoScore)
	require.False(t, ok)
	_, ok = numericScore("")
	require.False(t, ok)
	_, ok = numericScore("Exempt")
	require.False(t, ok)
}
