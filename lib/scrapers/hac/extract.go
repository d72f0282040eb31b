package hac

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"graderade/lib/htmlutil"
	"graderade/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
)

// form field names the portal's login page uses
const (
	FieldUsername           = "LogOnDetails.UserName"
	FieldPassword           = "LogOnDetails.Password"
	FieldVerificationToken  = "__RequestVerificationToken"
	FieldDatabase           = "Database"
	FieldVerificationOption = "VerificationOption"
)

func parseDocument(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// goquery's html parser does not fail on malformed markup, only
		// on reader errors, which strings.Reader cannot produce
		slog.Warn("failed to parse html document", "err", err)
		return nil
	}
	return doc
}

// ExtractLoginFormFields harvests the login form: the username and
// password inputs (values left empty for the caller to fill), the
// anti-forgery token and the optional Database/VerificationOption hidden
// fields. Missing optional fields are omitted, never errors.
func ExtractLoginFormFields(html string) map[string]string {
	fields := map[string]string{}
	doc := parseDocument(html)
	if doc == nil {
		return fields
	}

	if sel := doc.Find("input[name='" + FieldUsername + "']").First(); sel.Length() > 0 {
		fields[FieldUsername] = ""
	}
	if sel := doc.Find("input[name='" + FieldPassword + "']").First(); sel.Length() > 0 {
		fields[FieldPassword] = ""
	}
	for _, name := range []string{FieldVerificationToken, FieldDatabase, FieldVerificationOption} {
		if sel := doc.Find("input[name='" + name + "']").First(); sel.Length() > 0 {
			fields[name] = sel.AttrOr("value", "")
		}
	}
	return fields
}

// ExtractAspNetHiddenFields pulls the three ASP.NET state blobs when
// present. Their absence is a soft warning only: not every page
// round-trips view-state.
func ExtractAspNetHiddenFields(html string) map[string]string {
	fields := map[string]string{}
	doc := parseDocument(html)
	if doc == nil {
		return fields
	}

	for _, name := range []string{"__VIEWSTATE", "__VIEWSTATEGENERATOR", "__EVENTVALIDATION"} {
		sel := doc.Find("input[name='" + name + "']").First()
		if sel.Length() == 0 {
			slog.Warn("asp.net hidden field not found", "name", name)
			continue
		}
		fields[name] = sel.AttrOr("value", "")
	}
	return fields
}

// ExtractAllHiddenFields returns every hidden input with a non-empty
// name, value defaulted to the empty string.
func ExtractAllHiddenFields(html string) map[string]string {
	fields := map[string]string{}
	doc := parseDocument(html)
	if doc == nil {
		return fields
	}

	doc.Find("input[type=hidden]").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" {
			return
		}
		fields[name] = sel.AttrOr("value", "")
	})
	return fields
}

// ExtractSelectedRadioValue returns the value of the checked radio in
// the named group, ok=false when no radio in the group is checked.
func ExtractSelectedRadioValue(html, groupName string) (string, bool) {
	doc := parseDocument(html)
	if doc == nil {
		return "", false
	}

	sel := doc.Find("input[name='" + groupName + "'][checked]").First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.AttrOr("value", ""), true
}

// the portal has shipped several names for the marking period dropdown
// over time; tried in order, first match wins
var markingPeriodSelectors = []string{
	"select[name*='ddlReportCardRuns']",
	"select[id*='ddlReportCardRuns']",
	"select[name*='ddlMarkingPeriod']",
	"select[id*='ddlMarkingPeriod']",
}

// ParseMarkingPeriods extracts the marking period list from the
// assignments page. Options whose text has no digit or whose value is
// blank are placeholders ("Please select...") and are dropped. Whenever
// the result is non-empty exactly one period is selected: the one the
// source HTML marks, or failing that the period with the numerically
// highest value (non-numeric values rank lowest, ties go to the first
// option encountered). The fallback is a guess at portal behavior kept
// from the original client; the portal normally pre-selects one.
func ParseMarkingPeriods(ctx context.Context, html string) []MarkingPeriod {
	ctx, span := tracer.Start(ctx, "ParseMarkingPeriods")
	defer span.End()

	var periods []MarkingPeriod
	doc := parseDocument(html)
	if doc == nil {
		return periods
	}

	var selectElement *goquery.Selection
	for _, selector := range markingPeriodSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() > 0 {
			selectElement = sel
			break
		}
	}
	if selectElement == nil {
		slog.WarnContext(ctx, "marking period select element not found")
		return periods
	}

	selectElement.Find("option").Each(func(_ int, option *goquery.Selection) {
		name := strings.TrimSpace(option.Text())
		value := option.AttrOr("value", "")
		_, isSelected := option.Attr("selected")

		if name == "" || value == "" || !textutil.ContainsDigit(name) {
			return
		}
		periods = append(periods, MarkingPeriod{
			Name:       name,
			Value:      value,
			IsSelected: isSelected,
		})
	})

	anySelected := false
	for _, p := range periods {
		if p.IsSelected {
			anySelected = true
			break
		}
	}
	if !anySelected && len(periods) > 0 {
		latest := 0
		latestValue := numericValue(periods[0].Value)
		for i, p := range periods[1:] {
			if v := numericValue(p.Value); v > latestValue {
				latest = i + 1
				latestValue = v
			}
		}
		periods[latest].IsSelected = true
	}

	span.SetAttributes(attribute.Int("periods", len(periods)))
	return periods
}

func numericValue(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

var overallScoreRegex = regexp.MustCompile(`([0-9.]+)`)

const overallScorePrefix = "Student Grades "

// ParseCourseGrades extracts every course block and its assignment table
// from the assignments page. A malformed row or block never aborts the
// page: it is logged, skipped and parsing continues.
func ParseCourseGrades(ctx context.Context, html string) []CourseGrades {
	ctx, span := tracer.Start(ctx, "ParseCourseGrades")
	defer span.End()

	var courses []CourseGrades
	doc := parseDocument(html)
	if doc == nil {
		return courses
	}

	blocks := doc.Find("div.AssignmentClass")
	if blocks.Length() == 0 {
		slog.WarnContext(ctx, "no course blocks found on assignments page")
		subtitle := doc.Find("span#plnMain_lblSubTitle").Text()
		if strings.Contains(subtitle, "Competency Group") {
			slog.WarnContext(ctx, "assignments page appears to be in competency-group view instead of courses")
		}
		return courses
	}

	blocks.Each(func(i int, block *goquery.Selection) {
		course := parseCourseBlock(ctx, block)
		if course.CourseName == UnknownCourse && course.OverallScore == NoScore {
			// both name and score failed to extract: this block is not a
			// course (header junk, empty container)
			slog.WarnContext(ctx, "skipping non-course block", "index", i)
			return
		}
		courses = append(courses, course)
	})

	span.SetAttributes(
		attribute.Int("blocks", blocks.Length()),
		attribute.Int("courses", len(courses)),
	)
	return courses
}

func parseCourseBlock(ctx context.Context, block *goquery.Selection) CourseGrades {
	courseName := UnknownCourse
	if sel := block.Find("div.sg-header a.sg-header-heading").First(); sel.Length() > 0 {
		courseName = parseCourseName(sel.Text())
	}

	overallScore := NoScore
	if sel := block.Find("div.sg-header span.sg-header-heading.sg-right").First(); sel.Length() > 0 {
		overallScore = parseOverallScore(ctx, sel.Text())
	}

	var assignments []Assignment
	table := block.Find("table.sg-asp-table").First()
	if table.Length() == 0 {
		slog.WarnContext(ctx, "no assignments table found", "course", courseName)
	} else {
		table.Find("tr.sg-asp-table-data-row").Each(func(_ int, row *goquery.Selection) {
			assignment, ok := parseAssignmentRow(ctx, courseName, row)
			if ok {
				assignments = append(assignments, assignment)
			}
		})
	}

	return CourseGrades{
		CourseName:   courseName,
		OverallScore: overallScore,
		Assignments:  assignments,
	}
}

// strips the "@teacher/section" annotation the portal appends to some
// course titles. A name that is nothing but the annotation collapses to
// the unknown default.
func parseCourseName(raw string) string {
	name := htmlutil.CleanText(raw)
	if name == "" {
		return UnknownCourse
	}
	if at := strings.Index(name, "@"); at >= 0 {
		name = strings.TrimSpace(name[:at])
	}
	if name == "" {
		return UnknownCourse
	}
	return name
}

// the header label normally reads "Student Grades 98.60%"; layouts
// without the prefix fall back to the first run of digits and optional
// decimal point.
func parseOverallScore(ctx context.Context, raw string) string {
	text := htmlutil.CleanText(raw)
	if text == "" {
		return NoScore
	}

	var score string
	if strings.HasPrefix(text, overallScorePrefix) {
		score = strings.TrimPrefix(text, overallScorePrefix)
		score = strings.TrimSpace(strings.TrimSuffix(score, "%"))
	} else {
		match := overallScoreRegex.FindStringSubmatch(text)
		if match == nil {
			slog.WarnContext(ctx, "overall score text matched no known format", "text", text)
			return NoScore
		}
		score = match[1]
	}
	if score == "" {
		return NoScore
	}
	return score
}

// expected columns: date due, date assigned, assignment, category,
// score, total points
func parseAssignmentRow(ctx context.Context, courseName string, row *goquery.Selection) (Assignment, bool) {
	cells := row.Find("td")
	if cells.Length() < 6 {
		slog.WarnContext(
			ctx, "skipping assignment row with missing cells",
			"course", courseName,
			"cells", cells.Length(),
		)
		return Assignment{}, false
	}

	dateDue, ok := textutil.CleanCell(cells.Eq(0).Text())
	if !ok {
		dateDue = NoScore
	}
	dateAssigned, ok := textutil.CleanCell(cells.Eq(1).Text())
	if !ok {
		dateAssigned = NoScore
	}

	name := UnknownAssignment
	nameCell := cells.Eq(2)
	if link := nameCell.Find("a").First(); link.Length() > 0 {
		name = htmlutil.CleanText(link.Text())
	} else {
		name = htmlutil.CleanText(nameCell.Text())
	}
	if name == "" {
		name = UnknownAssignment
	}

	category := htmlutil.CleanText(cells.Eq(3).Text())

	// the score cell may nest links or annotations; prefer its own
	// direct text and only fall back to the full text when that's empty
	scoreCell := cells.Eq(4)
	score := strings.TrimSpace(htmlutil.GetOwnText(scoreCell.Get(0)))
	if score == "" {
		score = strings.TrimSpace(scoreCell.Text())
	}
	// sentinels like "X - Exempt" or "MSG" bypass normalization and are
	// stored exactly as rendered; everything else is kept as-is too, the
	// consumer decides whether it is numeric
	if score != "" && !textutil.IsScoreSentinel(score) {
		score = htmlutil.CleanText(score)
	}

	totalPoints := strings.TrimSpace(cells.Eq(5).Text())

	return Assignment{
		Name:         name,
		Category:     category,
		DateDue:      dateDue,
		DateAssigned: dateAssigned,
		Score:        score,
		TotalPoints:  totalPoints,
	}, true
}
