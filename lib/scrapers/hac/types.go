package hac

// Defaults used by the parsers when a field cannot be extracted. These
// mirror what the portal-facing views expect to render for missing data.
const (
	UnknownCourse     = "Unknown Course"
	UnknownAssignment = "Unknown Assignment"
	NoScore           = "N/A"
)

// a grading term/quarter. the portal scopes displayed grades to one
// marking period at a time, defaulting to the most recent.
type MarkingPeriod struct {
	Name       string
	Value      string
	IsSelected bool
}

// Score and TotalPoints stay strings: the portal substitutes sentinels
// like "X - Exempt" or "MSG" for numbers and those must survive verbatim.
type Assignment struct {
	Name         string
	Category     string
	DateDue      string
	DateAssigned string
	Score        string
	TotalPoints  string
}

type CourseGrades struct {
	CourseName   string
	OverallScore string
	Assignments  []Assignment
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeInvalidCredentials
	OutcomeUnexpected
)

// the classified result of a login attempt. Detail is only populated for
// OutcomeUnexpected and carries the final url plus a truncated body.
type Outcome struct {
	Kind   OutcomeKind
	Detail string
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return "success"
	case OutcomeInvalidCredentials:
		return "invalid username or password"
	default:
		if o.Detail == "" {
			return "unexpected portal response"
		}
		return "unexpected portal response: " + o.Detail
	}
}
