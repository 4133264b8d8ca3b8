package transfer

import (
	"strings"
)

// PartialSuffix is appended to the final path while a download is streaming.
const PartialSuffix = ".partial"

// State is the last state a URL reached while being processed.
type State string

const (
	StatePending           State = "pending"
	StateTrusted           State = "trusted"
	StateRejected          State = "rejected"
	StateAttemptingPrimary State = "attempting_primary"
	StateAttemptingMirror  State = "attempting_mirror"
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
)

// Request describes one URL of a batch. It is not modified once built.
type Request struct {
	URL       string
	Dir       string
	FinalPath string
	Overwrite bool
}

// PartialPath is where the request streams bytes before commit.
func (r Request) PartialPath() string {
	return r.FinalPath + PartialSuffix
}

// Outcome is the result of one download attempt or of an attempt followed by
// its mirror fallback. Path is only set when Success is true. State is the
// final state; Transitions lists every state the URL went through, in order.
type Outcome struct {
	URL         string
	Success     bool
	Skipped     bool
	Rejected    bool
	Message     string
	Path        string
	Attempts    int
	Mirror      string
	Bytes       int64
	State       State
	Transitions []State
	Err         error
}

// BatchRequest is the input of a batch invocation.
type BatchRequest struct {
	URLs      []string
	Folder    string
	Run       bool
	Overwrite bool
}

// SingleRequest is the input of a single-URL invocation.
type SingleRequest struct {
	URL       string
	Folder    string
	Run       bool
	Overwrite bool
}

// Report aggregates the outcomes of a batch in input order.
type Report struct {
	ID       string
	Outcomes []Outcome
}

// Lines returns one message per outcome.
func (r Report) Lines() []string {
	lines := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		lines = append(lines, o.Message)
	}

	return lines
}

func (r Report) String() string {
	return strings.Join(r.Lines(), "\n")
}

// Failed counts outcomes that did not succeed.
func (r Report) Failed() int {
	n := 0

	for _, o := range r.Outcomes {
		if !o.Success {
			n++
		}
	}

	return n
}

// MessageReport builds a report carrying a single informational line.
func MessageReport(msg string) Report {
	return Report{Outcomes: []Outcome{{Message: msg, State: StatePending}}}
}

// BlankFiltered trims surrounding whitespace from every URL and drops the
// ones left empty, keeping order.
func BlankFiltered(urls []string) []string {
	out := make([]string, 0, len(urls))

	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}

	return out
}
