// Package report writes verdicts as JUnit XML test suites and merges report
// files into one aggregate.
package report

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"perf-trend-alerts/internal/verdict"
)

// Suite is one <testsuite> element.
type Suite struct {
	XMLName  xml.Name `xml:"testsuite"`
	Name     string   `xml:"name,attr,omitempty"`
	Tests    int      `xml:"tests,attr"`
	Failures int      `xml:"failures,attr"`
	Errors   int      `xml:"errors,attr"`
	Time     Seconds  `xml:"time,attr"`
	Cases    []Case   `xml:"testcase"`
}

// Case is one <testcase>, one per verdict.
type Case struct {
	ClassName string   `xml:"classname,attr"`
	Name      string   `xml:"name,attr"`
	Time      Seconds  `xml:"time,attr"`
	Failure   *Failure `xml:"failure,omitempty"`
	Error     *Failure `xml:"error,omitempty"`
}

// Failure carries the verdict message.
type Failure struct {
	Type    string `xml:"type,attr,omitempty"`
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

// Seconds is a duration attribute rendered as fractional seconds.
type Seconds float64

// MarshalXMLAttr implements xml.MarshalerAttr.
func (s Seconds) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: strconv.FormatFloat(float64(s), 'f', 3, 64)}, nil
}

// UnmarshalXMLAttr implements xml.UnmarshalerAttr. An empty value reads as 0.
func (s *Seconds) UnmarshalXMLAttr(attr xml.Attr) error {
	if strings.TrimSpace(attr.Value) == "" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(attr.Value), 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", attr.Name.Local, err)
	}
	*s = Seconds(v)
	return nil
}

// Summary holds the aggregate counters of a report.
type Summary struct {
	Tests    int
	Failures int
	Errors   int
	Time     float64
}

// Failed reports whether a report with tests contains failures or errors.
func (s Summary) Failed() bool {
	return s.Tests > 0 && s.Failures+s.Errors > 0
}

// Summary returns the counters of the suite.
func (s Suite) Summary() Summary {
	return Summary{Tests: s.Tests, Failures: s.Failures, Errors: s.Errors, Time: float64(s.Time)}
}

// SuiteName is the suite name used for a branch.
func SuiteName(branch string) string {
	return "Test_" + branch
}

// FromVerdicts builds one suite per branch, suites ordered by branch and
// cases in verdict order. elapsed is spread over the suites by case count.
func FromVerdicts(verdicts []verdict.Verdict, elapsed time.Duration) []Suite {
	byBranch := make(map[string]*Suite)
	var branches []string
	for _, v := range verdicts {
		s, ok := byBranch[v.Branch]
		if !ok {
			s = &Suite{Name: SuiteName(v.Branch)}
			byBranch[v.Branch] = s
			branches = append(branches, v.Branch)
		}
		c := Case{ClassName: SuiteName(v.Branch), Name: v.Name()}
		if v.Failed() {
			c.Failure = &Failure{Type: string(v.Kind), Message: v.Message(), Text: v.Message()}
			s.Failures++
		}
		s.Tests++
		s.Cases = append(s.Cases, c)
	}
	sort.Strings(branches)

	perCase := 0.0
	if len(verdicts) > 0 {
		perCase = elapsed.Seconds() / float64(len(verdicts))
	}

	out := make([]Suite, 0, len(branches))
	for _, b := range branches {
		s := byBranch[b]
		for i := range s.Cases {
			s.Cases[i].Time = Seconds(perCase)
		}
		s.Time = Seconds(perCase * float64(s.Tests))
		out = append(out, *s)
	}
	return out
}

// Encode writes the suite as an XML document.
func Encode(w io.Writer, s Suite) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode testsuite: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Decode parses a testsuite document.
func Decode(r io.Reader) (Suite, error) {
	var s Suite
	if err := xml.NewDecoder(r).Decode(&s); err != nil {
		return Suite{}, fmt.Errorf("decode testsuite: %w", err)
	}
	return s, nil
}

// WriteFile replaces path with the encoded suite.
func WriteFile(path string, s Suite) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := Encode(f, s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFile parses a report file.
func ReadFile(path string) (Suite, error) {
	f, err := os.Open(path)
	if err != nil {
		return Suite{}, err
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return Suite{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ReadSummary reads only the aggregate counters of a report file.
func ReadSummary(path string) (Summary, error) {
	s, err := ReadFile(path)
	if err != nil {
		return Summary{}, err
	}
	return s.Summary(), nil
}

// WriteDir writes each suite to dir/TEST-<branch>.xml and returns the paths.
func WriteDir(dir string, suites []Suite) ([]string, error) {
	if dir == "" {
		return nil, errors.New("report output directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(suites))
	for _, s := range suites {
		path := filepath.Join(dir, "TEST-"+fileSafe(s.Name)+".xml")
		if err := WriteFile(path, s); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}
