package compiler

import (
	"regexp"
	"strings"
)

// EngineDecision captures which engine a project's content directs us
// to use, generalized from the teacher's EngineDecision /
// AnalyzeEngineRequirements (internal/engine_classifier.go): here the
// decision space is only the dump name BundleStore/World needs to pick
// a format, since the actual binary selection is reduced to the three
// black-box entry points spec.md §6 fixes.
type EngineDecision struct {
	Format  string // "xelatex" or "plain"
	Reasons []string
}

var engineDirectiveRE = regexp.MustCompile(`(?m)^%\s*!TEX\s+program\s*=\s*([^\s]+)`)

// DetectFormat mirrors the teacher's detectEngine: scan content for a
// `% !TEX program=` directive; default to xelatex otherwise, matching
// spec.md §4.6's two supported formats.
func DetectFormat(content string) EngineDecision {
	if m := engineDirectiveRE.FindStringSubmatch(content); m != nil {
		switch m[1] {
		case "plain", "tex":
			return EngineDecision{Format: "plain", Reasons: []string{"engine directive requests " + m[1]}}
		}
	}
	return EngineDecision{Format: "xelatex"}
}

// bibliographyMarkers are the .aux substrings whose presence triggers a
// single bibtex pass, per spec.md §4.5.
var bibliographyMarkers = []string{`\bibdata{`, `\bibstyle{`, `\abx@aux@`}

func needsBibliography(auxContent []byte) bool {
	s := string(auxContent)
	for _, marker := range bibliographyMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
