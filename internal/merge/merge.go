// Package merge implements the text merge shown to a writer whose edit was
// based on a revision that is no longer current. It is a line-oriented union
// merge, not a semantic one: regions changed on only one side are kept from
// that side, and regions changed on both sides are emitted with conflict
// markers instead of guessing a resolution.
package merge

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Markers used when both sides changed the same region. The caller shows the
// result back to the submitter; it is never committed automatically.
const (
	MarkerCurrent   = "<<<<<<< current"
	MarkerSeparator = "======="
	MarkerSubmitted = ">>>>>>> submitted"
)

// Simple merges the submitted text against the new current text line-wise.
// Both inputs are treated with normalized LF line endings; the result uses LF
// and the revision chain re-normalizes on append.
func Simple(current, submitted string) string {
	current = normalize(current)
	submitted = normalize(submitted)
	if current == submitted {
		return current
	}

	dmp := diffmatchpatch.New()
	c1, c2, lines := dmp.DiffLinesToChars(current, submitted)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lines)

	var b strings.Builder
	for i := 0; i < len(diffs); i++ {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		case diffmatchpatch.DiffDelete:
			// A deletion immediately followed by an insertion means both
			// sides rewrote the same region: surface it as a conflict.
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				writeConflict(&b, d.Text, diffs[i+1].Text)
				i++
				continue
			}
			// Present only in the current text: the union keeps it.
			b.WriteString(d.Text)
		case diffmatchpatch.DiffInsert:
			// Present only in the submitted text: the union keeps it.
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

// HasConflicts reports whether a merged text still carries conflict markers
// and therefore needs manual resolution before resubmission.
func HasConflicts(merged string) bool {
	return strings.Contains(merged, MarkerCurrent)
}

func writeConflict(b *strings.Builder, currentBlock, submittedBlock string) {
	b.WriteString(MarkerCurrent + "\n")
	b.WriteString(ensureTrailingNewline(currentBlock))
	b.WriteString(MarkerSeparator + "\n")
	b.WriteString(ensureTrailingNewline(submittedBlock))
	b.WriteString(MarkerSubmitted + "\n")
}

func normalize(text string) string {
	return strings.ReplaceAll(text, "\r\n", "\n")
}

func ensureTrailingNewline(text string) string {
	if text == "" || strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}
