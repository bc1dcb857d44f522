package dialogue

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/samiam2007/kc-media-leadgen/internal/store"
)

// Rule-based extraction, not model-based, so scoring stays
// deterministic and auditable.
var (
	rePropertyCount = regexp.MustCompile(`(?i)\d+\s*(properties|property|buildings?|listings?)`)
	reFirstNumber   = regexp.MustCompile(`(\d+)`)
	reDollarAmount  = regexp.MustCompile(`(?i)\$[\d,]+|[\d,]+\s*dollars?`)
	reDollarValue   = regexp.MustCompile(`\$?([\d,]+)`)
	reUrgent        = regexp.MustCompile(`(?i)next\s+(week|month)|asap|immediately|urgent`)
	reDayCount      = regexp.MustCompile(`(?i)(\d+)\s*days?\b`)
	reQuarter       = regexp.MustCompile(`(?i)quarter|3\s*months?`)
	reVideo         = regexp.MustCompile(`(?i)video|footage|aerial`)
	rePhotos        = regexp.MustCompile(`(?i)photo|picture|image`)
	reDecision      = regexp.MustCompile(`(?i)decision|authorize|approve|budget`)
)

// Budget bands. A mentioned amount snaps to one of three fixed ranges.
const (
	BudgetLow  = "$500-$2,000"
	BudgetMid  = "$2,000-$5,000"
	BudgetHigh = "$5,000+"
)

const (
	TimelineImmediate = "0-30 days"
	TimelineQuarter   = "30-90 days"
)

// ExtractQualification pulls structured signals from a single qualify
// turn. Only run when the conversation is in the qualify state.
func ExtractQualification(input string) store.QualificationUpdate {
	var u store.QualificationUpdate

	if rePropertyCount.MatchString(input) {
		if m := reFirstNumber.FindStringSubmatch(input); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				u.PropertiesCount = &n
			}
		}
	}

	// Parse the amount out of the dollar mention itself, not the whole
	// input, or an earlier number ("15 properties") wins the band.
	if mention := reDollarAmount.FindString(input); mention != "" {
		if m := reDollarValue.FindStringSubmatch(mention); m != nil {
			raw := strings.ReplaceAll(m[1], ",", "")
			if amount, err := strconv.Atoi(raw); err == nil {
				band := BudgetHigh
				switch {
				case amount < 2000:
					band = BudgetLow
				case amount < 5000:
					band = BudgetMid
				}
				u.BudgetRange = &band
			}
		}
	}

	// Urgency words first, then a literal day count ("within 30 days"),
	// then quarter phrasing. A day count over 90 is no timeline signal.
	if reUrgent.MatchString(input) {
		tl := TimelineImmediate
		u.Timeline = &tl
	} else if m := reDayCount.FindStringSubmatch(input); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			switch {
			case n <= 30:
				tl := TimelineImmediate
				u.Timeline = &tl
			case n <= 90:
				tl := TimelineQuarter
				u.Timeline = &tl
			}
		}
	} else if reQuarter.MatchString(input) {
		tl := TimelineQuarter
		u.Timeline = &tl
	}

	if reVideo.MatchString(input) {
		t := true
		u.NeedsVideo = &t
	}
	if rePhotos.MatchString(input) {
		t := true
		u.NeedsPhotos = &t
	}
	if reDecision.MatchString(input) {
		t := true
		u.DecisionMaker = &t
	}

	return u
}
