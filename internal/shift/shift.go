// Package shift maps a wall-clock time to the production shift it belongs to.
package shift

import (
	"fmt"
	"strconv"
	"strings"
)

// Labels returned by Resolve. None means the time falls outside every shift.
const (
	A    = "A"
	B    = "B"
	None = ""
)

// Window is a shift's span in minutes since midnight.
type Window struct {
	Label   string
	Start   int
	End     int
	EndIncl bool // B runs up to and including 24:00
}

// Contains reports whether total (minutes since midnight) is inside w.
func (w Window) Contains(total int) bool {
	if total < w.Start {
		return false
	}
	if w.EndIncl {
		return total <= w.End
	}
	return total < w.End
}

// String renders w as "A: 07:00-15:30".
func (w Window) String() string {
	return fmt.Sprintf("%s: %s-%s", w.Label, fmtClock(w.Start), fmtClock(w.End))
}

// Windows lists the shifts in the order they are checked. The 15:30 boundary
// belongs to B because A's end is exclusive.
var Windows = []Window{
	{Label: A, Start: 7 * 60, End: 15*60 + 30},
	{Label: B, Start: 15*60 + 30, End: 24 * 60, EndIncl: true},
}

// Resolve returns the shift label for an "HH:MM" (or "HH:MM:SS") time.
// Unparseable input and times outside both windows yield None.
func Resolve(hhmm string) string {
	total, ok := parseHHMMToMin(hhmm)
	if !ok {
		return None
	}
	for _, w := range Windows {
		if w.Contains(total) {
			return w.Label
		}
	}
	return None
}

// Hint is the one-line description shown next to the read-only shift field.
func Hint() string {
	parts := make([]string, 0, len(Windows))
	for _, w := range Windows {
		parts = append(parts, w.String())
	}
	return strings.Join(parts, ", ")
}

// parseHHMMToMin accepts "H:MM", "HH:MM" and "HH:MM:SS". Hours are not capped
// here so that "24:00" survives to the window check.
func parseHHMMToMin(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}
	h, ok := atoiDigits(parts[0])
	if !ok {
		return 0, false
	}
	m, ok := atoiDigits(parts[1])
	if !ok || m > 59 {
		return 0, false
	}
	if len(parts) == 3 {
		if sec, ok := atoiDigits(parts[2]); !ok || sec > 59 {
			return 0, false
		}
	}
	return h*60 + m, true
}

func atoiDigits(s string) (int, bool) {
	if s == "" || len(s) > 2 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func fmtClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}
