// Package hostlist parses SLURM-style host list expressions of the
// form "node[0-15,20,22-24]" into matchable sets. Export host
// patterns use these expressions to admit or reject attaching
// clients.
//
// A hostlist string is a comma-separated sequence of terms. Each term
// is either a literal hostname ("tux3"), or a prefix followed by a
// bracketed list of decimal ranges and an optional suffix
// ("tux[1-3,9]", "rack[01-04]a"). Zero-padded range bounds make the
// width significant: "n[01-03]" matches n01 but not n1.
package hostlist

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxExpand bounds the number of hostnames Expand will generate, to
// keep a hostile range such as a[0-4000000000] from exhausting
// memory.
const MaxExpand = 1 << 16

var (
	errEmptyTerm     = errors.New("hostlist: empty term")
	errUnbalanced    = errors.New("hostlist: unbalanced brackets")
	errBadRange      = errors.New("hostlist: bad numeric range")
	errRangeReversed = errors.New("hostlist: range high bound below low bound")
)

type span struct {
	lo, hi uint64
	width  int // minimum digit count; >1 means zero-padded
}

func (s span) matches(num uint64, digits int) bool {
	if num < s.lo || num > s.hi {
		return false
	}
	if s.width > 1 {
		// padded range: digit count must agree with the bounds
		return digits == s.width || (digits > s.width && num >= pow10(digits-1))
	}
	return true
}

func pow10(n int) uint64 {
	v := uint64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

type term struct {
	prefix string
	suffix string
	spans  []span // nil for a literal hostname
}

// A HostList is a parsed hostlist expression.
type HostList struct {
	src   string
	terms []term
}

// Parse compiles a hostlist expression. Callers treat "*" or an
// absent pattern as match-any before consulting a HostList; the empty
// string is an error.
func Parse(s string) (*HostList, error) {
	if s == "" {
		return nil, errEmptyTerm
	}
	hl := &HostList{src: s}
	for _, raw := range splitTerms(s) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, errEmptyTerm
		}
		t, err := parseTerm(raw)
		if err != nil {
			return nil, err
		}
		hl.terms = append(hl.terms, t)
	}
	return hl, nil
}

// splitTerms splits on commas that are not inside brackets.
func splitTerms(s string) []string {
	if s == "" {
		return nil
	}
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func parseTerm(s string) (term, error) {
	open := strings.IndexByte(s, '[')
	if open < 0 {
		if strings.IndexByte(s, ']') >= 0 {
			return term{}, errUnbalanced
		}
		return term{prefix: s}, nil
	}
	close := strings.IndexByte(s[open:], ']')
	if close < 0 {
		return term{}, errUnbalanced
	}
	close += open
	t := term{prefix: s[:open], suffix: s[close+1:]}
	if strings.ContainsAny(t.suffix, "[]") {
		return term{}, errUnbalanced
	}
	for _, r := range strings.Split(s[open+1:close], ",") {
		sp, err := parseSpan(r)
		if err != nil {
			return term{}, err
		}
		t.spans = append(t.spans, sp)
	}
	if len(t.spans) == 0 {
		return term{}, errBadRange
	}
	return t, nil
}

func parseSpan(s string) (span, error) {
	lo, hi := s, s
	if i := strings.IndexByte(s, '-'); i >= 0 {
		lo, hi = s[:i], s[i+1:]
	}
	if lo == "" || hi == "" {
		return span{}, errBadRange
	}
	lon, err := strconv.ParseUint(lo, 10, 64)
	if err != nil {
		return span{}, errBadRange
	}
	hin, err := strconv.ParseUint(hi, 10, 64)
	if err != nil {
		return span{}, errBadRange
	}
	if hin < lon {
		return span{}, errRangeReversed
	}
	width := 1
	if len(lo) > 1 && lo[0] == '0' {
		width = len(lo)
	}
	return span{lo: lon, hi: hin, width: width}, nil
}

// Contains reports whether hostname is a member of the list.
func (hl *HostList) Contains(hostname string) bool {
	for _, t := range hl.terms {
		if t.contains(hostname) {
			return true
		}
	}
	return false
}

func (t term) contains(host string) bool {
	if t.spans == nil {
		return host == t.prefix
	}
	if !strings.HasPrefix(host, t.prefix) || !strings.HasSuffix(host, t.suffix) {
		return false
	}
	mid := host[len(t.prefix) : len(host)-len(t.suffix)]
	if mid == "" {
		return false
	}
	num, err := strconv.ParseUint(mid, 10, 64)
	if err != nil {
		return false
	}
	for _, sp := range t.spans {
		if sp.matches(num, len(mid)) {
			return true
		}
	}
	return false
}

// Expand returns every hostname in the list, in order of appearance.
// It fails if the expansion would exceed MaxExpand names.
func (hl *HostList) Expand() ([]string, error) {
	var out []string
	for _, t := range hl.terms {
		if t.spans == nil {
			out = append(out, t.prefix)
			continue
		}
		for _, sp := range t.spans {
			for n := sp.lo; ; n++ {
				if len(out) >= MaxExpand {
					return nil, fmt.Errorf("hostlist: expansion of %q exceeds %d hosts", hl.src, MaxExpand)
				}
				out = append(out, fmt.Sprintf("%s%0*d%s", t.prefix, sp.width, n, t.suffix))
				if n == sp.hi {
					break
				}
			}
		}
	}
	return out, nil
}

// String returns the expression the list was parsed from.
func (hl *HostList) String() string { return hl.src }
