package utmc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// EnterprisePrefix roots every UTMC object handled by the gateway.
const EnterprisePrefix = "1.3.6.1.4.1.13267.3.2"

var enterprisePrefix = []int{1, 3, 6, 1, 4, 1, 13267, 3, 2}

var ErrNotApplicable = errors.New("utmc: not a UTMC OID")

// Resolution is the decoded form of a UTMC OID.
type Resolution struct {
	OID       string    `json:"oid"`
	Direction Direction `json:"direction"`
	Path      string    `json:"path"`
	Function  string    `json:"function"`
	Kind      Kind      `json:"-"`
	Known     bool      `json:"known"`
	PreIndex  int       `json:"pre_index"`
	SiteCode  string    `json:"site_code"`
}

// Resolve decodes oid into direction, function, preIndex and site code.
// Unknown paths resolve to a synthetic UNK(<path>) function rather than
// an error.
func Resolve(oid string) (Resolution, error) {
	parts, err := components(oid)
	if err != nil {
		return Resolution{}, err
	}
	if len(parts) < len(enterprisePrefix) {
		return Resolution{}, fmt.Errorf("%w: %q", ErrNotApplicable, oid)
	}
	for i, v := range enterprisePrefix {
		if parts[i] != v {
			return Resolution{}, fmt.Errorf("%w: %q outside %s", ErrNotApplicable, oid, EnterprisePrefix)
		}
	}

	rest := parts[len(enterprisePrefix):]
	if len(rest) < 5 {
		return Resolution{}, fmt.Errorf("%w: %q has %d components after prefix", ErrNotApplicable, oid, len(rest))
	}

	pathParts := make([]string, 4)
	for i := range pathParts {
		pathParts[i] = strconv.Itoa(rest[i])
	}

	res := Resolution{
		OID:       oid,
		Path:      strings.Join(pathParts, "."),
		PreIndex:  rest[4],
		Direction: Out,
	}
	if strings.HasPrefix(res.Path, "4.") {
		res.Direction = In
	}
	if len(rest) >= 6 {
		res.SiteCode = siteCode(rest[5], rest[6:])
	}

	if fn, ok := LookupPath(res.Direction, res.Path); ok {
		res.Function = fn.Mnemonic
		res.Kind = fn.Kind
		res.Known = true
	} else {
		res.Function = "UNK(" + res.Path + ")"
	}

	return res, nil
}

// Encode builds an OID for path, preIndex and site code. It is the inverse
// of Resolve for well formed input.
func Encode(path string, preIndex int, site string) (string, error) {
	segs := strings.Split(strings.Trim(path, "."), ".")
	if len(segs) != 4 {
		return "", fmt.Errorf("path %q must have 4 components", path)
	}
	for _, s := range segs {
		if _, err := strconv.Atoi(s); err != nil {
			return "", fmt.Errorf("path %q: %w", path, err)
		}
	}

	var sb strings.Builder
	sb.WriteString(EnterprisePrefix)
	sb.WriteByte('.')
	sb.WriteString(strings.Join(segs, "."))
	fmt.Fprintf(&sb, ".%d", preIndex)
	if site != "" {
		runes := []rune(site)
		fmt.Fprintf(&sb, ".%d", len(runes))
		for _, r := range runes {
			fmt.Fprintf(&sb, ".%d", r)
		}
	}
	return sb.String(), nil
}

func components(oid string) ([]int, error) {
	trimmed := strings.Trim(strings.TrimSpace(oid), ".")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrNotApplicable)
	}
	fields := strings.Split(trimmed, ".")
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: component %q", ErrNotApplicable, f)
		}
		out[i] = v
	}
	return out, nil
}

// siteCode decodes the length-prefixed character codes. Fewer codes than
// declared are used as present; an invalid code voids the whole site code.
func siteCode(declared int, codes []int) string {
	if declared <= 0 {
		return ""
	}
	if declared < len(codes) {
		codes = codes[:declared]
	}
	var sb strings.Builder
	for _, c := range codes {
		if c < 0 || c > utf8.MaxRune {
			return ""
		}
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
