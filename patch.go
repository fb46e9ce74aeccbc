package noctuner

// file patch.go holds the configuration patcher.  Sweep parameters live
// as numeric constant declarations in the simulator's configuration
// source; the patcher rewrites a declaration's value in place, leaving
// every other byte of the file untouched

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// A ParamSpec names one sweep parameter and ties it to its declaration
// in the configuration source.  Decl is the declared constant's name.
// When the source declares its constants anonymously, Occurrence selects
// the Nth declaration matching Pattern instead (1-based); a zero
// Occurrence selects named mode
type ParamSpec struct {
	Name       string `json:"name" yaml:"name"`
	Decl       string `json:"decl" yaml:"decl"`
	Pattern    string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Occurrence int    `json:"occurrence,omitempty" yaml:"occurrence,omitempty"`
}

// declPattern builds the regex locating a named integer declaration,
// capturing the value.  The shape is name, assignment, integer,
// terminator, with the simulator's formatting preserved around it
func declPattern(decl string) *regexp.Regexp {
	return regexp.MustCompile(`(\b` + regexp.QuoteMeta(decl) + `\s*=\s*)(\d+)(\s*;)`)
}

// PatchParam rewrites the value of one parameter's declaration inside
// src and returns the patched text.  The declaration being absent is an
// error: skipping it would leave a stale value in every later sweep
// point
func PatchParam(src string, ps ParamSpec, value int) (string, error) {
	if ps.Occurrence > 0 {
		return patchNth(src, ps, value)
	}

	re := declPattern(ps.Decl)
	loc := re.FindStringSubmatchIndex(src)
	if loc == nil {
		return "", fmt.Errorf("declaration of %s not found", ps.Decl)
	}
	// replace only the captured value, first occurrence only
	return src[:loc[4]] + strconv.Itoa(value) + src[loc[5]:], nil
}

// patchNth handles positionally ordered anonymous declarations: the
// Nth match of the parameter's pattern is its declaration
func patchNth(src string, ps ParamSpec, value int) (string, error) {
	if len(ps.Pattern) == 0 {
		return "", fmt.Errorf("parameter %s selects occurrence %d but has no pattern", ps.Name, ps.Occurrence)
	}
	re, err := regexp.Compile(ps.Pattern)
	if err != nil {
		return "", errors.Wrapf(err, "parameter %s pattern", ps.Name)
	}
	if re.NumSubexp() < 1 {
		return "", fmt.Errorf("parameter %s pattern captures no value group", ps.Name)
	}

	matches := re.FindAllStringSubmatchIndex(src, -1)
	if len(matches) < ps.Occurrence {
		return "", fmt.Errorf("declaration %d of pattern %q not found (%d present)",
			ps.Occurrence, ps.Pattern, len(matches))
	}
	loc := matches[ps.Occurrence-1]
	return src[:loc[2]] + strconv.Itoa(value) + src[loc[3]:], nil
}

// ReadParam reads a parameter's current value back out of src, to
// verify a patch landed before an expensive rebuild
func ReadParam(src string, ps ParamSpec) (int, error) {
	if ps.Occurrence > 0 {
		re, err := regexp.Compile(ps.Pattern)
		if err != nil {
			return 0, errors.Wrapf(err, "parameter %s pattern", ps.Name)
		}
		matches := re.FindAllStringSubmatch(src, -1)
		if len(matches) < ps.Occurrence {
			return 0, fmt.Errorf("declaration %d of pattern %q not found", ps.Occurrence, ps.Pattern)
		}
		return strconv.Atoi(matches[ps.Occurrence-1][1])
	}

	m := declPattern(ps.Decl).FindStringSubmatch(src)
	if m == nil {
		return 0, fmt.Errorf("declaration of %s not found", ps.Decl)
	}
	return strconv.Atoi(m[2])
}

// PatchFile applies a set of parameter values to the configuration file
// and verifies each one by reading it back.  Any failure is returned to
// the caller; an unapplied patch is fatal to a sweep
func PatchFile(filename string, specs []ParamSpec, values []int) error {
	if len(specs) != len(values) {
		return fmt.Errorf("%d parameter specs but %d values", len(specs), len(values))
	}

	raw, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, "reading configuration")
	}
	src := string(raw)

	for idx, ps := range specs {
		src, err = PatchParam(src, ps, values[idx])
		if err != nil {
			return err
		}
	}

	for idx, ps := range specs {
		got, rerr := ReadParam(src, ps)
		if rerr != nil {
			return rerr
		}
		if got != values[idx] {
			return fmt.Errorf("parameter %s reads back %d after patching to %d", ps.Name, got, values[idx])
		}
	}

	err = os.WriteFile(filename, []byte(src), 0644)
	return errors.Wrap(err, "writing configuration")
}
