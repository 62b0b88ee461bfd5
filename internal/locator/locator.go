// Package locator builds and parses the canonical address of one version of
// one path in a bup branch:
//
//	bup://<repository>/<branch>/<2006-01-02T15:04:05Z>/<path>/<from>/<root>
//
// Repository and branch are single escaped segments, so a repository given
// as a filesystem path survives the round trip.
package locator

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Scheme prefixes every locator.
const Scheme = "bup://"

// TimeFormat is the layout of the snapshot time segment, always UTC.
const TimeFormat = "2006-01-02T15:04:05Z"

// ErrInvalidLocator is returned by Parse for malformed input.
var ErrInvalidLocator = errors.New("locator: invalid locator")

// Locator addresses the version of Path present in the snapshot of Branch
// taken at Time.
type Locator struct {
	Repository string
	Branch     string
	Time       time.Time
	// Path is slash separated and absolute; "/" is the snapshot root.
	Path string
}

// String renders l in canonical form.
func (l Locator) String() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString(url.PathEscape(l.Repository))
	b.WriteByte('/')
	b.WriteString(url.PathEscape(l.Branch))
	b.WriteByte('/')
	b.WriteString(l.Time.UTC().Format(TimeFormat))
	b.WriteByte('/')
	for i, part := range splitPath(l.Path) {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(url.PathEscape(part))
	}
	return b.String()
}

// Parse is the inverse of String.
func Parse(s string) (Locator, error) {
	rest, ok := strings.CutPrefix(s, Scheme)
	if !ok {
		return Locator{}, fmt.Errorf("%w: %q: missing %s prefix", ErrInvalidLocator, s, Scheme)
	}
	segs := strings.SplitN(rest, "/", 4)
	if len(segs) < 4 {
		return Locator{}, fmt.Errorf("%w: %q: want repository, branch, time and path", ErrInvalidLocator, s)
	}

	var (
		l   Locator
		err error
	)
	if l.Repository, err = url.PathUnescape(segs[0]); err != nil || l.Repository == "" {
		return Locator{}, fmt.Errorf("%w: %q: bad repository segment", ErrInvalidLocator, s)
	}
	if l.Branch, err = url.PathUnescape(segs[1]); err != nil || l.Branch == "" {
		return Locator{}, fmt.Errorf("%w: %q: bad branch segment", ErrInvalidLocator, s)
	}
	if l.Time, err = time.Parse(TimeFormat, segs[2]); err != nil {
		return Locator{}, fmt.Errorf("%w: %q: %v", ErrInvalidLocator, s, err)
	}

	var parts []string
	if segs[3] != "" {
		for _, p := range strings.Split(segs[3], "/") {
			part, err := url.PathUnescape(p)
			if err != nil || part == "" {
				return Locator{}, fmt.Errorf("%w: %q: bad path component %q", ErrInvalidLocator, s, p)
			}
			parts = append(parts, part)
		}
	}
	l.Path = "/" + strings.Join(parts, "/")
	return l, nil
}

// Components returns the non-empty names along l.Path.
func (l Locator) Components() []string {
	return splitPath(l.Path)
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
