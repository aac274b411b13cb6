// Package portrange derives a reproducible listen port from an application
// name so instances find each other without coordination.
package portrange

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"pkt.systems/rshell/schema"
)

// Default bounds of the port range.
const (
	DefaultBegin = 60100
	DefaultEnd   = 60200
)

// Range is the half-open interval [Begin, End).
type Range struct {
	Begin int
	End   int
}

// Default returns the default range.
func Default() Range {
	return Range{Begin: DefaultBegin, End: DefaultEnd}
}

// Parse reads "begin:end".
func Parse(s string) (Range, error) {
	begin, end, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Range{}, fmt.Errorf("%w: %q, expected begin:end", schema.ErrInvalidPortRange, s)
	}
	b, err := strconv.Atoi(strings.TrimSpace(begin))
	if err != nil {
		return Range{}, fmt.Errorf("%w: begin %q", schema.ErrInvalidPortRange, begin)
	}
	e, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return Range{}, fmt.Errorf("%w: end %q", schema.ErrInvalidPortRange, end)
	}
	r := Range{Begin: b, End: e}
	return r, r.Validate()
}

// Validate enforces 1024 < Begin < End < 65535.
func (r Range) Validate() error {
	if r.Begin <= 1024 || r.End >= 65535 || r.Begin >= r.End {
		return fmt.Errorf("%w: %d:%d must satisfy 1024 < begin < end < 65535", schema.ErrInvalidPortRange, r.Begin, r.End)
	}
	return nil
}

func (r Range) String() string {
	return strconv.Itoa(r.Begin) + ":" + strconv.Itoa(r.End)
}

// Port maps the CRC-32 of the trimmed, upper-cased app name into r. The
// checksum is reduced modulo the range width and masked with width-1, so
// for widths that are not a power of two only part of the range is used.
func Port(appName string, r Range) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	origin := strings.ToUpper(strings.TrimSpace(appName))
	if origin == "" {
		return 0, errors.New("app name is required")
	}
	sum := uint64(crc32.ChecksumIEEE([]byte(origin)))
	mod := uint64(r.End - r.Begin)
	return r.Begin + int((sum%mod)&(mod-1)), nil
}
