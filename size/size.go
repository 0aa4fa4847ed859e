package size

import (
	"fmt"
	"regexp"
	"strconv"
)

// Size represents size that implements flag.Var
type Size int64

// the following regexes follow Go semantics https://golang.org/ref/spec#Letters_and_digits
var (
	rB  = regexp.MustCompile(`(?i)^(?:0b|0x|0o)?[\da-f_]+$`)
	rKB = regexp.MustCompile(`(?i)^(?:0b|0x|0o)?[\da-f_]+kb$`)
	rMB = regexp.MustCompile(`(?i)^(?:0b|0x|0o)?[\da-f_]+mb$`)
	rGB = regexp.MustCompile(`(?i)^(?:0b|0x|0o)?[\da-f_]+gb$`)
	rTB = regexp.MustCompile(`(?i)^(?:0b|0x|0o)?[\da-f_]+tb$`)
)

const (
	_ = 1 << (iota * 10)
	KB
	MB
	GB
	TB
)

// Set parses size to integer from different bases and data units
func (siz *Size) Set(size string) (err error) {
	if size == "" {
		return
	}

	var (
		lmt = len(size) - 2
		s   = []byte(size)
	)

	var n int64
	switch {
	case rB.Match(s):
		n, err = strconv.ParseInt(size, 0, 64)
	case rKB.Match(s):
		n, err = strconv.ParseInt(size[:lmt], 0, 64)
		n *= KB
	case rMB.Match(s):
		n, err = strconv.ParseInt(size[:lmt], 0, 64)
		n *= MB
	case rGB.Match(s):
		n, err = strconv.ParseInt(size[:lmt], 0, 64)
		n *= GB
	case rTB.Match(s):
		n, err = strconv.ParseInt(size[:lmt], 0, 64)
		n *= TB
	default:
		return fmt.Errorf("invalid size %q", size)
	}
	if err != nil {
		return fmt.Errorf("invalid size %q: %v", size, err)
	}
	*siz = Size(n)
	return
}

func (siz *Size) String() string {
	return fmt.Sprintf("%d", *siz)
}

// Type is here so that Size can be used as a pflag.Value
func (siz *Size) Type() string {
	return "size"
}
