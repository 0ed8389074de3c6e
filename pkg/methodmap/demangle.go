package methodmap

import (
	"strconv"
	"strings"
)

// demangleItanium performs a best-effort Itanium C++ ABI demangling of
// name, covering the common case flightRecorder.cpp relies on: a
// "_Z" + nested-name sequence of length-prefixed identifiers, optionally
// wrapped in N...E for qualified names, terminated by an argument-type
// mangling this function does not attempt to decode.
//
// No ecosystem demangler is pulled in here: the real Itanium demanglers
// live behind cgo (abi::__cxa_demangle) or as part of the Go toolchain's
// internal, non-importable pprof support, neither of which this module
// can depend on. This covers the identifiers that matter for a frame's
// display name (namespace/class/method) and reports ok=false for
// anything it can't confidently parse, leaving the raw mangled name as
// the fallback display.
func demangleItanium(name string) (string, bool) {
	rest := strings.TrimPrefix(name, "_Z")
	if rest == name {
		return name, false
	}

	nested := false
	if strings.HasPrefix(rest, "N") {
		nested = true
		rest = rest[1:]
	}

	var parts []string
	for len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
		n, remainder, ok := readLengthPrefixed(rest)
		if !ok {
			break
		}
		parts = append(parts, n)
		rest = remainder
	}

	if len(parts) == 0 {
		return name, false
	}

	if nested {
		rest = strings.TrimPrefix(rest, "E")
	}

	return strings.Join(parts, "::"), true
}

// readLengthPrefixed reads one <length><identifier> component from s,
// returning the identifier, the remaining unparsed suffix, and whether
// parsing succeeded.
func readLengthPrefixed(s string) (ident, remainder string, ok bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return "", s, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n <= 0 || i+n > len(s) {
		return "", s, false
	}
	return s[i : i+n], s[i+n:], true
}
