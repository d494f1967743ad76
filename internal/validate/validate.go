// Package validate implements the miner-supplied-field checks described
// in spec §4.7: hex strings, worker names, Bitcoin addresses (base58
// shape plus full bech32/bech32m checksum), ntime drift, version bits,
// a JSON payload gate, and user-agent sanitization. The validators return
// a bool and do not log; LogFailure logs a rejection at WARNING with the
// offending input safely truncated, for callers that invoke it.
package validate

import (
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tbg/tbgpool/internal/bech32"
)

const (
	MaxBTCAddressLen  = 90
	MaxWorkerNameLen  = 128
	MaxNtimeLen       = 8
	MaxVersionBitsLen = 8
	MaxUserAgentLen   = 256
	MaxJSONPayload    = 4096
	MaxJSONNesting    = 3
	MaxNtimeDrift     = 7200

	logInputTruncate = 64
)

const base58Charset = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func isHexChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// HexString validates a hex string of an exact expected length.
func HexString(hex string, expectedLen int) bool {
	if len(hex) != expectedLen {
		return false
	}
	for i := 0; i < len(hex); i++ {
		if !isHexChar(hex[i]) {
			return false
		}
	}
	return true
}

// HexStringMax validates a non-empty hex string no longer than maxLen.
func HexStringMax(hex string, maxLen int) bool {
	if len(hex) == 0 || len(hex) > maxLen {
		return false
	}
	for i := 0; i < len(hex); i++ {
		if !isHexChar(hex[i]) {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// WorkerName validates the portion after the '.' separator in
// mining.authorize: 1..128 chars of [A-Za-z0-9_.-].
func WorkerName(name string) bool {
	if len(name) == 0 || len(name) > MaxWorkerNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !isAlnum(c) && c != '_' && c != '-' && c != '.' {
			return false
		}
	}
	return true
}

func isBase58Char(c byte) bool {
	return strings.IndexByte(base58Charset, c) >= 0
}

// validateBase58Address checks P2PKH/P2SH shape only: length 25-34 and a
// valid base58 character set. A downstream collaborator performs the
// double-SHA256 checksum; this is pre-validation to reject obvious junk.
func validateBase58Address(address string) bool {
	if len(address) < 25 || len(address) > 34 {
		return false
	}
	for i := 0; i < len(address); i++ {
		if !isBase58Char(address[i]) {
			return false
		}
	}
	return true
}

func hasCaseInsensitivePrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return strings.EqualFold(s[:len(prefix)], prefix)
}

// validateBech32AddressShape checks the length/prefix/charset shape spec
// §4.7 describes for bech32 addresses — it does NOT verify the
// checksum; that's BTCAddress's job via the bech32 package.
func validateBech32AddressShape(address string) bool {
	if len(address) < 14 || len(address) > 74 {
		return false
	}
	if !hasCaseInsensitivePrefix(address, "bc1") && !hasCaseInsensitivePrefix(address, "tb1") {
		return false
	}
	fourth := address[3]
	if fourth >= 'A' && fourth <= 'Z' {
		fourth += 32
	}
	if fourth != 'q' && fourth != 'p' {
		return false
	}
	for i := 4; i < len(address); i++ {
		c := address[i]
		if c >= 'A' && c <= 'Z' {
			c += 32
		}
		if strings.IndexByte("qpzry9x8gf2tvdw0s3jn54khce6mua7l", c) < 0 {
			return false
		}
	}
	return true
}

// BTCAddress dispatches on the first character: base58 shape for
// 1/3/m/n/2 prefixes, full bech32/bech32m checksum verification (plus
// SegWit version/program-length/HRP rules) for bc1/tb1 prefixes.
func BTCAddress(address string) bool {
	if len(address) == 0 || len(address) > MaxBTCAddressLen {
		return false
	}

	switch address[0] {
	case '1', '3', 'm', 'n', '2':
		return validateBase58Address(address)
	}

	if hasCaseInsensitivePrefix(address, "bc1") || hasCaseInsensitivePrefix(address, "tb1") {
		if !validateBech32AddressShape(address) {
			return false
		}
		_, ok := bech32.DecodeSegWitAddress(address)
		return ok
	}

	return false
}

// Ntime validates an 8-hex-char ntime field and checks that the decoded
// 32-bit timestamp is within maxDriftSeconds of now.
func Ntime(ntimeHex string, now time.Time, maxDriftSeconds int64) bool {
	if !HexString(ntimeHex, MaxNtimeLen) {
		return false
	}
	val, err := strconv.ParseUint(ntimeHex, 16, 32)
	if err != nil {
		return false
	}
	ntimeUnix := int64(val)
	drift := ntimeUnix - now.Unix()
	if drift < 0 {
		drift = -drift
	}
	return drift <= maxDriftSeconds
}

// VersionBits validates an 8-hex-char version-bits field: (submitted XOR
// jobVersion) AND NOT versionMask must be zero.
func VersionBits(versionHex string, jobVersion, versionMask uint32) bool {
	if !HexString(versionHex, MaxVersionBitsLen) {
		return false
	}
	submitted, err := strconv.ParseUint(versionHex, 16, 32)
	if err != nil {
		return false
	}
	modified := uint32(submitted) ^ jobVersion
	return modified & ^versionMask == 0
}

// JSONPayload rejects empty or oversize buffers, requires the first
// non-whitespace byte to be '{', and rejects nesting deeper than
// MaxJSONNesting as measured by a non-parsing brace/bracket scan that
// respects string literals and escape sequences.
func JSONPayload(buf []byte, maxSize int) bool {
	if len(buf) == 0 {
		return false
	}
	if len(buf) > maxSize {
		return false
	}

	i := 0
	for i < len(buf) {
		switch buf[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	if i >= len(buf) || buf[i] != '{' {
		return false
	}

	return jsonNestingDepth(buf[i:]) <= MaxJSONNesting
}

func jsonNestingDepth(buf []byte) int {
	depth, maxDepth := 0, 0
	inString, escape := false, false

	for _, c := range buf {
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{', '[':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}', ']':
			depth--
		}
	}
	return maxDepth
}

// SanitizeUserAgent replaces bytes outside 0x20-0x7E with '?' and
// truncates at maxLen, in place. Returns whether the original was clean
// (no truncation, no non-printable bytes).
func SanitizeUserAgent(userAgent []byte, maxLen int) ([]byte, bool) {
	clean := true
	if len(userAgent) > maxLen {
		userAgent = userAgent[:maxLen]
		clean = false
	}
	for i := range userAgent {
		if userAgent[i] < 0x20 || userAgent[i] > 0x7E {
			userAgent[i] = '?'
			clean = false
		}
	}
	return userAgent, clean
}

// safeTruncate replaces control characters with '.' and truncates at
// logInputTruncate bytes, to prevent log injection from the offending
// input.
func safeTruncate(input string) string {
	if len(input) > logInputTruncate {
		input = input[:logInputTruncate]
	}
	out := make([]byte, len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c >= 0x20 && c <= 0x7E {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

// LogFailure logs a validation failure at WARNING with the client IP,
// field name, reason, and a sanitized, truncated copy of the offending
// input.
func LogFailure(log *logrus.Logger, ip, field, input, reason string) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if ip == "" {
		ip = "unknown"
	}
	log.WithFields(logrus.Fields{
		"ip":     ip,
		"field":  field,
		"reason": reason,
		"input":  safeTruncate(input),
	}).Warn("validation failure")
}
