// Package bech32 implements BIP173 (bech32) and BIP350 (bech32m) address
// checksum verification and SegWit address decoding, as used to fully
// validate the bc1/tb1 branch of Bitcoin address validation (the base58
// branch is only shape-checked; its checksum is a downstream collaborator's
// job, per spec §4.7).
package bech32

import "strings"

const (
	maxLen       = 90
	checksumLen  = 6
	maxDataLen   = 65
	maxHRPLen    = 10
	charset      = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	bech32Const  = 1
	bech32mConst = 0x2BC830A3
)

var gen = [5]uint32{0x3B6A57B2, 0x26508E6D, 0x1EA119FA, 0x3D4233DD, 0x2A1462B3}

// Encoding identifies which checksum constant a decoded string matched.
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingBech32
	EncodingBech32m
)

// Result is a decoded bech32/bech32m string, prior to SegWit-specific
// interpretation of the data payload.
type Result struct {
	Encoding Encoding
	HRP      string
	Data     []byte // 5-bit groups, checksum stripped
}

func polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1FFFFFF)<<5 ^ uint32(v)
		for j := 0; j < 5; j++ {
			if (top>>uint(j))&1 == 1 {
				chk ^= gen[j]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]&0x1F)
	}
	return out
}

func verifyChecksum(hrp string, data []byte) Encoding {
	values := append(hrpExpand(hrp), data...)
	switch polymod(values) {
	case bech32Const:
		return EncodingBech32
	case bech32mConst:
		return EncodingBech32m
	default:
		return EncodingNone
	}
}

// Decode parses a bech32/bech32m string: finds the separator, validates
// HRP and data-part character sets (rejecting mixed case anywhere in the
// string), and verifies the checksum. It does not interpret the payload
// as a SegWit witness program; see DecodeSegWitAddress for that.
func Decode(input string) (Result, bool) {
	if len(input) < 8 || len(input) > maxLen {
		return Result{}, false
	}

	sep := strings.LastIndexByte(input, '1')
	if sep < 1 || sep+7 > len(input) {
		return Result{}, false
	}

	hrpLen := sep
	if hrpLen > maxHRPLen || hrpLen < 1 {
		return Result{}, false
	}

	hasLower, hasUpper := false, false
	hrpBytes := make([]byte, hrpLen)
	for i := 0; i < hrpLen; i++ {
		c := input[i]
		if c < 33 || c > 126 {
			return Result{}, false
		}
		switch {
		case c >= 'A' && c <= 'Z':
			hasUpper = true
			hrpBytes[i] = c + 32
		case c >= 'a' && c <= 'z':
			hasLower = true
			hrpBytes[i] = c
		default:
			hrpBytes[i] = c
		}
	}

	dataPartLen := len(input) - sep - 1
	if dataPartLen < checksumLen {
		return Result{}, false
	}

	data := make([]byte, dataPartLen)
	for i := 0; i < dataPartLen; i++ {
		c := input[sep+1+i]
		switch {
		case c >= 'A' && c <= 'Z':
			hasUpper = true
			c += 32
		case c >= 'a' && c <= 'z':
			hasLower = true
		}
		if hasLower && hasUpper {
			return Result{}, false
		}
		idx := strings.IndexByte(charset, c)
		if idx < 0 {
			return Result{}, false
		}
		data[i] = byte(idx)
	}

	hrp := string(hrpBytes)
	enc := verifyChecksum(hrp, data)
	if enc == EncodingNone {
		return Result{}, false
	}

	payload := data[:dataPartLen-checksumLen]
	if len(payload) > maxDataLen {
		return Result{}, false
	}

	return Result{Encoding: enc, HRP: hrp, Data: append([]byte(nil), payload...)}, true
}

// convertBits regroups a sequence of inBits-wide values into outBits-wide
// values, as used to turn bech32's 5-bit groups into 8-bit witness-program
// bytes.
func convertBits(in []byte, inBits, outBits int, pad bool) ([]byte, bool) {
	var val uint32
	bits := 0
	maxv := uint32(1<<uint(outBits)) - 1
	var out []byte

	for _, b := range in {
		if uint32(b)>>uint(inBits) != 0 {
			return nil, false
		}
		val = (val << uint(inBits)) | uint32(b)
		bits += inBits
		for bits >= outBits {
			bits -= outBits
			out = append(out, byte((val>>uint(bits))&maxv))
		}
	}

	if pad {
		if bits > 0 {
			out = append(out, byte((val<<uint(outBits-bits))&maxv))
		}
	} else if bits >= inBits || (val<<uint(outBits-bits))&maxv != 0 {
		return nil, false
	}

	return out, true
}

// SegWitAddress is the fully validated result of decoding a SegWit
// bech32/bech32m Bitcoin address.
type SegWitAddress struct {
	HRP            string
	WitnessVersion int
	WitnessProgram []byte
}

// DecodeSegWitAddress decodes addr and applies the SegWit-specific rules
// from spec §4.7: v0 must be bech32 with a 20 or 32 byte program, v1+
// must be bech32m, v1 (Taproot) must be exactly 32 bytes, and the HRP
// must be one of bc/tb/bcrt.
func DecodeSegWitAddress(addr string) (SegWitAddress, bool) {
	res, ok := Decode(addr)
	if !ok || len(res.Data) < 2 {
		return SegWitAddress{}, false
	}

	version := int(res.Data[0])
	if version > 16 {
		return SegWitAddress{}, false
	}

	program, ok := convertBits(res.Data[1:], 5, 8, false)
	if !ok {
		return SegWitAddress{}, false
	}
	if len(program) < 2 || len(program) > 40 {
		return SegWitAddress{}, false
	}

	if version == 0 {
		if len(program) != 20 && len(program) != 32 {
			return SegWitAddress{}, false
		}
		if res.Encoding != EncodingBech32 {
			return SegWitAddress{}, false
		}
	}
	if version >= 1 {
		if res.Encoding != EncodingBech32m {
			return SegWitAddress{}, false
		}
		if version == 1 && len(program) != 32 {
			return SegWitAddress{}, false
		}
	}

	switch res.HRP {
	case "bc", "tb", "bcrt":
	default:
		return SegWitAddress{}, false
	}

	return SegWitAddress{HRP: res.HRP, WitnessVersion: version, WitnessProgram: program}, true
}
