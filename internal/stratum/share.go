package stratum

import (
	"strconv"

	"github.com/tbg/tbgpool/internal/validate"
)

const (
	MaxNonceLen   = 8
	MaxNonce2Len  = 16
	MaxNtimeLen   = 8
	MaxVersionLen = 8
)

// ShareError enumerates the reasons a mining.submit can be rejected.
type ShareError int

const (
	ShareOK ShareError = iota
	ShareErrInvalidNonce
	ShareErrInvalidNonce2
	ShareErrInvalidNtime
	ShareErrInvalidJobID
	ShareErrStaleJob
	ShareErrNtimeOutOfRange
	ShareErrInvalidVersion
)

func (e ShareError) String() string {
	switch e {
	case ShareOK:
		return "ok"
	case ShareErrInvalidNonce:
		return "invalid_nonce"
	case ShareErrInvalidNonce2:
		return "invalid_nonce2"
	case ShareErrInvalidNtime:
		return "invalid_ntime"
	case ShareErrInvalidJobID:
		return "invalid_job_id"
	case ShareErrStaleJob:
		return "stale_job"
	case ShareErrNtimeOutOfRange:
		return "ntime_out_of_range"
	case ShareErrInvalidVersion:
		return "invalid_version"
	default:
		return "unknown"
	}
}

// Job is the subset of an active mining job's state needed to validate a
// submitted share's ntime window and version-rolling mask.
type Job struct {
	ID          string
	Active      bool
	NtimeMin    uint32
	NtimeMax    uint32
	VersionMask uint32
}

// Submission is a parsed mining.submit, prior to validation.
type Submission struct {
	Worker     string
	JobID      string
	Nonce2Hex  string
	NtimeHex   string
	NonceHex   string
	VersionHex string
	HasVersion bool
}

// ValidateShare checks the share-field invariants from spec §4.7: nonce
// is 8 hex chars, nonce2 is 1-16 hex chars of even length, ntime is 8 hex
// chars inside the job's window, the job exists and is active, and any
// submitted version bits fall inside the job's mask.
func ValidateShare(s Submission, findJob func(jobID string) (Job, bool)) ShareError {
	if !validate.HexString(s.NonceHex, MaxNonceLen) {
		return ShareErrInvalidNonce
	}
	if len(s.Nonce2Hex) == 0 || len(s.Nonce2Hex) > MaxNonce2Len || len(s.Nonce2Hex)%2 != 0 {
		return ShareErrInvalidNonce2
	}
	if !validate.HexStringMax(s.Nonce2Hex, MaxNonce2Len) {
		return ShareErrInvalidNonce2
	}
	if !validate.HexString(s.NtimeHex, MaxNtimeLen) {
		return ShareErrInvalidNtime
	}
	if s.JobID == "" {
		return ShareErrInvalidJobID
	}

	var versionBits uint64
	if s.HasVersion {
		if !validate.HexString(s.VersionHex, MaxVersionLen) {
			return ShareErrInvalidVersion
		}
		versionBits, _ = strconv.ParseUint(s.VersionHex, 16, 32)
	}

	job, ok := findJob(s.JobID)
	if !ok {
		return ShareErrInvalidJobID
	}
	if !job.Active {
		return ShareErrStaleJob
	}

	ntime, err := strconv.ParseUint(s.NtimeHex, 16, 32)
	if err != nil {
		return ShareErrInvalidNtime
	}
	if uint32(ntime) < job.NtimeMin || uint32(ntime) > job.NtimeMax {
		return ShareErrNtimeOutOfRange
	}

	if s.HasVersion {
		if uint32(versionBits)&^job.VersionMask != 0 {
			return ShareErrInvalidVersion
		}
	}

	return ShareOK
}
