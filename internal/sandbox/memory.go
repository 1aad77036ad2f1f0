package sandbox

import (
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
)

// ReadString reads length bytes at ptr from the guest's linear memory and
// validates it as UTF-8, per spec.md §4.4's string-parameter convention.
// Returns (value, 0) on success, or ("", errCode) naming the violated
// contract: ErrInvalidPointer for an out-of-bounds read, ErrParametersNotUtf8
// for invalid UTF-8.
func ReadString(mod api.Module, ptr, length uint32) (string, HostError) {
	if length == 0 {
		return "", 0
	}
	raw, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "", ErrInvalidPointer
	}
	if !utf8.Valid(raw) {
		return "", ErrParametersNotUtf8
	}
	// Copy out of guest memory: the guest may free/reuse this region
	// immediately after the host call returns.
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return string(cp), 0
}

// WriteBytes writes data into the guest's buffer at (ptr, capacity),
// implementing spec.md §4.4's byte-return convention: the host writes up
// to capacity bytes and returns the actual count, or ErrReturnBufferTooSmall
// if data does not fit, or ErrFailedToWriteGuestMemory if the guest
// memory region is invalid.
func WriteBytes(mod api.Module, ptr, capacity uint32, data []byte) (int32, HostError) {
	if uint32(len(data)) > capacity {
		return 0, ErrReturnBufferTooSmall
	}
	if len(data) == 0 {
		return 0, 0
	}
	if !mod.Memory().Write(ptr, data) {
		return 0, ErrFailedToWriteGuestMemory
	}
	return int32(len(data)), 0
}
