//go:build windows

package monitor

import (
	"os"
	"syscall"
	"unsafe"
)

var (
	kernel32          = syscall.NewLazyDLL("kernel32.dll")
	getCompressedSize = kernel32.NewProc("GetCompressedFileSizeW")
)

const invalidFileSize = 0xFFFFFFFF

// allocatedSize returns the on-disk size reported by
// GetCompressedFileSizeW, falling back to the logical size.
func allocatedSize(path string, info os.FileInfo) int64 {
	p, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return info.Size()
	}

	var high uint32
	low, _, _ := getCompressedSize.Call(
		uintptr(unsafe.Pointer(p)),
		uintptr(unsafe.Pointer(&high)),
	)
	if low == invalidFileSize {
		return info.Size()
	}
	return int64(high)<<32 | int64(low)
}
