package bridge

// HRESULT is the foreign status code: negative means failure, with the
// facility and code packed into the low 31 bits.
type HRESULT int32

const (
	SOK           HRESULT = 0
	SFalse        HRESULT = 1
	EFail         HRESULT = -0x7FFFBFFB // 0x80004005
	EInvalidArg   HRESULT = -0x7FF8FFA9 // 0x80070057
	EOutOfMemory  HRESULT = -0x7FF8FFF2 // 0x8007000E
	ENotImpl      HRESULT = -0x7FFFBFFF // 0x80004001
)

// Failed reports whether the status encodes a failure.
func (hr HRESULT) Failed() bool { return hr < 0 }

// Facility extracts the facility field.
func (hr HRESULT) Facility() uint16 { return uint16(uint32(hr)>>16) & 0x7FF }

// Code extracts the error code field.
func (hr HRESULT) Code() uint16 { return uint16(uint32(hr)) }
