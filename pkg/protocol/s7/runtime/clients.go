package runtime

// Session is one established ISO-on-TCP session with a PLC. Implementations
// are not safe for concurrent use; callers serialize access.
type Session interface {
	ReadArea(area S7StoreArea, block int, start int, buf []byte) error
	WriteArea(area S7StoreArea, block int, start int, buf []byte) error
	CPUInfo() (CPUInfo, error)
	CPUState() (CPUState, error)
	Close() error
}
