package gpu

// Result is a status code returned by queue, fence and swapchain operations.
// Negative values are errors; positive values are non-fatal statuses.
type Result int32

const (
	Success                   Result = 0
	NotReady                  Result = 1
	Timeout                   Result = 2
	ErrorOutOfHostMemory      Result = -1
	ErrorOutOfDeviceMemory    Result = -2
	ErrorInitializationFailed Result = -3
	ErrorDeviceLost           Result = -4
	ErrorSurfaceLost          Result = -1000000000
	Suboptimal                Result = 1000001003
	ErrorOutOfDate            Result = -1000001004
)

func (r Result) Error() string {
	switch r {
	case Success:
		return "SUCCESS"
	case NotReady:
		return "NOT READY"
	case Timeout:
		return "TIMEOUT"
	case ErrorOutOfHostMemory:
		return "OUT OF HOST MEMORY"
	case ErrorOutOfDeviceMemory:
		return "OUT OF DEVICE MEMORY"
	case ErrorInitializationFailed:
		return "INITIALIZATION FAILED"
	case ErrorDeviceLost:
		return "DEVICE LOST"
	case ErrorSurfaceLost:
		return "SURFACE LOST"
	case Suboptimal:
		return "SUBOPTIMAL"
	case ErrorOutOfDate:
		return "OUT OF DATE"
	}
	return "UNKNOWN RESULT"
}

func (r Result) String() string { return r.Error() }

// IsError reports whether r is a failure code.
func (r Result) IsError() bool { return r < 0 }

// Err returns nil for non-error results and r otherwise.
func (r Result) Err() error {
	if r.IsError() {
		return r
	}
	return nil
}
