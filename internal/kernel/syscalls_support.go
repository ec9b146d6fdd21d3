package kernel

import "fmt"

// SupportRequest carries a decoded support-level syscall (spec.md §4.6,
// SYS9-20). A real trap handler would decode these from registers and a
// user-supplied memory address; this simulator has no instruction-level
// memory to read buffers from (SPEC_FULL.md §0), so callers (test harnesses,
// the CLI front end) pass the already-decoded arguments directly.
type SupportRequest struct {
	Syscall int

	DevNum int
	Sector int // disk/flash: target sector or block
	Key    int32 // SYS19/SYS20: logical semaphore number
	Seconds int32 // SYS18

	Write []byte          // SYS11/SYS12 payload
	Buf   *[FrameSize]byte // SYS14/SYS15/SYS16/SYS17 direct sector/block buffer
	ReadLen int            // SYS13 requested length
}

// DispatchSupportSyscall implements spec.md §4.6's support-level syscall
// dispatcher: the handler a process's Support general-exception context
// resumes into after SYS8/pass-up delivers a syscall trap from user mode.
// It returns the value SYS8-style callers expect in v0, any bytes read
// (SYS13 only — a real syscall would have copied these into the caller's
// buffer, which this memory-less simulator has no address for), or an
// error for a parameter violation (spec.md's per-syscall edge cases).
func (k *Kernel) DispatchSupportSyscall(id ProcessID, req SupportRequest) (v0 int64, read []byte, err error) {
	switch req.Syscall {
	case SYSTerminateUser:
		k.SupportTerminate(id)
		return 0, nil, nil

	case SYSGetTOD:
		return k.GetTOD(), nil, nil

	case SYSWriteToPrinter:
		n, err := k.WriteToPrinter(req.DevNum, req.Write)
		return int64(n), nil, err

	case SYSWriteToTerminal:
		n, err := k.WriteToTerminal(req.DevNum, req.Write)
		return int64(n), nil, err

	case SYSReadFromTerminal:
		data, err := k.ReadFromTerminal(req.DevNum, req.ReadLen)
		return int64(len(data)), data, err

	case SYSDiskPut:
		if req.Buf == nil {
			return -1, nil, fmt.Errorf("kernel: SYS14 disk put: nil buffer")
		}
		return 0, nil, k.DiskPut(req.DevNum, req.Sector, req.Buf)

	case SYSDiskGet:
		if req.Buf == nil {
			return -1, nil, fmt.Errorf("kernel: SYS15 disk get: nil buffer")
		}
		return 0, nil, k.DiskGet(req.DevNum, req.Sector, req.Buf)

	case SYSFlashPut:
		if req.Buf == nil {
			return -1, nil, fmt.Errorf("kernel: SYS16 flash put: nil buffer")
		}
		return 0, nil, k.FlashPut(req.DevNum, req.Sector, req.Buf)

	case SYSFlashGet:
		if req.Buf == nil {
			return -1, nil, fmt.Errorf("kernel: SYS17 flash get: nil buffer")
		}
		return 0, nil, k.FlashGet(req.DevNum, req.Sector, req.Buf)

	case SYSDelay:
		return 0, nil, k.Delay(req.Seconds)

	case SYSLogicalP:
		return 0, nil, k.LogicalP(req.Key)

	case SYSLogicalV:
		return 0, nil, k.LogicalV(req.Key)

	default:
		return -1, nil, fmt.Errorf("kernel: unknown support syscall %d", req.Syscall)
	}
}
