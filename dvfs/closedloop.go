package dvfs

// ClosedLoop is a hardware voltage loop that has to be held off while a
// transition is in progress. Start is called before the first voltage or
// clock write, Stop after the last one with the index of the new operating
// point so the loop can re-anchor on its rail.
type ClosedLoop interface {
	Start() error
	Stop(index int) error
}

// NoClosedLoop is used when the domain has no closed loop.
type NoClosedLoop struct{}

func (NoClosedLoop) Start() error { return nil }

func (NoClosedLoop) Stop(int) error { return nil }
