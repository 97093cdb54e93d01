package task

// Kind tags the operation a task carries out. The core never inspects a
// task's Payload beyond this tag — kind-specific interpretation belongs to
// the Executor the host registers.
type Kind string

const (
	KindSearch Kind = "search"
	KindRead   Kind = "read"
	KindWrite  Kind = "write"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSearch, KindRead, KindWrite, KindUpdate, KindDelete:
		return true
	default:
		return false
	}
}
