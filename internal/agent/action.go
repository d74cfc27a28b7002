package agent

import "github.com/kalambet/opsai/internal/toolcall"

// Action is a tool call returned by the core. It is either AutoExecutable
// or PendingApproval; Classify is the only place that decides which.
type Action interface {
	Invocation() toolcall.Invocation
	sealed()
}

// AutoExecutable is a read-only tool call the caller runs immediately.
type AutoExecutable struct {
	Call toolcall.Invocation
}

// PendingApproval is a mutating (or unknown) tool call that must wait for
// explicit user approval.
type PendingApproval struct {
	Call toolcall.Invocation
}

func (a AutoExecutable) Invocation() toolcall.Invocation  { return a.Call }
func (a PendingApproval) Invocation() toolcall.Invocation { return a.Call }

func (AutoExecutable) sealed()  {}
func (PendingApproval) sealed() {}

// Classify applies the safety policy: read-only tools run automatically,
// everything else needs approval.
func Classify(inv toolcall.Invocation) Action {
	if inv.Kind().Safe() {
		return AutoExecutable{Call: inv}
	}
	return PendingApproval{Call: inv}
}

// IsSafe reports whether a is auto-executable.
func IsSafe(a Action) bool {
	_, ok := a.(AutoExecutable)
	return ok
}
