package ldap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Fault names a failure that can be injected into directory operations.
type Fault string

const (
	FaultSearchFail    Fault = "LDAP_SEARCH_FAIL"
	FaultAddFail       Fault = "LDAP_ADD_FAIL"
	FaultModifyFail    Fault = "LDAP_MODIFY_FAIL"
	FaultDeleteFail    Fault = "LDAP_DELETE_FAIL"
	FaultPoolExhausted Fault = "POOL_EXHAUSTED"
)

// FaultMode controls how often an armed fault fires.
type FaultMode string

const (
	FailOnce   FaultMode = "FAIL_ONCE"
	FailAlways FaultMode = "FAIL_ALWAYS"
	FailNTimes FaultMode = "FAIL_N_TIMES"
	SkipNTimes FaultMode = "SKIP_FIRST_N_TIMES"
)

var (
	ErrUnknownFault   = errors.New("unknown fault")
	ErrUnknownMode    = errors.New("unknown fault mode")
	ErrFaultInjection = errors.New("fault injection disabled")
)

type faultState struct {
	mode  FaultMode
	fail  int // remaining failures for FailOnce/FailNTimes
	skip  int // remaining passes for SkipNTimes
	fired int
}

// FaultInjector holds armed faults. A nil *FaultInjector never fires.
type FaultInjector struct {
	mu    sync.Mutex
	armed map[Fault]*faultState
}

// NewFaultInjector returns an injector with no armed faults.
func NewFaultInjector() *FaultInjector {
	return &FaultInjector{armed: make(map[Fault]*faultState)}
}

// ParseFault validates a fault name.
func ParseFault(name string) (Fault, error) {
	switch f := Fault(name); f {
	case FaultSearchFail, FaultAddFail, FaultModifyFail, FaultDeleteFail, FaultPoolExhausted:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFault, name)
}

// Inject arms fault. n is the failure count for FailNTimes and the number
// of passes before failing for SkipNTimes; it is ignored otherwise.
func (f *FaultInjector) Inject(fault Fault, mode FaultMode, n int) error {
	if f == nil {
		return ErrFaultInjection
	}

	state := &faultState{mode: mode}
	switch mode {
	case FailOnce:
		state.fail = 1
	case FailAlways:
	case FailNTimes:
		if n <= 0 {
			return fmt.Errorf("%s requires a positive count", mode)
		}
		state.fail = n
	case SkipNTimes:
		if n < 0 {
			return fmt.Errorf("%s requires a non-negative count", mode)
		}
		state.skip = n
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	f.mu.Lock()
	f.armed[fault] = state
	f.mu.Unlock()
	return nil
}

// Reset disarms fault.
func (f *FaultInjector) Reset(fault Fault) error {
	if f == nil {
		return ErrFaultInjection
	}
	f.mu.Lock()
	delete(f.armed, fault)
	f.mu.Unlock()
	return nil
}

// Armed reports whether fault is currently armed.
func (f *FaultInjector) Armed(fault Fault) bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[fault]
	return ok
}

// fire consumes one evaluation of fault and reports whether it fails.
func (f *FaultInjector) fire(fault Fault) bool {
	if f == nil || fault == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	state, ok := f.armed[fault]
	if !ok {
		return false
	}

	switch state.mode {
	case FailAlways:
	case SkipNTimes:
		if state.skip > 0 {
			state.skip--
			return false
		}
	default:
		state.fail--
		if state.fail <= 0 {
			delete(f.armed, fault)
		}
	}
	state.fired++
	return true
}

// check returns the error an armed fault produces, or nil.
func (f *FaultInjector) check(ctx context.Context, fault Fault) error {
	if !f.fire(fault) {
		return nil
	}

	tflog.SubsystemWarn(ctx, SubsystemLDAP, "Injected fault fired", map[string]any{
		"fault": string(fault),
	})

	if fault == FaultPoolExhausted {
		return fmt.Errorf("%w: injected %s", ErrPoolExhausted, fault)
	}
	return ldap.NewError(ldap.LDAPResultUnavailable, fmt.Errorf("injected %s", fault))
}

// faultFor maps a client operation to the fault that can fail it.
func faultFor(operation string) Fault {
	switch operation {
	case "search":
		return FaultSearchFail
	case "add":
		return FaultAddFail
	case "modify", "modify_dn":
		return FaultModifyFail
	case "delete":
		return FaultDeleteFail
	default:
		return ""
	}
}
