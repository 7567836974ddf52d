package backend

import (
	"errors"
	"fmt"
)

// Kind classifies a backend failure by the scope it is fatal to.
type Kind int

const (
	KindOperation Kind = iota
	KindConfiguration
	KindAuthentication
	KindConnectivity
)

var (
	ErrOperation      = errors.New("operation failed")
	ErrConfiguration  = errors.New("invalid configuration")
	ErrAuthentication = errors.New("authentication failed")
	ErrConnectivity   = errors.New("remote unreachable")
	ErrUnknownBackend = errors.New("unknown backend")
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindConnectivity:
		return "connectivity"
	default:
		return "operation"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindAuthentication:
		return ErrAuthentication
	case KindConnectivity:
		return ErrConnectivity
	default:
		return ErrOperation
	}
}

// ConnectionScoped reports whether a fault of this kind aborts the whole connection.
func (k Kind) ConnectionScoped() bool {
	return k == KindConfiguration || k == KindAuthentication || k == KindConnectivity
}

// Fault is the error type returned by backend operations.
type Fault struct {
	Kind    Kind
	Backend string
	Op      string
	Path    string
	Err     error
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s %s", f.Backend, f.Op)
	if f.Path != "" {
		msg += " " + f.Path
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind.sentinel()}
	}
	return []error{f.Kind.sentinel(), f.Err}
}

func newFault(kind Kind, backend, op, path string, err error) *Fault {
	return &Fault{Kind: kind, Backend: backend, Op: op, Path: path, Err: err}
}

func ConfigurationFault(backend, op string, err error) *Fault {
	return newFault(KindConfiguration, backend, op, "", err)
}

func AuthenticationFault(backend, op string, err error) *Fault {
	return newFault(KindAuthentication, backend, op, "", err)
}

func ConnectivityFault(backend, op string, err error) *Fault {
	return newFault(KindConnectivity, backend, op, "", err)
}

func OperationFault(backend, op, path string, err error) *Fault {
	return newFault(KindOperation, backend, op, path, err)
}

// KindOf returns the kind of the first Fault in err's chain. Errors that are
// not faults are operation failures of the enclosing unit.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindOperation
}
