package domain

import (
	"errors"
	"fmt"
	"net"
)

var (
	// Common domain errors
	ErrNotFound         = errors.New("entity not found")
	ErrAlreadyExists    = errors.New("entity already exists")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrProjectBusy      = errors.New("project has a job in flight")
	ErrDeployTimeout    = errors.New("deployment polling timed out")
	ErrDeployCrashed    = errors.New("deployment failed on the compute platform")
	ErrNoFilesToDeploy  = errors.New("project has no files to deploy")
	ErrQueueUnavailable = errors.New("job queue unavailable")
	ErrJobTimeout       = errors.New("job exceeded its wall-clock timeout")

	// Storage-layer errors
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)

// RemoteError carries the HTTP status of a failed external platform call so
// the resilience layer can decide whether the failure is worth retrying.
type RemoteError struct {
	Op     string // e.g. "compute.trigger_deploy"
	Status int    // HTTP status, 0 when the request never completed
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying: network timeouts,
// connection resets and 5xx responses. Validation and 4xx responses are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		if re.Status >= 500 {
			return true
		}
		if re.Status >= 400 {
			return false
		}
		// Status 0 means the request never got a response; fall through
		// to the network checks against the wrapped error.
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
