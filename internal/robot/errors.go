package robot

import (
	"fmt"
	"strings"
	"time"
)

type ReadinessTimeoutError struct {
	Endpoint   string
	Timeout    time.Duration
	LastDetail string
}

func (e *ReadinessTimeoutError) Error() string {
	msg := fmt.Sprintf("%s not ready after %s", e.Endpoint, e.Timeout)
	if e.LastDetail != "" {
		msg += ": last error: " + e.LastDetail
	}
	return msg
}

type UnreachableError struct {
	Hosts []string
	Err   error
}

func (e *UnreachableError) Error() string {
	msg := fmt.Sprintf("no reachable robot among %s", strings.Join(e.Hosts, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnreachableError) Unwrap() error { return e.Err }

type AmbiguousHostError struct {
	Hosts []string
}

func (e *AmbiguousHostError) Error() string {
	return fmt.Sprintf("multiple robots reachable (%s), pass --host or --pick-first", strings.Join(e.Hosts, ", "))
}
