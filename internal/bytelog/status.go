package bytelog

import (
	"reflect"

	"github.com/JeffreyRichter/enum/enum"
)

// Status is the three-value cache state machine: InProcess -> Success | Failed.
// Modeled as a closed enum type rather than an interface hierarchy, matching
// the corpus convention for small fixed state sets (see azcopy's LogLevel).
type Status uint8

const (
	statusInProcess Status = iota
	statusSuccess
	statusFailed
)

var EStatus = Status(statusInProcess)

func (Status) InProcess() Status { return statusInProcess }
func (Status) Success() Status   { return statusSuccess }
func (Status) Failed() Status    { return statusFailed }

func (s *Status) Parse(val string) error {
	parsed, err := enum.ParseInt(reflect.TypeOf(s), val, true, true)
	if err == nil {
		*s = parsed.(Status)
	}
	return err
}

func (s Status) String() string {
	switch s {
	case EStatus.InProcess():
		return "InProcess"
	case EStatus.Success():
		return "Success"
	case EStatus.Failed():
		return "Failed"
	default:
		return enum.StringInt(s, reflect.TypeOf(s))
	}
}

// Terminal reports whether s is a final state (Success or Failed).
func (s Status) Terminal() bool {
	return s != statusInProcess
}
