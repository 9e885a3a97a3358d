package services

import "errors"

// Policy violations. These are terminal for the triggering request:
// handlers translate them into a single chat notification and do not
// retry. Transient store errors are wrapped and propagate instead, so
// the job runner's backoff applies.
var (
	ErrWindowClosed       = errors.New("rank: window not open for admission")
	ErrTaskClosed         = errors.New("rank: task phase not open")
	ErrQueueFull          = errors.New("rank: queue full")
	ErrNotPresent         = errors.New("rank: member not in queue")
	ErrUnknownWeight      = errors.New("rank: weight token not in vocabulary")
	ErrSelfTransfer       = errors.New("rank: cannot transfer to self")
	ErrWithdrawForbidden  = errors.New("rank: withdrawal disabled during task phase")
	ErrCheckinGroupLimit  = errors.New("checkin: concurrent away limit reached")
	ErrCheckinMemberLimit = errors.New("checkin: member hourly limit reached")
	ErrNoOpenCheckin      = errors.New("checkin: no open record to return to")
)

// IsPolicyViolation reports whether the error is an expected rule
// rejection rather than an infrastructure failure.
func IsPolicyViolation(err error) bool {
	for _, policyErr := range []error{
		ErrWindowClosed, ErrTaskClosed, ErrQueueFull, ErrNotPresent,
		ErrUnknownWeight, ErrSelfTransfer, ErrWithdrawForbidden,
		ErrCheckinGroupLimit, ErrCheckinMemberLimit, ErrNoOpenCheckin,
	} {
		if errors.Is(err, policyErr) {
			return true
		}
	}
	return false
}
