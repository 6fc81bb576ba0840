package codingloop

import "github.com/Iron-Ham/issueforge/internal/capability"

// DecideDefault maps a review verdict to a loop action on the reviewer-only
// path. Blocking always wins over approval.
func DecideDefault(review capability.ReviewResult) string {
	switch {
	case review.Blocking:
		return capability.ActionBlock
	case review.Approved:
		return capability.ActionApprove
	default:
		return capability.ActionFix
	}
}

// DecideFallback is used on the QA path when the synthesizer is unavailable.
func DecideFallback(qa capability.QAResult, review capability.ReviewResult) string {
	switch {
	case review.Blocking:
		return capability.ActionBlock
	case qa.Passed && review.Approved:
		return capability.ActionApprove
	default:
		return capability.ActionFix
	}
}

func validAction(a string) bool {
	switch a {
	case capability.ActionApprove, capability.ActionFix, capability.ActionBlock:
		return true
	}
	return false
}
