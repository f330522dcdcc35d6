package v1alpha1

import "strings"

// StringToJobStatus parses a status regardless of its case.
func StringToJobStatus(s string) (JobStatus, bool) {
	status := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	return status, status.Valid()
}
