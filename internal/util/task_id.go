package util

import (
	"fmt"
	"strings"
)

// FullNameDelimiter separates a project name from a task name in a full name.
const FullNameDelimiter = "#"

// FullName returns the project#task identifier for a project/task pair.
// If target already has the project#task shape it is returned unmodified.
func FullName(projectName interface{}, target string) string {
	if IsFullName(target) {
		return target
	}
	return fmt.Sprintf("%v%v%v", projectName, FullNameDelimiter, target)
}

// SplitFullName returns the project name and task name portions of a
// project#task identifier.
func SplitFullName(fullName string) (projectName string, taskName string) {
	idx := strings.Index(fullName, FullNameDelimiter)
	if idx < 0 {
		return "", fullName
	}
	return fullName[:idx], fullName[idx+1:]
}

// IsFullName returns true if s has the project#task shape.
func IsFullName(s string) bool {
	return strings.Index(s, FullNameDelimiter) > 0
}

// TaskName strips the project portion off a full name, if present.
func TaskName(s string) string {
	if IsFullName(s) {
		_, task := SplitFullName(s)
		return task
	}
	return s
}
