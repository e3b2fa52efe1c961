package branch

import (
	"errors"
	"fmt"
	"strings"
)

var errEmptyBranch = errors.New("branch cannot be empty")

// Normalize trims whitespace, strips a refs/heads/ prefix, and removes
// leading/trailing slashes from a branch name. It returns an empty string when
// the normalized branch would otherwise be empty.
func Normalize(name string) string {
	name = stripHeads(strings.TrimSpace(name))
	name = strings.Trim(name, "/")
	return strings.TrimSpace(name)
}

func stripHeads(name string) string {
	const heads = "refs/heads/"
	if len(name) >= len(heads) && strings.EqualFold(name[:len(heads)], heads) {
		return name[len(heads):]
	}
	return name
}

// Validate ensures a branch name conforms to simple git ref safety checks.
func Validate(name string) error {
	if name == "" {
		return errEmptyBranch
	}

	if strings.ContainsAny(name, " \t\n\r") {
		return errors.New("branch cannot contain whitespace")
	}

	if strings.Contains(name, "..") {
		return errors.New("branch cannot contain '..'")
	}

	if strings.ContainsAny(name, "~^:?*[]@{\\") {
		return errors.New("branch contains forbidden git characters")
	}

	if strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("branch cannot end with %q", name[strings.LastIndex(name, "."):])
	}

	return nil
}

// HasPrefix reports whether the head ref of a pull request starts with the
// literal prefix. An empty prefix matches every branch. refs/heads/ is ignored
// on both sides; slashes in the prefix are significant.
func HasPrefix(headRef, prefix string) bool {
	prefix = stripHeads(strings.TrimSpace(prefix))
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(stripHeads(strings.TrimSpace(headRef)), prefix)
}
