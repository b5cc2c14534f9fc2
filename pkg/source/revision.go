// Package source describes the tree being deployed.
package source

import (
	"gopkg.in/src-d/go-git.v4"

	"github.com/sidkik/ship/pkg/errors"
)

// ErrNotRepository is returned by Revision when the tree isn't inside a git
// checkout.
var ErrNotRepository = git.ErrRepositoryNotExists

// Revision returns the commit hash checked out at `path`. Parent directories
// are searched for the repository, so `path` can be a subdirectory of the
// checkout.
func Revision(path string) (string, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", errors.WithContext(err, "open repository")
	}

	head, err := repo.Head()
	if err != nil {
		return "", errors.WithContext(err, "resolve HEAD")
	}
	return head.Hash().String(), nil
}
