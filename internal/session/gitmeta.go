package session

import (
	"errors"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// captureGitInfo reads repository context for a project path: branch, HEAD
// commit and total commit count. Returns an error when the path is not
// inside a repository; callers treat that as "no git info", not a failure.
func captureGitInfo(projectPath string) (*GitInfo, error) {
	if projectPath == "" {
		return nil, errors.New("no project path")
	}
	repo, err := git.PlainOpenWithOptions(projectPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, err
	}

	info := &GitInfo{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	} else {
		info.Branch = "detached"
	}

	if commit, err := repo.CommitObject(head.Hash()); err == nil {
		info.CommitTime = commit.Committer.When.UTC()
	}

	if iter, err := repo.Log(&git.LogOptions{From: head.Hash()}); err == nil {
		count := 0
		_ = iter.ForEach(func(*object.Commit) error {
			count++
			return nil
		})
		info.CommitCount = count
	}

	return info, nil
}
