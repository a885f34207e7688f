// Package adapter converts platform-specific repository activity into
// knowledge-base changesets.
package adapter

import (
	"context"

	"github.com/Yates-Labs/knowhow/internal/kb"
)

// Platform identifies where a repository's activity came from
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformGit    Platform = "git"
)

// Adapter defines the interface for converting platform-specific pull
// requests into kb.Changeset values
type Adapter interface {
	// ConvertPullRequest converts a platform-specific pull request to a changeset
	ConvertPullRequest(pr interface{}) (*kb.Changeset, error)

	// GetPlatform returns the source platform identifier
	GetPlatform() Platform

	// FetchRepository fetches repository metadata from the platform
	FetchRepository(ctx context.Context, token, owner, repo string) (*kb.Repository, error)

	// FetchChangesets fetches merged pull requests as changesets
	FetchChangesets(ctx context.Context, token, owner, repo string) ([]kb.Changeset, error)

	// FetchChangeset fetches a single pull request by number
	FetchChangeset(ctx context.Context, token, owner, repo string, number int) (*kb.Changeset, error)
}
