package orchestrator

import (
	"strconv"
	"strings"

	"github.com/Yates-Labs/knowhow/internal/adapter"
)

// extractRepoName extracts the repository name from a path or URL
func extractRepoName(repo string) string {
	repo = strings.TrimSuffix(repo, "/")
	if i := strings.LastIndexAny(repo, "/:"); i >= 0 && i < len(repo)-1 {
		repo = repo[i+1:]
	}
	if len(repo) > 4 {
		repo = strings.TrimSuffix(repo, ".git")
	}
	return repo
}

// detectPlatform detects the source platform from a repository URL
// Returns platform, owner, and repo name
func detectPlatform(repoURL string) (adapter.Platform, string, string) {
	// Check for GitHub
	if strings.Contains(repoURL, "github.com") {
		owner, repo := parseHostedGitURL(repoURL, "github.com")
		return adapter.PlatformGitHub, owner, repo
	}

	// Default to Git for local paths or unknown URLs
	return adapter.PlatformGit, "", extractRepoName(repoURL)
}

// parseHostedGitURL is a generic parser for hosted git services
func parseHostedGitURL(url, host string) (owner, repo string) {
	// Remove protocol if present
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "git@")

	// Replace colon with slash for SSH URLs
	url = strings.Replace(url, ":", "/", 1)

	// Remove host prefix
	url = strings.TrimPrefix(url, host+"/")

	// Remove trailing .git
	url = strings.TrimSuffix(url, ".git")

	// Remove trailing slash
	url = strings.TrimSuffix(url, "/")

	// Split into parts
	parts := strings.Split(url, "/")
	if len(parts) >= 2 {
		return parts[0], parts[1]
	}

	return "", url
}

// pullRequestNumber returns N for a ".../pull/N" URL and 0 otherwise
func pullRequestNumber(repoURL string) int {
	parts := strings.Split(strings.TrimSuffix(repoURL, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] != "pull" {
			continue
		}
		n, err := strconv.Atoi(parts[i+1])
		if err != nil || n <= 0 {
			return 0
		}
		return n
	}
	return 0
}

// githubWebURL returns the browsable URL of a GitHub repository
func githubWebURL(owner, repo string) string {
	return "https://github.com/" + owner + "/" + repo
}
