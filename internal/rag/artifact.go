package rag

import (
	"fmt"
	"strings"

	"github.com/Yates-Labs/knowhow/internal/kb"
)

/*
Title: Add gRPC retry logic. Body: Retries unary calls with exponential backoff.
Files: internal/rpc/retry.go
Technologies: Go, gRPC
*/

// BuildArtifactText renders the document embedded for a changeset.
// Pull requests embed title and body; commits embed their message.
func BuildArtifactText(cs kb.Changeset) string {
	var b strings.Builder

	switch cs.Kind {
	case kb.KindCommit:
		msg := strings.TrimSpace(cs.Title)
		if body := strings.TrimSpace(cs.Body); body != "" {
			msg += "\n\n" + body
		}
		fmt.Fprintf(&b, "Commit message: %s", msg)
	default:
		fmt.Fprintf(&b, "Title: %s. Body: %s", strings.TrimSpace(cs.Title), strings.TrimSpace(cs.Body))
	}

	if paths := filePaths(cs.Files, 10); len(paths) > 0 {
		fmt.Fprintf(&b, "\nFiles: %s", strings.Join(paths, ", "))
		if len(cs.Files) > len(paths) {
			fmt.Fprintf(&b, " (+%d more)", len(cs.Files)-len(paths))
		}
	}

	if techs := changesetTechnologies(cs); len(techs) > 0 {
		fmt.Fprintf(&b, "\nTechnologies: %s", strings.Join(techs, ", "))
	}

	return b.String()
}

// ArtifactsFromChangesets converts changesets into indexable artifacts
func ArtifactsFromChangesets(changesets []kb.Changeset) []Artifact {
	artifacts := make([]Artifact, 0, len(changesets))
	for _, cs := range changesets {
		if cs.ID == "" {
			continue
		}
		artifacts = append(artifacts, Artifact{
			ID:           cs.ID,
			Kind:         string(cs.Kind),
			RepositoryID: cs.RepositoryID,
			Text:         BuildArtifactText(cs),
			Author:       cs.AuthorHandle,
			CreatedAt:    cs.CreatedAt,
		})
	}
	return artifacts
}

func filePaths(files []kb.FileChange, limit int) []string {
	var paths []string
	for _, f := range files {
		if f.Path == "" {
			continue
		}
		paths = append(paths, f.Path)
		if len(paths) == limit {
			break
		}
	}
	return paths
}

func changesetTechnologies(cs kb.Changeset) []string {
	seen := make(map[string]struct{})
	var techs []string
	for _, f := range cs.Files {
		for _, tech := range kb.DetectTechnologies(f.Path, f.Patch) {
			if _, ok := seen[tech]; ok {
				continue
			}
			seen[tech] = struct{}{}
			techs = append(techs, tech)
		}
	}
	return techs
}
