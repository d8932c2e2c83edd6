package domain

import (
	"errors"
	"strings"
)

// ErrInvalidPath is returned for document paths that do not name a document.
var ErrInvalidPath = errors.New("invalid document path")

// ProjectsPath is the collection holding a user's projects.
func ProjectsPath(userID string) string {
	return "users/" + userID + "/projects"
}

// TodosPath is the collection holding the tasks of one project.
func TodosPath(userID, projectID string) string {
	return ProjectsPath(userID) + "/" + projectID + "/todos"
}

// DocPath addresses a single document inside a collection.
func DocPath(collection, id string) string {
	return collection + "/" + id
}

// SplitDocPath separates a document path into its collection and id.
func SplitDocPath(path string) (collection, id string, err error) {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 || i == len(path)-1 {
		return "", "", ErrInvalidPath
	}
	// collection paths have an odd number of segments
	if strings.Count(path[:i], "/")%2 != 0 {
		return "", "", ErrInvalidPath
	}
	return path[:i], path[i+1:], nil
}

// CollectionKind returns the last segment of a collection path, e.g. "todos".
func CollectionKind(collection string) string {
	if i := strings.LastIndexByte(collection, '/'); i >= 0 {
		return collection[i+1:]
	}
	return collection
}
