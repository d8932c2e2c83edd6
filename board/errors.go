package board

import "errors"

var (
	ErrSelfDependency  = errors.New("cannot connect a task to itself")
	ErrTaskNotFound    = errors.New("task not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrNoProject       = errors.New("no active project")
	ErrNoIdentity      = errors.New("no signed in user")
)
