package vfs

import "errors"

var (
	ErrNotDirectory   = errors.New("vfs: not a directory")
	ErrIsDirectory    = errors.New("vfs: is a directory")
	ErrNoSuchPath     = errors.New("vfs: no such path")
	ErrNoSuchVersion  = errors.New("vfs: no such version")
	ErrForeignLocator = errors.New("vfs: locator names another repository or branch")
	ErrClosed         = errors.New("vfs: session closed")
)
