package domain

import "errors"

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotMember       = errors.New("user is not a member of the room")
	ErrNotAuthor       = errors.New("only the author can modify the message")
	ErrEmptyContent    = errors.New("empty message content")
	ErrContentTooLong  = errors.New("message content too long")
	ErrBadKind         = errors.New("unsupported message kind")
	ErrMissingFile     = errors.New("file attachment required for this kind")
)
