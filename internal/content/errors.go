package content

import "errors"

var ErrCommentsClosed = errors.New("comments are closed")
