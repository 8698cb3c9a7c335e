package gateway

import (
	"errors"
	"fmt"

	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

// ErrDuplicateMethod is returned by Router.Register for an already registered name.
var ErrDuplicateMethod = errors.New("gateway: duplicate method")

// requestError builds a wire error. Handlers return these to pick the response code.
func requestError(code, format string, args ...any) *v1.ErrorShape {
	return &v1.ErrorShape{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalidParams(format string, args ...any) *v1.ErrorShape {
	return requestError(v1.CodeInvalidRequest, format, args...)
}

func notFound(format string, args ...any) *v1.ErrorShape {
	return requestError(v1.CodeNotFound, format, args...)
}

// toErrorShape maps a handler error to the wire. Unknown errors become internal without
// leaking their text.
func toErrorShape(err error) *v1.ErrorShape {
	if err == nil {
		return nil
	}
	var shape *v1.ErrorShape
	if errors.As(err, &shape) && shape != nil {
		return shape
	}
	return &v1.ErrorShape{Code: v1.CodeInternal, Message: "internal error"}
}
