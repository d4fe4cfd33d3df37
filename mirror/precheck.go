package mirror

import (
	"fmt"
	"go/version"
	"strings"

	"github.com/quay/nspmirror"
)

// MinimumGoVersion is the oldest runtime that can negotiate TLS with the
// advisory feed.
const MinimumGoVersion = "go1.22"

// Precheck reports an error of kind [nspmirror.ErrPrecondition] if the
// runtime version v is too old to talk to the feed.
//
// V is in the form returned by [runtime.Version]. Development builds are
// always accepted.
func Precheck(v string) error {
	const op = `mirror/Precheck`
	if strings.HasPrefix(v, "devel") {
		return nil
	}
	if f := strings.Fields(v); len(f) != 0 {
		v = f[0]
	}
	if !version.IsValid(v) {
		return &nspmirror.Error{
			Op:      op,
			Kind:    nspmirror.ErrPrecondition,
			Message: fmt.Sprintf("unrecognized runtime version %q", v),
		}
	}
	if version.Compare(v, MinimumGoVersion) < 0 {
		return &nspmirror.Error{
			Op:      op,
			Kind:    nspmirror.ErrPrecondition,
			Message: fmt.Sprintf("runtime %s is older than %s", v, MinimumGoVersion),
		}
	}
	return nil
}
