package nsp

import (
	"errors"
	"strings"

	"github.com/package-url/packageurl-go"
)

// PURLType is the package URL type for the modules the feed describes.
var PURLType = packageurl.TypeNPM

// PackageURL returns the versionless package URL for an npm module name.
//
// Scoped names ("@scope/name") put the scope in the namespace.
// Example: pkg:npm/%40angular/core
func PackageURL(module string) (packageurl.PackageURL, error) {
	module = strings.TrimSpace(module)
	if module == "" {
		return packageurl.PackageURL{}, errors.New("nsp: empty module name")
	}
	var ns string
	name := module
	if strings.HasPrefix(module, "@") {
		var ok bool
		ns, name, ok = strings.Cut(module, "/")
		if !ok || name == "" || ns == "@" {
			return packageurl.PackageURL{}, errors.New("nsp: malformed scoped module name: " + module)
		}
	}
	return packageurl.PackageURL{
		Type:      PURLType,
		Namespace: ns,
		Name:      name,
	}, nil
}
