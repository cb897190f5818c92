// Package all imports all supported repository types.
//
// Import this package for its side effects to register every provider:
//
//	import (
//		"github.com/git-pkgs/repositories"
//		_ "github.com/git-pkgs/repositories/all"
//	)
//
//	types := repositories.SupportedTypes()
//	// ["maven"]
package all

import (
	_ "github.com/git-pkgs/repositories/internal/maven"
)
