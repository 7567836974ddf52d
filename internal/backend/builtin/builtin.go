// Package builtin wires every backend shipped with kitovu into a registry.
package builtin

import (
	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/backend/local"
	"github.com/kitovu/kitovu/internal/backend/moodle"
	"github.com/kitovu/kitovu/internal/backend/s3"
	"github.com/kitovu/kitovu/internal/backend/smb"
)

func Registry(deps backend.Deps) *backend.Registry {
	r := backend.NewRegistry(deps)
	r.Register(smb.Name, smb.New)
	r.Register(moodle.Name, moodle.New)
	r.Register(s3.Name, s3.New)
	r.Register(local.Name, local.New)
	return r
}
