package app

import (
	"io"

	"github.com/specialistvlad/tickgraph/internal/registry"
	"github.com/specialistvlad/tickgraph/internal/subgraph"
	"github.com/specialistvlad/tickgraph/modules/buffer"
	"github.com/specialistvlad/tickgraph/modules/device"
	"github.com/specialistvlad/tickgraph/modules/env_vars"
	"github.com/specialistvlad/tickgraph/modules/http_request"
	"github.com/specialistvlad/tickgraph/modules/logic"
	"github.com/specialistvlad/tickgraph/modules/print"
	"github.com/specialistvlad/tickgraph/modules/statemachine"
	"github.com/specialistvlad/tickgraph/modules/timing"
)

// coreModules is the definitive list of all node modules compiled into the
// tickgraph binary. util.print writes to out.
func coreModules(out io.Writer) []registry.Module {
	return []registry.Module{
		&logic.Module{},
		&timing.Module{},
		&statemachine.Module{},
		&buffer.Module{},
		&device.Module{},
		&env_vars.Module{},
		&print.Module{Out: out},
		&http_request.Module{},
		subgraph.Module{},
	}
}
