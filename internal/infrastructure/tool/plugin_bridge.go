package tool

import (
	"context"

	domaintool "github.com/turnengine/turnengine/internal/domain/tool"
	"github.com/turnengine/turnengine/internal/infrastructure/plugin"
)

// dynamicTool wraps a plugin-supplied handler so it can be registered into
// the same domaintool.Registry that built-in tools use.
type dynamicTool struct {
	name        string
	description string
	schema      map[string]interface{}
	handler     func(args map[string]interface{}) (string, error)
}

func (d *dynamicTool) Name() string                  { return d.name }
func (d *dynamicTool) Description() string           { return d.description }
func (d *dynamicTool) Kind() domaintool.Kind          { return domaintool.KindExecute }
func (d *dynamicTool) Schema() map[string]interface{} { return d.schema }

func (d *dynamicTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	out, err := d.handler(args)
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	return &domaintool.Result{Output: out, Success: true}, nil
}

// RegistryBridge adapts a domaintool.Registry to plugin.ToolRegistrar so
// hot-loaded plugins can register and deregister tools through it.
type RegistryBridge struct {
	Registry domaintool.Registry
}

func (b *RegistryBridge) RegisterDynamic(name, description string, schema map[string]interface{}, handler func(args map[string]interface{}) (string, error)) error {
	return b.Registry.Register(&dynamicTool{name: name, description: description, schema: schema, handler: handler})
}

func (b *RegistryBridge) Unregister(name string) {
	_ = b.Registry.Unregister(name)
}

var _ plugin.ToolRegistrar = (*RegistryBridge)(nil)
