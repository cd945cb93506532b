// Package rollcall defines the platform-neutral contracts shared by drivers,
// the kernel, and modules.
//
// Drivers translate chat platform traffic into Event values and publish them
// through an EventDispatcher. Modules subscribe to events through the
// ModuleRuntime and answer through a SinkDispatcher resolved from the
// ServiceRegistry.
package rollcall
