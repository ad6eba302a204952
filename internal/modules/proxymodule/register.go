package proxymodule

import (
	"github.com/mantonx/cinerelay/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

// Register registers the proxy module with the module system
func Register() {
	modulemanager.Register(&Module{})
}
