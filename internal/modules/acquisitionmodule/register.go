package acquisitionmodule

import (
	"github.com/mantonx/cinerelay/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

// Register registers the acquisition module with the module system
func Register() {
	modulemanager.Register(&Module{})
}
