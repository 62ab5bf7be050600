// Package loader provides the plugin-like feature loading system.
//
// Each feature implements the Feature interface and registers its routes when
// loaded. The Manager keeps the registry and loads enabled features in order.
//
//	type Feature interface {
//	    Name() string
//	    IsEnabled() bool
//	    Load(app fiber.Router) error
//	}
package loader
