// Package classifier turns a module's exports into API elements.
//
// Two strategies exist, chosen by the role a module plays:
//
//   - index modules (public/index.ts, server/index.ts) expose static exports:
//     every top-level exported declaration becomes one element, except the
//     plugin and config factories
//   - plugin modules (public/plugin.ts, server/plugin.ts) expose contract
//     exports: the members of the values returned by the plugin class's
//     setup and start lifecycle methods
//
// The platform core unit is special-cased: its CoreSetup and CoreStart
// interfaces are static exports on an index module but are expanded member by
// member with the matching lifecycle stage.
//
// # Failure handling
//
// Errors and panics raised while inspecting one declaration are recovered,
// logged and counted in Stats; the remaining declarations are still
// classified. Skipped shapes are always logged.
//
// # Usage
//
//	c := classifier.New(classifier.Options{Logger: logger})
//	elems, err := c.Classify(module, unit)
//	for _, e := range elems {
//	    fmt.Println(e.ID, e.Kind)
//	}
package classifier
