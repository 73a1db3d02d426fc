// Package schema validates command params against JSON Schema (draft 7)
// before a command reaches the plugin.
//
// The validator is loaded from the contracts catalogue and plugs into the
// bridge as its params validator:
//
//	validator, err := schema.NewCatalogueValidator()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b, err := bridge.New(listener, bridge.WithValidator(validator))
//
// Invalid params fail with *contracts.ValidationError and are never sent.
// Command types without a schema pass through unless WithStrictTypes is set.
package schema
