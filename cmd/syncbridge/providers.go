package main

import (
	"github.com/Strob0t/syncbridge/internal/adapter/restledger"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
)

// registerVendors adds every built-in vendor adapter to the catalog.
// Add new vendors here as they are implemented.
func registerVendors(catalog *adapter.Catalog) {
	restledger.Register(catalog)
}
